package emit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"firestige.xyz/meter/internal/command"
	"firestige.xyz/meter/internal/encounter"
	"firestige.xyz/meter/internal/metrics"
)

const (
	// TypeSnapshot tags snapshot messages.
	TypeSnapshot = "snapshot"
	// TypeResponse tags command responses.
	TypeResponse = "response"

	clientBuffer = 64
	writeTimeout = 5 * time.Second
)

// Message is the envelope of every server to client message.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// clientCommand is a control message from a client. Remaining fields are
// passed to the handler as params.
type clientCommand struct {
	Cmd string `json:"cmd"`
	ID  string `json:"id"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans snapshots and notifications out to WebSocket clients and feeds
// their commands to a command handler.
type Hub struct {
	logger *slog.Logger

	mu       sync.RWMutex
	clients  map[*client]struct{}
	last     json.RawMessage
	handler  *command.Handler
	closed   bool
	closing  chan struct{}
	sessions sync.WaitGroup
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		logger:  slog.Default().With("component", "hub"),
		clients: make(map[*client]struct{}),
		closing: make(chan struct{}),
	}
}

// SetHandler sets the handler for client commands. Without one, commands are
// answered with an internal error.
func (h *Hub) SetHandler(handler *command.Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Notify pushes a lifecycle notification to every client.
func (h *Hub) Notify(n encounter.Notification) {
	h.broadcast(Message{Type: string(n.Kind), Data: n.Data})
}

// PublishSnapshot stores data as the latest snapshot and pushes it.
func (h *Hub) PublishSnapshot(data json.RawMessage) {
	h.mu.Lock()
	h.last = data
	h.mu.Unlock()
	h.broadcast(Message{Type: TypeSnapshot, Data: data})
}

// Snapshot returns the latest snapshot.
func (h *Hub) Snapshot() (json.RawMessage, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last, h.last != nil
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(m Message) {
	data, err := json.Marshal(m)
	if err != nil {
		h.logger.Error("encode message", "type", m.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		h.enqueue(c, data)
	}
}

// enqueue never blocks. A client that cannot keep up misses messages.
func (h *Hub) enqueue(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Debug("client send buffer full, dropping message")
	}
}

// ServeWS upgrades the request and runs the client session.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.logger.Debug("websocket accept failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientBuffer)}
	if !h.register(c) {
		conn.Close(websocket.StatusGoingAway, "server closing")
		return
	}
	defer h.sessions.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		select {
		case <-h.closing:
			cancel()
		case <-ctx.Done():
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, c)
	}()

	h.readLoop(ctx, c)
	h.unregister(c)
	cancel()
	<-done

	status := websocket.StatusNormalClosure
	select {
	case <-h.closing:
		status = websocket.StatusGoingAway
	default:
	}
	conn.Close(status, "")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.sessions.Add(1)
	metrics.WSClients.Set(float64(len(h.clients)))

	if h.last != nil {
		if data, err := json.Marshal(Message{Type: TypeSnapshot, Data: h.last}); err == nil {
			c.send <- data
		}
	}
	h.logger.Info("client connected", "clients", len(h.clients))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	metrics.WSClients.Set(float64(len(h.clients)))
	h.logger.Info("client disconnected", "clients", len(h.clients))
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				h.logger.Debug("write failed", "error", err)
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.logger.Debug("read failed", "error", err)
			}
			return
		}

		resp := h.handle(ctx, data)
		out, err := json.Marshal(Message{Type: TypeResponse, Data: resp})
		if err != nil {
			continue
		}
		h.enqueue(c, out)
	}
}

func (h *Hub) handle(ctx context.Context, data []byte) command.Response {
	var msg clientCommand
	if err := json.Unmarshal(data, &msg); err != nil {
		return command.Response{Error: &command.ErrorInfo{
			Code:    command.ErrCodeParseError,
			Message: "parse error: " + err.Error(),
		}}
	}
	if msg.Cmd == "" {
		return command.Response{ID: msg.ID, Error: &command.ErrorInfo{
			Code:    command.ErrCodeInvalidRequest,
			Message: "cmd is required",
		}}
	}

	h.mu.RLock()
	handler := h.handler
	h.mu.RUnlock()
	if handler == nil {
		return command.Response{ID: msg.ID, Error: &command.ErrorInfo{
			Code:    command.ErrCodeInternalError,
			Message: "commands unavailable",
		}}
	}
	return handler.Handle(ctx, command.Command{Method: msg.Cmd, Params: data, ID: msg.ID})
}

// Close ends every session and waits for them to finish.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.closing)
	h.mu.Unlock()

	h.sessions.Wait()
}

// ServeSnapshot writes the latest snapshot, or 204 before the first one.
func (h *Hub) ServeSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	data, ok := h.Snapshot()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}
