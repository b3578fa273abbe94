package emit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/meter/internal/command"
	"firestige.xyz/meter/internal/encounter"
)

type controls struct {
	mu  sync.Mutex
	got []command.Control
}

func (c *controls) Submit(_ context.Context, ctl command.Control) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, ctl)
	return nil
}

func (c *controls) kinds() []command.ControlKind {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []command.ControlKind
	for _, ctl := range c.got {
		out = append(out, ctl.Kind)
	}
	return out
}

type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	srv := httptest.NewServer(NewServer("", "", "", hub).Handler())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var env envelope
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func write(t *testing.T, conn *websocket.Conn, msg string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(msg)))
}

func TestHub_SnapshotAndNotifications(t *testing.T) {
	hub, srv := newTestServer(t)
	hub.PublishSnapshot(json.RawMessage(`{"header":{"total_dmg":1}}`))

	conn := dial(t, srv)

	// the latest snapshot is sent on connect
	env := read(t, conn)
	assert.Equal(t, TypeSnapshot, env.Type)
	assert.JSONEq(t, `{"header":{"total_dmg":1}}`, string(env.Data))
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Notify(encounter.Notification{
		Kind: encounter.NotifyBossDeath,
		Data: encounter.BossDeathInfo{UID: 900, Name: "Tempest Ogre", AtMs: 5},
	})
	env = read(t, conn)
	assert.Equal(t, string(encounter.NotifyBossDeath), env.Type)
	assert.Contains(t, string(env.Data), "Tempest Ogre")

	hub.PublishSnapshot(json.RawMessage(`{"header":{"total_dmg":2}}`))
	env = read(t, conn)
	assert.Equal(t, TypeSnapshot, env.Type)
	assert.JSONEq(t, `{"header":{"total_dmg":2}}`, string(env.Data))
}

func TestHub_Commands(t *testing.T) {
	hub, srv := newTestServer(t)
	ctrl := &controls{}
	pub := &capture{}
	e := NewEmitter(fight(t), nil, pub, Config{})
	hub.SetHandler(command.NewHandler(ctrl, e, nil))

	conn := dial(t, srv)

	write(t, conn, `{"cmd":"toggle_pause","id":"1"}`)
	env := read(t, conn)
	assert.Equal(t, TypeResponse, env.Type)
	var resp command.Response
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Equal(t, "1", resp.ID)
	assert.Nil(t, resp.Error)
	assert.Equal(t, []command.ControlKind{command.ControlTogglePause}, ctrl.kinds())

	write(t, conn, `{"cmd":"subscribe","id":"2","uid":1,"metric":"dps"}`)
	env = read(t, conn)
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	assert.Nil(t, resp.Error)
	require.True(t, e.Emit())
	assert.Len(t, pub.last(t).Skills, 1)

	write(t, conn, `{"cmd":"subscribe","id":"3","uid":1,"metric":"mana"}`)
	env = read(t, conn)
	resp = command.Response{}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, command.ErrCodeInvalidParams, resp.Error.Code)

	write(t, conn, `not json`)
	env = read(t, conn)
	resp = command.Response{}
	require.NoError(t, json.Unmarshal(env.Data, &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, command.ErrCodeParseError, resp.Error.Code)
}

func TestHub_SnapshotEndpoint(t *testing.T) {
	hub, srv := newTestServer(t)

	res, err := http.Get(srv.URL + "/snapshot")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNoContent, res.StatusCode)

	hub.PublishSnapshot(json.RawMessage(`{"encounter_id":"enc-1"}`))
	res, err = http.Get(srv.URL + "/snapshot")
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"encounter_id":"enc-1"}`, string(body))

	res, err = http.Post(srv.URL+"/snapshot", "application/json", nil)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)
}

func TestHub_CloseEndsSessions(t *testing.T) {
	hub, srv := newTestServer(t)
	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	hub.Close()
	assert.Equal(t, 0, hub.Clients())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)

	// late connections are refused
	conn2 := dial(t, srv)
	_, _, err = conn2.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}
