package emit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Server is the HTTP server for the WebSocket and snapshot endpoints.
type Server struct {
	addr         string
	wsPath       string
	snapshotPath string
	hub          *Hub
	server       *http.Server
}

// NewServer creates a server for hub. Empty paths take defaults.
func NewServer(addr, wsPath, snapshotPath string, hub *Hub) *Server {
	if wsPath == "" {
		wsPath = "/ws"
	}
	if snapshotPath == "" {
		snapshotPath = "/snapshot"
	}
	return &Server{
		addr:         addr,
		wsPath:       wsPath,
		snapshotPath: snapshotPath,
		hub:          hub,
	}
}

// Handler returns the HTTP handler serving both endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.wsPath, s.hub.ServeWS)
	mux.HandleFunc(s.snapshotPath, s.hub.ServeSnapshot)
	return mux
}

// Run serves until ctx is cancelled, then closes client sessions and shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	slog.Info("starting emit server", "addr", s.addr, "ws", s.wsPath, "snapshot", s.snapshotPath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			s.hub.Close()
			return fmt.Errorf("emit server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("emit server shutdown failed: %w", err)
	}
	slog.Info("emit server stopped")
	return nil
}
