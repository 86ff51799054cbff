// Package api serves the local status surface: a JSON snapshot endpoint and
// a WebSocket stream of order, fill, and market lifecycle events. The server
// is read-only; it never mutates engine state.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"updown-mm/internal/config"
)

// Server runs the status HTTP/WebSocket endpoint.
type Server struct {
	cfg      config.StatusConfig
	provider SnapshotProvider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the status server. fullCfg is only read for the snapshot's
// config summary.
func NewServer(fullCfg config.Config, provider SnapshotProvider, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, fullCfg, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", fullCfg.Status.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      fullCfg.Status,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start serves until Stop. Blocks; run in a goroutine.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("status server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("status server: %w", err)
	}
	return nil
}

// Stop drains connections and shuts the listener down.
func (s *Server) Stop() error {
	s.logger.Info("stopping status server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Broadcast pushes one event to every connected WebSocket client.
func (s *Server) Broadcast(evt StatusEvent) {
	s.hub.BroadcastEvent(evt)
}
