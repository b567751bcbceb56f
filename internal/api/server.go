package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"dhan-scalper-sub003/internal/config"
	"dhan-scalper-sub003/pkg/types"
)

// Server runs the read-only HTTP/WebSocket introspection API (the
// dashboard surface: status/balance/positions/report).
type Server struct {
	cfg      config.DashboardConfig
	provider Provider
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server.
func NewServer(cfg config.DashboardConfig, provider Provider, fullCfg config.Config, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(provider, fullCfg.Dashboard, hub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", handlers.HandleHealth)
	mux.HandleFunc("/api/snapshot", handlers.HandleSnapshot)
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		provider: provider,
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the hub, the engine-event consumer, and the HTTP server.
func (s *Server) Start() error {
	go s.hub.Run()
	go s.consumeEvents()

	s.logger.Info("dashboard server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping dashboard server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// consumeEvents translates engine.Event notifications into dashboard
// events and broadcasts them to every connected client.
func (s *Server) consumeEvents() {
	for evt := range s.provider.Events() {
		dash := DashboardEvent{Type: evt.Type, Timestamp: evt.Timestamp}
		switch data := evt.Data.(type) {
		case types.Trade:
			dash.Data = NewFillEvent(data)
			dash.SecurityID = data.SecurityID
		case struct {
			Loss decimal.Decimal
			Cap  decimal.Decimal
		}:
			dash.Data = NewKillEvent(data.Loss, data.Cap)
		default:
			dash.Data = evt.Data
		}
		s.hub.BroadcastEvent(dash)
	}
}
