// Package api serves the bot's control plane: a REST API for venue and
// strategy management plus a WebSocket event stream for dashboards.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"cryptobot/internal/config"
	"cryptobot/internal/store"
	"cryptobot/internal/strategy"
	"cryptobot/internal/venue"
)

// Server runs the HTTP/WebSocket control plane.
type Server struct {
	hub      *Hub
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer wires the router, handlers, and event hub.
func NewServer(host string, port int, cfg *config.BotConfig, st *store.Store, venues *venue.Registry, strategies *strategy.Registry, logger *slog.Logger) *Server {
	hub := NewHub(logger)
	handlers := NewHandlers(cfg, st, venues, strategies, hub, logger)

	r := mux.NewRouter()
	r.HandleFunc("/health", handlers.HandleHealth).Methods(http.MethodGet)
	r.HandleFunc("/ws", handlers.HandleWebSocket)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/supported-exchanges", handlers.HandleSupportedExchanges).Methods(http.MethodGet)

	apiRouter.HandleFunc("/exchanges", handlers.HandleListExchanges).Methods(http.MethodGet)
	apiRouter.HandleFunc("/exchanges", handlers.HandleAddExchange).Methods(http.MethodPost)
	apiRouter.HandleFunc("/exchanges/{id}", handlers.HandleGetExchange).Methods(http.MethodGet)
	apiRouter.HandleFunc("/exchanges/{id}", handlers.HandleRemoveExchange).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/exchanges/{id}/test", handlers.HandleTestExchange).Methods(http.MethodPost)
	apiRouter.HandleFunc("/exchanges/{id}/balance", handlers.HandleBalance).Methods(http.MethodGet)
	apiRouter.HandleFunc("/exchanges/{id}/markets", handlers.HandleMarkets).Methods(http.MethodGet)
	apiRouter.HandleFunc("/exchanges/{id}/ticker/{symbol:.+}", handlers.HandleTicker).Methods(http.MethodGet)
	apiRouter.HandleFunc("/exchanges/{id}/orders", handlers.HandleOrders).Methods(http.MethodGet)
	apiRouter.HandleFunc("/exchanges/{id}/orders", handlers.HandleCreateOrder).Methods(http.MethodPost)
	apiRouter.HandleFunc("/exchanges/{id}/orders/{order_id}", handlers.HandleCancelOrder).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/exchanges/{id}/withdraw", handlers.HandleWithdraw).Methods(http.MethodPost)

	// Fixed strategy routes are registered before the {id} catch-all.
	apiRouter.HandleFunc("/strategies", handlers.HandleListStrategies).Methods(http.MethodGet)
	apiRouter.HandleFunc("/strategies/active", handlers.HandleSetActiveStrategy).Methods(http.MethodPost)
	apiRouter.HandleFunc("/strategies/start", handlers.HandleStartStrategy).Methods(http.MethodPost)
	apiRouter.HandleFunc("/strategies/stop", handlers.HandleStopStrategy).Methods(http.MethodPost)
	apiRouter.HandleFunc("/strategies/status", handlers.HandleStrategyStatus).Methods(http.MethodGet)
	apiRouter.HandleFunc("/strategies/{id}", handlers.HandleGetStrategy).Methods(http.MethodGet)

	apiRouter.HandleFunc("/config", handlers.HandleGetConfig).Methods(http.MethodGet)
	apiRouter.HandleFunc("/config", handlers.HandleUpdateConfig).Methods(http.MethodPost)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		hub:      hub,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Router exposes the HTTP handler, used by tests.
func (s *Server) Router() http.Handler { return s.server.Handler }

// Start runs the hub and serves until Stop.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("control plane starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	s.logger.Info("stopping control plane")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}
