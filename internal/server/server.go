// Package server wires the HTTP API: routing, middleware, and lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/settleio/settlebank/internal/domain"
	"github.com/settleio/settlebank/internal/server/handler"
	"github.com/settleio/settlebank/internal/server/middleware"
	"github.com/settleio/settlebank/internal/server/ws"
	"github.com/settleio/settlebank/internal/service"
)

// Config carries the server's runtime knobs.
type Config struct {
	Port           int
	APIKey         string
	AllowedOrigins []string
	RateLimit      int
	RateWindow     time.Duration
}

// Deps bundles everything the route table needs. Prices and Archives may
// be nil; the corresponding endpoints then degrade or report 503.
type Deps struct {
	Bank      *service.BankService
	Transfers domain.TransferStore
	Prices    domain.PriceCache
	Archives  domain.BlobReader
	Limiter   middleware.Limiter
	Hub       *ws.Hub
	Health    map[string]handler.Pinger
}

// Server owns the http.Server and its route table.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	healthHandler := handler.NewHealthHandler(deps.Health)
	bankHandler := handler.NewBankHandler(deps.Bank, logger)
	tokenHandler := handler.NewTokenHandler(deps.Bank, logger)
	transferHandler := handler.NewTransferHandler(deps.Transfers, logger)
	priceHandler := handler.NewPriceHandler(deps.Bank, deps.Prices, logger)
	archiveHandler := handler.NewArchiveHandler(deps.Archives, logger)
	adminHandler := handler.NewAdminHandler(deps.Bank, logger)

	mux.HandleFunc("GET /api/health", healthHandler.Health)

	mux.HandleFunc("GET /api/bank", bankHandler.Bank)
	mux.HandleFunc("GET /api/balances/{user}", bankHandler.Balance)
	mux.HandleFunc("GET /api/limits/{user}", bankHandler.Limits)
	mux.HandleFunc("GET /api/estimate", bankHandler.Estimate)
	mux.HandleFunc("POST /api/deposits", bankHandler.Deposit)
	mux.HandleFunc("POST /api/withdrawals", bankHandler.Withdraw)

	mux.HandleFunc("GET /api/tokens", tokenHandler.List)
	mux.HandleFunc("POST /api/tokens", tokenHandler.Register)
	mux.HandleFunc("PUT /api/tokens/{asset}/limits", tokenHandler.UpdateLimits)

	mux.HandleFunc("GET /api/transfers", transferHandler.List)

	mux.HandleFunc("GET /api/prices", priceHandler.List)
	mux.HandleFunc("GET /api/prices/{asset}", priceHandler.Get)

	mux.HandleFunc("POST /api/admin/halt", adminHandler.Halt)
	mux.HandleFunc("POST /api/admin/resume", adminHandler.Resume)
	mux.HandleFunc("GET /api/admin/status", adminHandler.Status)
	mux.HandleFunc("GET /api/admin/archives", archiveHandler.List)
	mux.HandleFunc("GET /api/admin/archives/{key...}", archiveHandler.Download)

	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWebSocket)
	}

	var h http.Handler = mux
	h = middleware.CORS(cfg.AllowedOrigins)(h)
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.Auth(cfg.APIKey)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With(slog.String("component", "server")),
	}
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
