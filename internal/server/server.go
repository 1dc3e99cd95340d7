// Package server exposes the operator API and the live event stream. Write
// routes act for the caller named in the request body, so the API key is
// what authorizes them.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/server/handler"
	"github.com/alanyoungcy/dcaengine/internal/server/middleware"
	"github.com/alanyoungcy/dcaengine/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	// RateLimit is requests per RateWindow per client IP; zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health     *handler.HealthHandler
	Status     *handler.StatusHandler
	Pools      *handler.PoolHandler
	Strategies *handler.StrategyHandler
	Rewards    *handler.RewardHandler
	Events     *handler.EventHandler
}

// Server is the operator HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps them in CORS, logging, auth
// and, when a limiter is given, rate limiting. hub and limiter may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("GET /api/pools", handlers.Pools.ListPools)
	mux.HandleFunc("GET /api/pools/{id}", handlers.Pools.GetPool)
	mux.HandleFunc("GET /api/pools/{id}/positions", handlers.Pools.ListPoolPositions)
	mux.HandleFunc("GET /api/pools/{id}/checkpoints/{k}", handlers.Pools.GetCheckpoint)
	mux.HandleFunc("GET /api/positions", handlers.Pools.ListPositions)
	mux.HandleFunc("GET /api/positions/{id}", handlers.Pools.GetPosition)

	mux.HandleFunc("GET /api/strategies", handlers.Strategies.ListStrategies)
	mux.HandleFunc("GET /api/strategies/{id}", handlers.Strategies.GetStrategy)
	mux.HandleFunc("GET /api/strategy-positions", handlers.Strategies.ListPositions)
	mux.HandleFunc("GET /api/strategy-positions/{id}", handlers.Strategies.GetPosition)
	mux.HandleFunc("GET /api/fees", handlers.Strategies.GetFees)

	mux.HandleFunc("POST /api/pools", handlers.Pools.CreatePool)
	mux.HandleFunc("POST /api/pools/{id}/pause", handlers.Pools.SetPaused)
	mux.HandleFunc("POST /api/pools/{id}/swap", handlers.Pools.ExecuteSwap)
	mux.HandleFunc("POST /api/pools/{id}/deposits", handlers.Pools.Deposit)
	mux.HandleFunc("POST /api/positions/{id}/withdraw-swapped", handlers.Pools.WithdrawSwapped)
	mux.HandleFunc("POST /api/positions/{id}/withdraw-all", handlers.Pools.WithdrawAll)
	mux.HandleFunc("POST /api/positions/{id}/increase", handlers.Pools.IncreasePosition)
	mux.HandleFunc("POST /api/positions/{id}/reduce", handlers.Pools.ReducePosition)

	mux.HandleFunc("POST /api/strategies", handlers.Strategies.CreateStrategy)
	mux.HandleFunc("POST /api/strategies/{id}/hot", handlers.Strategies.SetHot)
	mux.HandleFunc("POST /api/strategies/{id}/invest", handlers.Strategies.Invest)
	mux.HandleFunc("POST /api/strategy-positions/{id}/collect", handlers.Strategies.CollectPosition)
	mux.HandleFunc("POST /api/strategy-positions/{id}/close", handlers.Strategies.ClosePosition)
	mux.HandleFunc("PUT /api/fees", handlers.Strategies.SetFees)
	mux.HandleFunc("POST /api/products/{product}/{target}/yield", handlers.Strategies.AccrueYield)
	mux.HandleFunc("POST /api/rewards/{kind}/collect", handlers.Strategies.CollectRewards)

	mux.HandleFunc("GET /api/rewards/{kind}/{principal}", handlers.Rewards.GetBalances)
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
