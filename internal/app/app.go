// Package app provides the top-level application lifecycle management for the
// DCA engine daemon. It wires together the infrastructure (stores, caches,
// blob storage, notifications), assembles the engine core on top of it, and
// starts the goroutines the configured operating mode needs.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/dcaengine/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, restores the
// engine state, selects the operating mode, and blocks until the context
// is cancelled. Registered cleanup runs in Close.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "archive":
		return a.ArchiveMode(ctx, deps)
	case "keeper", "full":
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	core, err := BuildCore(a.cfg, deps, a.logger)
	if err != nil {
		return err
	}
	if err := core.Restore(ctx, a.cfg, deps.Snapshots, a.logger); err != nil {
		return err
	}

	if mode == "keeper" {
		return a.KeeperMode(ctx, deps, core)
	}
	return a.FullMode(ctx, deps, core)
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
