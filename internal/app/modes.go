package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/dcaengine/internal/keeper"
	"github.com/alanyoungcy/dcaengine/internal/pipeline"
	"github.com/alanyoungcy/dcaengine/internal/server"
	"github.com/alanyoungcy/dcaengine/internal/server/handler"
)

// KeeperMode runs the swap keeper and, with a snapshot store, the
// scheduled snapshots.
func (a *App) KeeperMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting keeper mode")

	opts, err := a.keeperLoops(deps, core)
	if err != nil {
		return fmt.Errorf("keeper mode: %w", err)
	}
	return pipeline.NewOrchestrator(a.cfg.JobTimeout.Duration, a.logger, opts...).Run(ctx)
}

// ArchiveMode only moves old journal events to cold storage.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")
	if deps.Archiver == nil {
		return errors.New("archive mode: archiver requires postgres and s3")
	}
	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
	return pipeline.NewOrchestrator(a.cfg.JobTimeout.Duration, a.logger,
		pipeline.WithArchiver(archiver, a.cfg.Archive.Cron),
	).Run(ctx)
}

// FullMode runs the keeper, snapshots, the archiver when cold storage is
// wired, and the HTTP API with its live event stream.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, core *Core) error {
	a.logger.InfoContext(ctx, "starting full mode")

	opts, err := a.keeperLoops(deps, core)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.RetentionDays, a.logger)
		opts = append(opts, pipeline.WithArchiver(archiver, a.cfg.Archive.Cron))
	}
	if a.cfg.Server.Enabled {
		srv := a.newServer(deps, core)
		opts = append(opts,
			pipeline.WithLoop("http", serverLoop{start: srv.Start, shutdown: srv.Shutdown}),
			pipeline.WithLoop("ws", core.Hub),
		)
	}
	return pipeline.NewOrchestrator(a.cfg.JobTimeout.Duration, a.logger, opts...).Run(ctx)
}

func (a *App) keeperLoops(deps *Dependencies, core *Core) ([]pipeline.OrchestratorOption, error) {
	key, err := swapperKey(a.cfg)
	if err != nil {
		return nil, err
	}
	var kopts []keeper.Option
	if deps.Locks != nil {
		kopts = append(kopts, keeper.WithLocks(deps.Locks))
	}
	k, err := keeper.New(keeper.Config{
		Swapper:     key.Address,
		Tick:        a.cfg.Keeper.Tick.Duration,
		SlippageBP:  a.cfg.Keeper.SlippageBP,
		Concurrency: a.cfg.Keeper.Concurrency,
		LockTTL:     a.cfg.Keeper.LockTTL.Duration,
		Cooldown:    a.cfg.Keeper.Cooldown.Duration,
	}, core.Engine, core.Exchange, a.logger, kopts...)
	if err != nil {
		return nil, err
	}

	opts := []pipeline.OrchestratorOption{pipeline.WithLoop("keeper", k)}
	if snap := core.Snapshotter(a.cfg, deps.Snapshots, a.logger); snap != nil {
		opts = append(opts, pipeline.WithSnapshotter(snap, a.cfg.Snapshot.Cron))
	} else {
		a.logger.Warn("app: no snapshot store, state lives in memory only")
	}
	return opts, nil
}

func (a *App) newServer(deps *Dependencies, core *Core) *server.Server {
	return server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, server.Handlers{
		Health:     handler.NewHealthHandler(deps.Checks, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC()),
		Pools:      handler.NewPoolHandler(core.Engine, a.logger),
		Strategies: handler.NewStrategyHandler(core.Allocator, a.logger),
		Rewards:    handler.NewRewardHandler(core.Ledger, a.logger),
		Events:     handler.NewEventHandler(deps.Journal, core.Recorder, a.logger),
	}, core.Hub, deps.Limiter, a.logger.With(slog.String("component", "server")))
}
