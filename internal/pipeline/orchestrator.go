package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Loop is a long-running worker such as the swap keeper.
type Loop interface {
	Run(ctx context.Context) error
}

// Orchestrator runs the background loops and the cron-scheduled jobs
// (journal archival, state snapshots) until the context ends.
type Orchestrator struct {
	loops        map[string]Loop
	archiver     *Archiver
	archiveCron  string
	snapshotter  *Snapshotter
	snapshotCron string
	jobTimeout   time.Duration
	logger       *slog.Logger
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLoop registers a named worker loop.
func WithLoop(name string, l Loop) OrchestratorOption {
	return func(o *Orchestrator) { o.loops[name] = l }
}

// WithArchiver schedules a on spec (standard 5-field cron).
func WithArchiver(a *Archiver, spec string) OrchestratorOption {
	return func(o *Orchestrator) { o.archiver, o.archiveCron = a, spec }
}

// WithSnapshotter schedules s on spec (standard 5-field cron).
func WithSnapshotter(s *Snapshotter, spec string) OrchestratorOption {
	return func(o *Orchestrator) { o.snapshotter, o.snapshotCron = s, spec }
}

// NewOrchestrator creates an Orchestrator. Cron jobs get jobTimeout each.
func NewOrchestrator(jobTimeout time.Duration, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		loops:      make(map[string]Loop),
		jobTimeout: jobTimeout,
		logger:     logger.With(slog.String("component", "orchestrator")),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run starts every loop and the cron scheduler. A loop failing with a
// non-context error cancels the rest and is returned. On shutdown a final
// snapshot is taken when a snapshotter is configured.
func (o *Orchestrator) Run(ctx context.Context) error {
	sched := cron.New(cron.WithLocation(time.UTC))
	if o.archiver != nil {
		if _, err := sched.AddFunc(o.archiveCron, o.job(ctx, "archive", o.archiver.Run)); err != nil {
			return fmt.Errorf("pipeline: schedule archive %q: %w", o.archiveCron, err)
		}
	}
	if o.snapshotter != nil {
		if _, err := sched.AddFunc(o.snapshotCron, o.job(ctx, "snapshot", o.snapshotter.Run)); err != nil {
			return fmt.Errorf("pipeline: schedule snapshot %q: %w", o.snapshotCron, err)
		}
	}

	o.logger.InfoContext(ctx, "pipeline: orchestrator starting",
		slog.Int("loops", len(o.loops)),
		slog.Int("jobs", len(sched.Entries())),
	)
	sched.Start()

	g, gctx := errgroup.WithContext(ctx)
	for name, l := range o.loops {
		g.Go(func() error {
			o.logger.InfoContext(gctx, "pipeline: loop starting", slog.String("loop", name))
			err := l.Run(gctx)
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%s: %w", name, err)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err := g.Wait()
	<-sched.Stop().Done()

	if o.snapshotter != nil {
		final, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.jobTimeout)
		if snapErr := o.snapshotter.Run(final); snapErr != nil {
			o.logger.Error("pipeline: final snapshot failed", slog.String("error", snapErr.Error()))
		}
		cancel()
	}

	if err != nil {
		o.logger.Error("pipeline: orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline: orchestrator stopped cleanly")
	return nil
}

func (o *Orchestrator) job(ctx context.Context, name string, run func(context.Context) error) func() {
	return func() {
		jctx, cancel := context.WithTimeout(ctx, o.jobTimeout)
		defer cancel()
		start := time.Now()
		if err := run(jctx); err != nil {
			o.logger.ErrorContext(jctx, "pipeline: job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
			return
		}
		o.logger.DebugContext(jctx, "pipeline: job done",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
		)
	}
}
