// Package keeper is the external scheduler that executes due pool swaps.
// Each tick it quotes every due pool, applies the slippage tolerance and
// calls the engine under a per-pool distributed lock.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/fees"
)

// Config holds keeper parameters.
type Config struct {
	// Swapper is the authorized caller the engine checks.
	Swapper     common.Address
	Tick        time.Duration
	SlippageBP  uint32
	Concurrency int
	LockTTL     time.Duration
	// Cooldown holds a pool back after a non-retryable failure.
	Cooldown time.Duration
}

// SwapEngine is the part of the engine the keeper drives.
type SwapEngine interface {
	DuePools(now time.Time) []domain.Pool
	ExecuteSwap(ctx context.Context, caller common.Address, poolID uint64, minOut *big.Int) (domain.SwapResult, error)
}

// Quoter prices a swap before it runs.
type Quoter interface {
	Quote(ctx context.Context, route domain.Route, amountIn *big.Int) (*big.Int, error)
}

// Report summarizes one tick.
type Report struct {
	Due      int
	Executed int
	Skipped  int
	Failed   int
}

// Keeper executes due swaps on a ticker.
type Keeper struct {
	cfg      Config
	engine   SwapEngine
	quoter   Quoter
	locks    domain.LockManager
	cooldown *Cooldown
	now      func() time.Time
	logger   *slog.Logger
}

// Option customizes a Keeper.
type Option func(*Keeper)

// WithLocks serializes swaps per pool across keeper replicas.
func WithLocks(locks domain.LockManager) Option {
	return func(k *Keeper) { k.locks = locks }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

// New creates a Keeper.
func New(cfg Config, engine SwapEngine, quoter Quoter, logger *slog.Logger, opts ...Option) (*Keeper, error) {
	if cfg.Swapper == (common.Address{}) {
		return nil, errors.New("keeper: swapper address is required")
	}
	if cfg.SlippageBP > domain.BPS {
		return nil, fmt.Errorf("keeper: slippage %d bp: %w", cfg.SlippageBP, domain.ErrFeeTooHigh)
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 2 * time.Minute
	}
	k := &Keeper{
		cfg:      cfg,
		engine:   engine,
		quoter:   quoter,
		cooldown: NewCooldown(cfg.Cooldown),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "keeper")),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k, nil
}

// Run ticks until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	k.logger.InfoContext(ctx, "keeper: started",
		slog.String("swapper", k.cfg.Swapper.Hex()),
		slog.Duration("tick", k.cfg.Tick),
		slog.Int("concurrency", k.cfg.Concurrency),
	)
	ticker := time.NewTicker(k.cfg.Tick)
	defer ticker.Stop()

	for {
		k.Tick(ctx)
		select {
		case <-ctx.Done():
			k.logger.Info("keeper: stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick executes every due pool once.
func (k *Keeper) Tick(ctx context.Context) Report {
	now := k.now()
	k.cooldown.Cleanup(now)
	due := k.engine.DuePools(now)

	var executed, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(k.cfg.Concurrency)
	for _, pool := range due {
		if k.cooldown.Blocked(pool.ID, now) {
			skipped.Add(1)
			continue
		}
		g.Go(func() error {
			switch err := k.swap(gctx, pool); {
			case err == nil:
				executed.Add(1)
				k.cooldown.Clear(pool.ID)
			case errors.Is(err, domain.ErrLockHeld), domain.IsRetryable(err):
				skipped.Add(1)
				k.logger.DebugContext(gctx, "keeper: pool skipped",
					slog.Uint64("pool_id", pool.ID),
					slog.String("reason", err.Error()),
				)
			default:
				failed.Add(1)
				k.cooldown.Mark(pool.ID, k.now())
				k.logger.WarnContext(gctx, "keeper: swap failed",
					slog.Uint64("pool_id", pool.ID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	r := Report{
		Due:      len(due),
		Executed: int(executed.Load()),
		Skipped:  int(skipped.Load()),
		Failed:   int(failed.Load()),
	}
	if r.Due > 0 {
		k.logger.InfoContext(ctx, "keeper: tick done",
			slog.Int("due", r.Due),
			slog.Int("executed", r.Executed),
			slog.Int("skipped", r.Skipped),
			slog.Int("failed", r.Failed),
		)
	}
	return r
}

func (k *Keeper) swap(ctx context.Context, pool domain.Pool) error {
	if k.locks != nil {
		unlock, err := k.locks.Acquire(ctx, "pool:"+domain.FormatUint(pool.ID), k.cfg.LockTTL)
		if err != nil {
			return err
		}
		defer unlock()
	}

	quote, err := k.quoter.Quote(ctx, pool.Route, pool.NextSwapAmount)
	if err != nil {
		return fmt.Errorf("keeper: quote pool %d: %w", pool.ID, err)
	}
	minOut := fees.Discount(quote, k.cfg.SlippageBP)

	if _, err := k.engine.ExecuteSwap(ctx, k.cfg.Swapper, pool.ID, minOut); err != nil {
		return fmt.Errorf("keeper: execute pool %d: %w", pool.ID, err)
	}
	return nil
}
