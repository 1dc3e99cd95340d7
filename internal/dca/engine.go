// Package dca implements the pool accrual engine: batched swaps per pool and
// lazy per-position settlement through a checkpointed accumulator.
package dca

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/txlog"
)

// Config holds engine parameters.
type Config struct {
	// MinInterval is the floor for a pool's swap interval.
	MinInterval time.Duration
	// SwapFeeBP is skimmed from every swap output and credited to FeeRecipient.
	SwapFeeBP    uint32
	Custody      common.Address
	FeeRecipient common.Address
	Swappers     []common.Address
	Admin        common.Address
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSink publishes committed events to sink.
func WithSink(sink domain.EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// Engine owns every pool and position. All mutation goes through Update,
// which serializes writers and makes each operation atomic.
type Engine struct {
	mu       sync.Mutex
	cfg      Config
	swappers map[common.Address]bool
	exchange domain.Exchange
	assets   domain.AssetTransfer
	rewards  domain.RewardCrediter
	sink     domain.EventSink
	now      func() time.Time
	logger   *slog.Logger

	pools          map[uint64]*poolState
	positions      map[uint64]*domain.Position
	owned          map[common.Address][]uint64
	lastPoolID     uint64
	lastPositionID uint64
}

// New creates an Engine. assets must be bound to cfg.Custody. rewards may be
// nil when SwapFeeBP is zero.
func New(
	cfg Config,
	exchange domain.Exchange,
	assets domain.AssetTransfer,
	rewards domain.RewardCrediter,
	logger *slog.Logger,
	opts ...Option,
) (*Engine, error) {
	if cfg.SwapFeeBP > 0 && rewards == nil {
		return nil, errors.New("dca: swap fee configured without a reward ledger")
	}
	if cfg.SwapFeeBP > domain.BPS {
		return nil, fmt.Errorf("dca: swap fee %d bp: %w", cfg.SwapFeeBP, domain.ErrFeeTooHigh)
	}
	e := &Engine{
		cfg:       cfg,
		swappers:  make(map[common.Address]bool, len(cfg.Swappers)),
		exchange:  exchange,
		assets:    assets,
		rewards:   rewards,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "dca")),
		pools:     make(map[uint64]*poolState),
		positions: make(map[uint64]*domain.Position),
		owned:     make(map[common.Address][]uint64),
	}
	for _, s := range cfg.Swappers {
		e.swappers[s] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Custody is the account holding pooled input and unclaimed output.
func (e *Engine) Custody() common.Address { return e.cfg.Custody }

// Update runs fn atomically. If fn fails every registered compensation is
// run in reverse and the error is returned; otherwise buffered events are
// published after the engine lock is released.
func (e *Engine) Update(ctx context.Context, fn func(tx *Tx) error) error {
	events, err := e.update(ctx, fn)
	if err != nil {
		return err
	}
	e.publish(ctx, events)
	return nil
}

func (e *Engine) update(ctx context.Context, fn func(tx *Tx) error) ([]domain.Event, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tx := &Tx{Tx: txlog.Begin(ctx, e.now()), e: e}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			e.logger.ErrorContext(ctx, "dca: rollback incomplete",
				slog.String("cause", err.Error()),
				slog.String("error", rbErr.Error()),
			)
			return nil, errors.Join(err, rbErr)
		}
		return nil, err
	}
	return tx.Commit(), nil
}

func (e *Engine) publish(ctx context.Context, events []domain.Event) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	if err := e.sink.Publish(ctx, events); err != nil {
		e.logger.WarnContext(ctx, "dca: publish events failed",
			slog.Int("count", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

// CreatePool registers a new pool.
func (e *Engine) CreatePool(ctx context.Context, input, output common.Address, route domain.Route, interval time.Duration) (pool domain.Pool, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		pool, err = tx.CreatePool(input, output, route, interval)
		return err
	})
	if err == nil {
		e.logger.InfoContext(ctx, "dca: pool created",
			slog.Uint64("pool_id", pool.ID),
			slog.String("route", pool.Route.String()),
			slog.Duration("interval", pool.Interval),
		)
	}
	return pool, err
}

// Deposit opens a position spreading amount over swaps batched swaps.
func (e *Engine) Deposit(ctx context.Context, owner common.Address, poolID, swaps uint64, amount *big.Int) (pos domain.Position, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		pos, err = tx.Deposit(owner, poolID, swaps, amount)
		return err
	})
	return pos, err
}

// ExecuteSwap runs the next batched swap of a pool.
func (e *Engine) ExecuteSwap(ctx context.Context, caller common.Address, poolID uint64, minOut *big.Int) (res domain.SwapResult, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		res, err = tx.ExecuteSwap(caller, poolID, minOut)
		return err
	})
	if err == nil {
		e.logger.InfoContext(ctx, "dca: swap executed",
			slog.Uint64("pool_id", poolID),
			slog.Uint64("swap", res.SwapIndex),
			slog.String("amount_in", res.AmountIn.String()),
			slog.String("amount_out", res.AmountOut.String()),
			slog.String("fee", res.ProtocolFee.String()),
		)
	}
	return res, err
}

// WithdrawSwapped pays out the output settled so far.
func (e *Engine) WithdrawSwapped(ctx context.Context, caller common.Address, positionID uint64, recipient common.Address) (swapped *big.Int, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		swapped, err = tx.WithdrawSwapped(caller, positionID, recipient)
		return err
	})
	return swapped, err
}

// WithdrawAll pays out swapped output and refunds unswapped input.
func (e *Engine) WithdrawAll(ctx context.Context, caller common.Address, positionID uint64, recipient common.Address) (swapped, unswapped *big.Int, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		swapped, unswapped, err = tx.WithdrawAll(caller, positionID, recipient)
		return err
	})
	return swapped, unswapped, err
}

// IncreasePosition adds amount to the unswapped balance and re-spreads it.
func (e *Engine) IncreasePosition(ctx context.Context, caller common.Address, positionID uint64, amount *big.Int, newSwaps uint64) (pos domain.Position, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		pos, err = tx.IncreasePosition(caller, positionID, amount, newSwaps)
		return err
	})
	return pos, err
}

// ReducePosition refunds amount of the unswapped balance and re-spreads the rest.
func (e *Engine) ReducePosition(ctx context.Context, caller common.Address, positionID uint64, amount *big.Int, newSwaps uint64, recipient common.Address) (pos domain.Position, err error) {
	err = e.Update(ctx, func(tx *Tx) error {
		pos, err = tx.ReducePosition(caller, positionID, amount, newSwaps, recipient)
		return err
	})
	return pos, err
}

// SetPaused pauses or resumes deposits and swaps on a pool.
func (e *Engine) SetPaused(ctx context.Context, caller common.Address, poolID uint64, paused bool) error {
	return e.Update(ctx, func(tx *Tx) error {
		return tx.SetPaused(caller, poolID, paused)
	})
}

// ---------------------------------------------------------------------------
// Read-only views
// ---------------------------------------------------------------------------

// Pool returns a copy of one pool.
func (e *Engine) Pool(id uint64) (domain.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.pools[id]
	if !ok {
		return domain.Pool{}, fmt.Errorf("dca: pool %d: %w", id, domain.ErrInvalidPoolID)
	}
	return ps.pool.Clone(), nil
}

// Pools returns every pool ordered by id.
func (e *Engine) Pools() []domain.Pool {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]domain.Pool, 0, len(e.pools))
	for _, ps := range e.pools {
		out = append(out, ps.pool.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DuePools returns the pools whose next swap may run at now.
func (e *Engine) DuePools(now time.Time) []domain.Pool {
	var due []domain.Pool
	for _, p := range e.Pools() {
		if p.Due(now) {
			due = append(due, p)
		}
	}
	return due
}

// Position returns a copy of one position.
func (e *Engine) Position(id uint64) (domain.Position, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[id]
	if !ok {
		return domain.Position{}, fmt.Errorf("dca: position %d: %w", id, domain.ErrInvalidPositionID)
	}
	return pos.Clone(), nil
}

// Positions returns every position of a pool ordered by id.
func (e *Engine) Positions(poolID uint64) []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []domain.Position
	for _, pos := range e.positions {
		if pos.PoolID == poolID {
			out = append(out, pos.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PositionsByOwner returns the positions opened by owner.
func (e *Engine) PositionsByOwner(owner common.Address) []domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := e.owned[owner]
	out := make([]domain.Position, 0, len(ids))
	for _, id := range ids {
		out = append(out, e.positions[id].Clone())
	}
	return out
}

// Balances settles a position lazily without mutating it.
func (e *Engine) Balances(positionID uint64) (domain.PositionBalances, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pos, ok := e.positions[positionID]
	if !ok {
		return domain.PositionBalances{}, fmt.Errorf("dca: position %d: %w", positionID, domain.ErrInvalidPositionID)
	}
	return e.pools[pos.PoolID].balances(pos), nil
}

// Checkpoint returns the accumulator value recorded after swap k.
func (e *Engine) Checkpoint(poolID, k uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ps, ok := e.pools[poolID]
	if !ok {
		return nil, fmt.Errorf("dca: pool %d: %w", poolID, domain.ErrInvalidPoolID)
	}
	if k >= uint64(len(ps.accum)) {
		return nil, fmt.Errorf("dca: pool %d checkpoint %d: %w", poolID, k, domain.ErrNotFound)
	}
	return domain.Clone(ps.accum[k]), nil
}
