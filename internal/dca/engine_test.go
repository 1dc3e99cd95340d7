package dca

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/asset"
	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/exchange"
)

var (
	usdc    = common.HexToAddress("0x01")
	weth    = common.HexToAddress("0x02")
	custody = common.HexToAddress("0xc0")
	venue   = common.HexToAddress("0xee")
	swapper = common.HexToAddress("0x5a")
	admin   = common.HexToAddress("0xad")
	alice   = common.HexToAddress("0xa1")
	bob     = common.HexToAddress("0xb0")
	vault   = common.HexToAddress("0xfe")
	feeTo   = common.HexToAddress("0xf0")
)

const day = 24 * time.Hour

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memRewards credits fees to an in-memory map.
type memRewards struct {
	custody  common.Address
	balances map[domain.RewardKey]*big.Int
	fail     error
}

func (m *memRewards) Custody() common.Address { return m.custody }

func (m *memRewards) Credit(scope domain.TxScope, key domain.RewardKey, amount *big.Int) error {
	if m.fail != nil {
		return m.fail
	}
	prev := domain.Clone(m.balances[key])
	m.balances[key] = new(big.Int).Add(prev, amount)
	scope.Defer(func(context.Context) error {
		m.balances[key] = prev
		return nil
	})
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Publish(_ context.Context, events []domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	return nil
}

func (s *recordingSink) kinds() []domain.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventKind, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixture struct {
	engine  *Engine
	bank    *asset.Bank
	ex      *exchange.Static
	clock   *clock
	rewards *memRewards
	sink    *recordingSink
	pool    domain.Pool
}

func newFixture(t *testing.T, feeBP uint32, rate string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bank := asset.NewBank()
	ex := exchange.NewStatic(venue, bank.Account(venue), logger)
	r, err := exchange.ParseRate(rate)
	require.NoError(t, err)
	ex.SetRate(usdc, weth, r)
	require.NoError(t, bank.Mint(weth, venue, big.NewInt(1_000_000_000)))
	require.NoError(t, bank.Mint(usdc, alice, big.NewInt(1_000_000)))
	require.NoError(t, bank.Mint(usdc, bob, big.NewInt(1_000_000)))

	f := &fixture{
		bank:    bank,
		ex:      ex,
		clock:   &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
		rewards: &memRewards{custody: vault, balances: map[domain.RewardKey]*big.Int{}},
		sink:    &recordingSink{},
	}
	f.engine, err = New(Config{
		MinInterval:  time.Hour,
		SwapFeeBP:    feeBP,
		Custody:      custody,
		FeeRecipient: feeTo,
		Swappers:     []common.Address{swapper},
		Admin:        admin,
	}, ex, bank.Account(custody), f.rewards, logger, WithClock(f.clock.now), WithSink(f.sink))
	require.NoError(t, err)

	f.pool, err = f.engine.CreatePool(context.Background(), usdc, weth, domain.Route{usdc, weth}, day)
	require.NoError(t, err)
	return f
}

func (f *fixture) swap(t *testing.T) domain.SwapResult {
	t.Helper()
	res, err := f.engine.ExecuteSwap(context.Background(), swapper, f.pool.ID, nil)
	require.NoError(t, err)
	f.clock.advance(day)
	return res
}

func assertAmount(t *testing.T, want int64, got *big.Int, msgAndArgs ...any) {
	t.Helper()
	assert.Equal(t, big.NewInt(want).String(), domain.Clone(got).String(), msgAndArgs...)
}

func TestNewRejectsFeeWithoutLedger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New(Config{SwapFeeBP: 10}, nil, nil, nil, logger)
	assert.Error(t, err)

	_, err = New(Config{SwapFeeBP: domain.BPS + 1}, nil, nil, &memRewards{}, logger)
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
}

func TestCreatePoolValidation(t *testing.T) {
	f := newFixture(t, 0, "9.5")
	ctx := context.Background()

	_, err := f.engine.CreatePool(ctx, usdc, weth, domain.Route{usdc, weth}, time.Minute)
	assert.ErrorIs(t, err, domain.ErrIntervalTooShort)

	_, err = f.engine.CreatePool(ctx, usdc, weth, domain.Route{usdc}, day)
	assert.ErrorIs(t, err, domain.ErrInvalidRoute)

	_, err = f.engine.CreatePool(ctx, usdc, usdc, domain.Route{usdc, usdc}, day)
	assert.ErrorIs(t, err, domain.ErrInvalidRoute)

	_, err = f.engine.CreatePool(ctx, usdc, weth, domain.Route{weth, usdc}, day)
	assert.ErrorIs(t, err, domain.ErrInvalidRoute)

	p, err := f.engine.CreatePool(ctx, weth, usdc, domain.Route{weth, usdc}, day)
	require.NoError(t, err)
	assert.Equal(t, f.pool.ID+1, p.ID)
	assert.Len(t, f.engine.Pools(), 2)
}

func TestDepositValidation(t *testing.T) {
	f := newFixture(t, 0, "9.5")
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, alice, f.pool.ID, 0, big.NewInt(1000))
	assert.ErrorIs(t, err, domain.ErrInvalidNumberOfSwaps)

	_, err = f.engine.Deposit(ctx, alice, f.pool.ID, 10, big.NewInt(0))
	assert.ErrorIs(t, err, domain.ErrInvalidDepositAmount)

	_, err = f.engine.Deposit(ctx, alice, f.pool.ID, 10, big.NewInt(9))
	assert.ErrorIs(t, err, domain.ErrInvalidDepositAmount)

	_, err = f.engine.Deposit(ctx, alice, 99, 10, big.NewInt(1000))
	assert.ErrorIs(t, err, domain.ErrInvalidPoolID)

	_, err = f.engine.Deposit(ctx, alice, f.pool.ID, 10, big.NewInt(10_000_000))
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	assertAmount(t, 1_000_000, f.bank.BalanceOf(usdc, alice))
	assert.Empty(t, f.engine.PositionsByOwner(alice))
}

func TestDepositPullsOnlyWholeSwaps(t *testing.T) {
	f := newFixture(t, 0, "9.5")
	pos, err := f.engine.Deposit(context.Background(), alice, f.pool.ID, 3, big.NewInt(1000))
	require.NoError(t, err)

	assertAmount(t, 333, pos.AmountPerSwap)
	assertAmount(t, 999, f.bank.BalanceOf(usdc, custody))
	assertAmount(t, 1_000_000-999, f.bank.BalanceOf(usdc, alice))
}

func TestScenarioSingleSwapAdvancesAccumulator(t *testing.T) {
	f := newFixture(t, 0, "9.5")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 10, big.NewInt(1000))
	require.NoError(t, err)
	assertAmount(t, 100, pos.AmountPerSwap)

	pool, err := f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 100, pool.NextSwapAmount)

	res := f.swap(t)
	assertAmount(t, 950, res.AmountOut)
	assert.Equal(t, uint64(1), res.SwapIndex)

	cp, err := f.engine.Checkpoint(f.pool.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, "9500000000000000000", cp.String())

	pool, err = f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 100, pool.NextSwapAmount)

	bal, err := f.engine.Balances(pos.ID)
	require.NoError(t, err)
	assertAmount(t, 950, bal.Swapped)
	assertAmount(t, 900, bal.Unswapped)
	assert.Equal(t, uint64(9), bal.RemainingSwaps)
}

func TestScenarioWithdrawAllAfterFinalSwap(t *testing.T) {
	f := newFixture(t, 0, "9.5")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 10, big.NewInt(1000))
	require.NoError(t, err)
	for range 10 {
		f.swap(t)
	}

	pool, err := f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 0, pool.NextSwapAmount)
	assert.False(t, pool.Due(f.clock.now()))

	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNoTokensToSwap)
	assert.True(t, domain.IsRetryable(err))

	swapped, unswapped, err := f.engine.WithdrawAll(ctx, alice, pos.ID, common.Address{})
	require.NoError(t, err)
	assertAmount(t, 9500, swapped)
	assertAmount(t, 0, unswapped)
	assertAmount(t, 9500, f.bank.BalanceOf(weth, alice))

	pool, err = f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 0, pool.NextSwapAmount)

	// A second call pays nothing.
	swapped, unswapped, err = f.engine.WithdrawAll(ctx, alice, pos.ID, common.Address{})
	require.NoError(t, err)
	assertAmount(t, 0, swapped)
	assertAmount(t, 0, unswapped)
}

func TestWithdrawAllMidwayRemovesContribution(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	a, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)
	b, err := f.engine.Deposit(ctx, bob, f.pool.ID, 2, big.NewInt(100))
	require.NoError(t, err)

	f.swap(t)
	swapped, unswapped, err := f.engine.WithdrawAll(ctx, alice, a.ID, common.Address{})
	require.NoError(t, err)
	assertAmount(t, 200, swapped)
	assertAmount(t, 300, unswapped)
	assertAmount(t, 1_000_000, new(big.Int).Add(f.bank.BalanceOf(usdc, alice), big.NewInt(100)))

	pool, err := f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 50, pool.NextSwapAmount)

	res := f.swap(t)
	assertAmount(t, 50, res.AmountIn)
	assertAmount(t, 50, res.Expired)

	bal, err := f.engine.Balances(b.ID)
	require.NoError(t, err)
	assertAmount(t, 200, bal.Swapped)
	assertAmount(t, 0, bal.Unswapped)

	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNoTokensToSwap)
}

func TestLateDepositOnlyEarnsLaterSwaps(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	a, err := f.engine.Deposit(ctx, alice, f.pool.ID, 3, big.NewInt(300))
	require.NoError(t, err)
	f.swap(t)
	b, err := f.engine.Deposit(ctx, bob, f.pool.ID, 2, big.NewInt(200))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), b.EntrySwap)

	f.swap(t)
	f.swap(t)

	ba, err := f.engine.Balances(a.ID)
	require.NoError(t, err)
	bb, err := f.engine.Balances(b.ID)
	require.NoError(t, err)
	assertAmount(t, 600, ba.Swapped)
	assertAmount(t, 400, bb.Swapped)

	// Output held in custody covers every claim.
	total := new(big.Int).Add(ba.Swapped, bb.Swapped)
	assert.True(t, f.bank.BalanceOf(weth, custody).Cmp(total) >= 0)
}

func TestSettlementIsMonotonicAndConserving(t *testing.T) {
	f := newFixture(t, 0, "1.37")
	ctx := context.Background()

	a, err := f.engine.Deposit(ctx, alice, f.pool.ID, 7, big.NewInt(7777))
	require.NoError(t, err)
	b, err := f.engine.Deposit(ctx, bob, f.pool.ID, 5, big.NewInt(3333))
	require.NoError(t, err)

	prevA, prevB := new(big.Int), new(big.Int)
	for range 7 {
		res := f.swap(t)
		ba, err := f.engine.Balances(a.ID)
		require.NoError(t, err)
		bb, err := f.engine.Balances(b.ID)
		require.NoError(t, err)
		assert.True(t, ba.Swapped.Cmp(prevA) >= 0)
		assert.True(t, bb.Swapped.Cmp(prevB) >= 0)
		prevA, prevB = ba.Swapped, bb.Swapped

		claims := new(big.Int).Add(ba.Swapped, bb.Swapped)
		assert.True(t, claims.Cmp(f.bank.BalanceOf(weth, custody)) <= 0, "claims exceed custody after swap %d", res.SwapIndex)
	}

	sa, ua, err := f.engine.WithdrawAll(ctx, alice, a.ID, common.Address{})
	require.NoError(t, err)
	sb, ub, err := f.engine.WithdrawAll(ctx, bob, b.ID, common.Address{})
	require.NoError(t, err)
	assertAmount(t, 0, ua)
	assertAmount(t, 0, ub)
	assert.True(t, sa.Sign() > 0)
	assert.True(t, sb.Sign() > 0)
	assertAmount(t, 0, f.bank.BalanceOf(usdc, custody))
	// Only truncation dust stays behind.
	assert.True(t, f.bank.BalanceOf(weth, custody).Cmp(big.NewInt(2)) <= 0)
}

func TestWithdrawSwappedIsIdempotentBetweenSwaps(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)
	f.swap(t)
	f.swap(t)

	got, err := f.engine.WithdrawSwapped(ctx, alice, pos.ID, bob)
	require.NoError(t, err)
	assertAmount(t, 400, got)
	assertAmount(t, 400, f.bank.BalanceOf(weth, bob))

	got, err = f.engine.WithdrawSwapped(ctx, alice, pos.ID, bob)
	require.NoError(t, err)
	assertAmount(t, 0, got)

	f.swap(t)
	got, err = f.engine.WithdrawSwapped(ctx, alice, pos.ID, common.Address{})
	require.NoError(t, err)
	assertAmount(t, 200, got)
	assertAmount(t, 200, f.bank.BalanceOf(weth, alice))
}

func TestPositionOwnership(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)

	_, err = f.engine.WithdrawSwapped(ctx, bob, pos.ID, bob)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, _, err = f.engine.WithdrawAll(ctx, bob, pos.ID, bob)
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = f.engine.WithdrawSwapped(ctx, alice, 42, alice)
	assert.ErrorIs(t, err, domain.ErrInvalidPositionID)
}

func TestExecuteSwapPreconditions(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	_, err := f.engine.ExecuteSwap(ctx, alice, f.pool.ID, nil)
	assert.ErrorIs(t, err, domain.ErrCallerIsNotSwapper)

	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	assert.ErrorIs(t, err, domain.ErrNoTokensToSwap)

	_, err = f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)
	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	assert.ErrorIs(t, err, domain.ErrTooEarlyToSwap)
	assert.True(t, domain.IsRetryable(err))
	assert.Empty(t, f.engine.DuePools(f.clock.now()))

	f.clock.advance(day)
	assert.Len(t, f.engine.DuePools(f.clock.now()), 1)

	require.NoError(t, f.engine.SetPaused(ctx, admin, f.pool.ID, true))
	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	assert.ErrorIs(t, err, domain.ErrPoolPaused)
	_, err = f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	assert.ErrorIs(t, err, domain.ErrPoolPaused)

	assert.ErrorIs(t, f.engine.SetPaused(ctx, alice, f.pool.ID, false), domain.ErrUnauthorized)
	require.NoError(t, f.engine.SetPaused(ctx, admin, f.pool.ID, false))
	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	require.NoError(t, err)
}

func TestExecuteSwapBelowMinOutLeavesNoTrace(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)
	before, err := f.engine.Snapshot()
	require.NoError(t, err)

	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, big.NewInt(201))
	assert.ErrorIs(t, err, domain.ErrInsufficientOutput)

	after, err := f.engine.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assertAmount(t, 400, f.bank.BalanceOf(usdc, custody))
	assertAmount(t, 0, f.bank.BalanceOf(weth, custody))
}

func TestSwapFeeCreditedToProtocol(t *testing.T) {
	f := newFixture(t, 50, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 2, big.NewInt(2000))
	require.NoError(t, err)
	res := f.swap(t)

	assertAmount(t, 2000, res.AmountOut)
	assertAmount(t, 10, res.ProtocolFee)
	assertAmount(t, 10, f.bank.BalanceOf(weth, vault))
	key := domain.RewardKey{Kind: domain.RewardProtocol, Principal: feeTo, Token: weth}
	assertAmount(t, 10, f.rewards.balances[key])

	bal, err := f.engine.Balances(pos.ID)
	require.NoError(t, err)
	assertAmount(t, 1990, bal.Swapped)
}

func TestSwapRollsBackWhenFeeCreditFails(t *testing.T) {
	f := newFixture(t, 50, "2")
	ctx := context.Background()

	_, err := f.engine.Deposit(ctx, alice, f.pool.ID, 2, big.NewInt(2000))
	require.NoError(t, err)
	f.rewards.fail = assert.AnError

	_, err = f.engine.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	require.ErrorIs(t, err, assert.AnError)

	pool, err := f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), pool.PerformedSwaps)
	assertAmount(t, 2000, f.bank.BalanceOf(usdc, custody))
	assertAmount(t, 0, f.bank.BalanceOf(weth, custody))
	assertAmount(t, 0, f.bank.BalanceOf(weth, vault))
	assertAmount(t, 1_000_000_000, f.bank.BalanceOf(weth, venue))
	_, err = f.engine.Checkpoint(f.pool.ID, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIncreasePositionKeepsSwappedOutput(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)
	f.swap(t)

	pos, err = f.engine.IncreasePosition(ctx, alice, pos.ID, big.NewInt(101), 2)
	require.NoError(t, err)
	// 300 left + 101 over 2 swaps = 200 per swap, 1 refunded.
	assertAmount(t, 200, pos.AmountPerSwap)
	assert.Equal(t, uint64(3), pos.FinalSwap)
	assertAmount(t, 200, pos.Accrued)
	assertAmount(t, 1_000_000-400-100, f.bank.BalanceOf(usdc, alice))

	pool, err := f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 200, pool.NextSwapAmount)

	f.swap(t)
	f.swap(t)
	bal, err := f.engine.Balances(pos.ID)
	require.NoError(t, err)
	assertAmount(t, 200+800, bal.Swapped)
	assertAmount(t, 0, bal.Unswapped)

	pool, err = f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 0, pool.NextSwapAmount)
}

func TestReducePositionToZero(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)
	f.swap(t)

	_, err = f.engine.ReducePosition(ctx, alice, pos.ID, big.NewInt(301), 1, bob)
	assert.ErrorIs(t, err, domain.ErrInvalidDepositAmount)

	pos, err = f.engine.ReducePosition(ctx, alice, pos.ID, big.NewInt(300), 5, bob)
	require.NoError(t, err)
	assertAmount(t, 300, f.bank.BalanceOf(usdc, bob).Sub(f.bank.BalanceOf(usdc, bob), big.NewInt(1_000_000)))
	assertAmount(t, 0, pos.AmountPerSwap)
	assert.Equal(t, uint64(1), pos.FinalSwap)

	pool, err := f.engine.Pool(f.pool.ID)
	require.NoError(t, err)
	assertAmount(t, 0, pool.NextSwapAmount)

	got, err := f.engine.WithdrawSwapped(ctx, alice, pos.ID, common.Address{})
	require.NoError(t, err)
	assertAmount(t, 200, got)
}

func TestReducePositionRespreads(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)

	pos, err = f.engine.ReducePosition(ctx, alice, pos.ID, big.NewInt(100), 2, common.Address{})
	require.NoError(t, err)
	assertAmount(t, 150, pos.AmountPerSwap)
	assert.Equal(t, uint64(2), pos.FinalSwap)
	assertAmount(t, 1_000_000-300, f.bank.BalanceOf(usdc, alice))

	_, err = f.engine.ReducePosition(ctx, alice, pos.ID, big.NewInt(100), 0, common.Address{})
	assert.ErrorIs(t, err, domain.ErrInvalidNumberOfSwaps)
}

func TestSnapshotRestore(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 4, big.NewInt(400))
	require.NoError(t, err)
	f.swap(t)
	data, err := f.engine.Snapshot()
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	restored, err := New(Config{
		MinInterval: time.Hour,
		Custody:     custody,
		Swappers:    []common.Address{swapper},
	}, f.ex, f.bank.Account(custody), nil, logger, WithClock(f.clock.now))
	require.NoError(t, err)
	require.NoError(t, restored.Restore(data))

	bal, err := restored.Balances(pos.ID)
	require.NoError(t, err)
	assertAmount(t, 200, bal.Swapped)
	assertAmount(t, 300, bal.Unswapped)
	require.Len(t, restored.PositionsByOwner(alice), 1)

	_, err = restored.ExecuteSwap(ctx, swapper, f.pool.ID, nil)
	require.NoError(t, err)
	bal, err = restored.Balances(pos.ID)
	require.NoError(t, err)
	assertAmount(t, 400, bal.Swapped)

	next, err := restored.Deposit(ctx, bob, f.pool.ID, 1, big.NewInt(10))
	require.NoError(t, err)
	assert.Equal(t, pos.ID+1, next.ID)

	assert.Error(t, restored.Restore([]byte("{")))
}

func TestCommittedEventsArePublished(t *testing.T) {
	f := newFixture(t, 0, "2")
	ctx := context.Background()

	pos, err := f.engine.Deposit(ctx, alice, f.pool.ID, 1, big.NewInt(100))
	require.NoError(t, err)
	_, err = f.engine.Deposit(ctx, alice, f.pool.ID, 0, big.NewInt(100))
	require.Error(t, err)
	f.swap(t)
	_, _, err = f.engine.WithdrawAll(ctx, alice, pos.ID, common.Address{})
	require.NoError(t, err)

	assert.Equal(t, []domain.EventKind{
		domain.EventPoolCreated,
		domain.EventDeposited,
		domain.EventSwapped,
		domain.EventWithdrew,
	}, f.sink.kinds())
}
