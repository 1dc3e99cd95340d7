package keeper

import (
	"context"
	"errors"
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
	"github.com/alanyoungcy/dcaengine/internal/dca"
	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/exchange"
)

var (
	usdc    = common.HexToAddress("0x01")
	weth    = common.HexToAddress("0x02")
	custody = common.HexToAddress("0xc0")
	venue   = common.HexToAddress("0xee")
	swapper = common.HexToAddress("0x5a")
	alice   = common.HexToAddress("0xa1")
)

const day = 24 * time.Hour

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type memLocks struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string
}

func (m *memLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held == nil {
		m.held = map[string]bool{}
	}
	if m.held[key] {
		return nil, domain.ErrLockHeld
	}
	m.held[key] = true
	m.keys = append(m.keys, key)
	return func() {
		m.mu.Lock()
		delete(m.held, key)
		m.mu.Unlock()
	}, nil
}

type fixture struct {
	engine *dca.Engine
	ex     *exchange.Static
	now    time.Time
	pools  []domain.Pool
}

func newFixture(t *testing.T, pools int) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }

	bank := asset.NewBank()
	f.ex = exchange.NewStatic(venue, bank.Account(venue), quiet())
	rate, err := exchange.ParseRate("2")
	require.NoError(t, err)
	f.ex.SetRate(usdc, weth, rate)
	require.NoError(t, bank.Mint(weth, venue, big.NewInt(1_000_000)))
	require.NoError(t, bank.Mint(usdc, alice, big.NewInt(1_000_000)))

	f.engine, err = dca.New(dca.Config{
		MinInterval: time.Hour,
		Custody:     custody,
		Swappers:    []common.Address{swapper},
	}, f.ex, bank.Account(custody), nil, quiet(), dca.WithClock(clock))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < pools; i++ {
		p, err := f.engine.CreatePool(ctx, usdc, weth, domain.Route{usdc, weth}, day)
		require.NoError(t, err)
		_, err = f.engine.Deposit(ctx, alice, p.ID, 2, big.NewInt(1000))
		require.NoError(t, err)
		f.pools = append(f.pools, p)
	}
	return f
}

func (f *fixture) keeper(t *testing.T, cfg Config, opts ...Option) *Keeper {
	t.Helper()
	cfg.Swapper = swapper
	opts = append(opts, WithClock(func() time.Time { return f.now }))
	k, err := New(cfg, f.engine, f.ex, quiet(), opts...)
	require.NoError(t, err)
	return k
}

func TestTickExecutesEveryDuePool(t *testing.T) {
	f := newFixture(t, 3)
	locks := &memLocks{}
	k := f.keeper(t, Config{SlippageBP: 50, Concurrency: 2}, WithLocks(locks))

	r := k.Tick(context.Background())
	assert.Equal(t, Report{Due: 3, Executed: 3}, r)
	assert.ElementsMatch(t, []string{"pool:1", "pool:2", "pool:3"}, locks.keys)

	for _, p := range f.pools {
		got, err := f.engine.Pool(p.ID)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), got.PerformedSwaps)
	}

	// nothing is due until the interval passes
	assert.Equal(t, Report{}, k.Tick(context.Background()))
	f.now = f.now.Add(day)
	assert.Equal(t, 3, k.Tick(context.Background()).Executed)
}

func TestTickSkipsLockedPools(t *testing.T) {
	f := newFixture(t, 2)
	locks := &memLocks{}
	unlock, err := locks.Acquire(context.Background(), "pool:1", time.Minute)
	require.NoError(t, err)
	defer unlock()

	k := f.keeper(t, Config{}, WithLocks(locks))
	r := k.Tick(context.Background())
	assert.Equal(t, Report{Due: 2, Executed: 1, Skipped: 1}, r)
}

type brokenQuoter struct{}

func (brokenQuoter) Quote(context.Context, domain.Route, *big.Int) (*big.Int, error) {
	return nil, errors.New("no liquidity")
}

func TestFailedPoolCoolsDown(t *testing.T) {
	f := newFixture(t, 1)
	k, err := New(Config{Swapper: swapper, Cooldown: time.Hour}, f.engine, brokenQuoter{}, quiet(),
		WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	assert.Equal(t, Report{Due: 1, Failed: 1}, k.Tick(context.Background()))
	assert.Equal(t, Report{Due: 1, Skipped: 1}, k.Tick(context.Background()))

	f.now = f.now.Add(2 * time.Hour)
	assert.Equal(t, Report{Due: 1, Failed: 1}, k.Tick(context.Background()))
}

func TestSlippageTooTightFails(t *testing.T) {
	f := newFixture(t, 1)
	// quote at 2x, then the venue reprices to 1x before the swap lands
	q := &repricingQuoter{Static: f.ex, after: func() {
		rate, _ := exchange.ParseRate("1")
		f.ex.SetRate(usdc, weth, rate)
	}}
	k, err := New(Config{Swapper: swapper, SlippageBP: 100}, f.engine, q, quiet(),
		WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)

	assert.Equal(t, Report{Due: 1, Failed: 1}, k.Tick(context.Background()))
	p, err := f.engine.Pool(f.pools[0].ID)
	require.NoError(t, err)
	assert.Zero(t, p.PerformedSwaps)
}

type repricingQuoter struct {
	*exchange.Static
	after func()
}

func (q *repricingQuoter) Quote(ctx context.Context, route domain.Route, amountIn *big.Int) (*big.Int, error) {
	out, err := q.Static.Quote(ctx, route, amountIn)
	q.after()
	return out, err
}

func TestNewValidates(t *testing.T) {
	_, err := New(Config{}, nil, nil, quiet())
	assert.Error(t, err)

	_, err = New(Config{Swapper: swapper, SlippageBP: domain.BPS + 1}, nil, nil, quiet())
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
}

func TestCooldown(t *testing.T) {
	c := NewCooldown(time.Minute)
	now := time.Unix(1000, 0)
	c.Mark(7, now)
	assert.True(t, c.Blocked(7, now.Add(30*time.Second)))
	assert.False(t, c.Blocked(7, now.Add(time.Minute)))
	c.Cleanup(now.Add(2 * time.Minute))
	c.Mark(8, now)
	c.Clear(8)
	assert.False(t, c.Blocked(8, now))
}
