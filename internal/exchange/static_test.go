package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/asset"
	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/txlog"
)

var (
	usdc  = common.HexToAddress("0x01")
	weth  = common.HexToAddress("0x02")
	wbtc  = common.HexToAddress("0x03")
	venue = common.HexToAddress("0xee")
	user  = common.HexToAddress("0xaa")
)

func newStatic(t *testing.T) (*Static, *asset.Bank) {
	t.Helper()
	bank := asset.NewBank()
	ex := NewStatic(venue, bank.Account(venue), slog.New(slog.NewTextHandler(io.Discard, nil)))
	rate, err := ParseRate("0.5")
	require.NoError(t, err)
	ex.SetRate(usdc, weth, rate)
	rate, err = ParseRate("0.1")
	require.NoError(t, err)
	ex.SetRate(weth, wbtc, rate)
	require.NoError(t, bank.Mint(weth, venue, big.NewInt(1_000_000)))
	require.NoError(t, bank.Mint(usdc, user, big.NewInt(1_000)))
	return ex, bank
}

func TestParseRate(t *testing.T) {
	_, err := ParseRate("abc")
	assert.Error(t, err)
	_, err = ParseRate("0")
	assert.Error(t, err)
	r, err := ParseRate("1850.25")
	require.NoError(t, err)
	assert.Equal(t, "1850.25", r.String())
}

func TestQuoteMultiHopFloorsEachHop(t *testing.T) {
	ex, _ := newStatic(t)
	out, err := ex.Quote(context.Background(), domain.Route{usdc, weth, wbtc}, big.NewInt(1_001))
	require.NoError(t, err)
	// 1001*0.5 = 500 (floor), 500*0.1 = 50.
	assert.Equal(t, "50", out.String())

	_, err = ex.Quote(context.Background(), domain.Route{wbtc, usdc}, big.NewInt(1))
	assert.ErrorIs(t, err, domain.ErrInvalidRoute)
}

func TestSwapRespectsMinOut(t *testing.T) {
	ex, bank := newStatic(t)
	ctx := context.Background()

	_, err := ex.Swap(ctx, domain.SwapRequest{
		Route: domain.Route{usdc, weth}, AmountIn: big.NewInt(100), MinOut: big.NewInt(51),
		Payer: user, Recipient: user,
	})
	require.ErrorIs(t, err, domain.ErrInsufficientOutput)
	assert.Equal(t, "1000", bank.BalanceOf(usdc, user).String())

	fill, err := ex.Swap(ctx, domain.SwapRequest{
		Route: domain.Route{usdc, weth}, AmountIn: big.NewInt(100), MinOut: big.NewInt(50),
		Payer: user, Recipient: user,
	})
	require.NoError(t, err)
	assert.Equal(t, "50", fill.AmountOut.String())
	assert.Equal(t, venue, fill.Venue)
	assert.Equal(t, "900", bank.BalanceOf(usdc, user).String())
	assert.Equal(t, "50", bank.BalanceOf(weth, user).String())
}

func TestDoReversesOnRollback(t *testing.T) {
	ex, bank := newStatic(t)
	tx := txlog.Begin(context.Background(), time.Now())

	out, err := Do(tx, ex, bank.Account(user), domain.SwapRequest{
		Route: domain.Route{usdc, weth}, AmountIn: big.NewInt(200), Payer: user, Recipient: user,
	})
	require.NoError(t, err)
	assert.Equal(t, "100", out.String())

	require.NoError(t, tx.Rollback())
	assert.Equal(t, "1000", bank.BalanceOf(usdc, user).String())
	assert.Equal(t, "0", bank.BalanceOf(weth, user).String())
	assert.Equal(t, "1000000", bank.BalanceOf(weth, venue).String())
}

type failingExchange struct{}

func (failingExchange) Swap(context.Context, domain.SwapRequest) (domain.SwapFill, error) {
	return domain.SwapFill{}, errors.New("router reverted")
}

func (failingExchange) Quote(context.Context, domain.Route, *big.Int) (*big.Int, error) {
	return nil, errors.New("router reverted")
}

func TestDoPropagatesExchangeError(t *testing.T) {
	_, bank := newStatic(t)
	tx := txlog.Begin(context.Background(), time.Now())
	_, err := Do(tx, failingExchange{}, bank.Account(user), domain.SwapRequest{
		Route: domain.Route{usdc, weth}, AmountIn: big.NewInt(1), Payer: user, Recipient: user,
	})
	require.Error(t, err)
	assert.Zero(t, tx.Len())
}

func TestSnapshotRoundTrip(t *testing.T) {
	ex, bank := newStatic(t)
	data, err := ex.Snapshot()
	require.NoError(t, err)

	other := NewStatic(venue, bank.Account(venue), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, other.Restore(data))
	out, err := other.Quote(context.Background(), domain.Route{usdc, weth, wbtc}, big.NewInt(1_000))
	require.NoError(t, err)
	assert.Equal(t, "50", out.String())
}
