package product

import (
	"context"
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
	"github.com/alanyoungcy/dcaengine/internal/exchange"
	"github.com/alanyoungcy/dcaengine/internal/txlog"
)

var (
	usdc     = common.HexToAddress("0x01")
	weth     = common.HexToAddress("0x02")
	custody  = common.HexToAddress("0xad")
	venue    = common.HexToAddress("0xee")
	investor = common.HexToAddress("0xaa")
	other    = common.HexToAddress("0xbb")
	donor    = common.HexToAddress("0xdd")
	vaultT   = common.HexToAddress("0x7001")
	rangeT   = common.HexToAddress("0x7002")
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newBank(t *testing.T) *asset.Bank {
	t.Helper()
	bank := asset.NewBank()
	require.NoError(t, bank.Mint(usdc, investor, big.NewInt(10_000)))
	require.NoError(t, bank.Mint(usdc, other, big.NewInt(10_000)))
	require.NoError(t, bank.Mint(usdc, donor, big.NewInt(10_000)))
	return bank
}

func begin() *txlog.Tx { return txlog.Begin(context.Background(), time.Now()) }

func invest(t *testing.T, a domain.ProductAdapter, target, token, payer common.Address, amount int64) domain.Receipt {
	t.Helper()
	tx := begin()
	r, err := a.Invest(tx, domain.AdapterInvest{Target: target, Token: token, Amount: big.NewInt(amount), Payer: payer})
	require.NoError(t, err)
	tx.Commit()
	return r
}

func settle(t *testing.T, a domain.ProductAdapter, r domain.Receipt, to common.Address) domain.Settlement {
	t.Helper()
	tx := begin()
	s, err := a.Settle(tx, r, to)
	require.NoError(t, err)
	tx.Commit()
	return s
}

func accrue(t *testing.T, a domain.YieldAccruer, target common.Address, amount int64) {
	t.Helper()
	tx := begin()
	require.NoError(t, a.Accrue(tx, target, donor, big.NewInt(amount)))
	tx.Commit()
}

func TestVaultYieldSplitsByShares(t *testing.T) {
	bank := newBank(t)
	v := NewVault(custody, bank.Account(custody), map[common.Address]common.Address{vaultT: usdc}, discard())

	tok, err := v.Asset(vaultT)
	require.NoError(t, err)
	assert.Equal(t, usdc, tok)
	_, err = v.Asset(rangeT)
	assert.ErrorIs(t, err, domain.ErrInvalidProduct)

	a := invest(t, v, vaultT, usdc, investor, 1000)
	accrue(t, v, vaultT, 100)
	b := invest(t, v, vaultT, usdc, other, 1100)

	preview, err := v.PreviewRedeem(a.Ref)
	require.NoError(t, err)
	assert.Equal(t, "1100", preview.String())

	accrue(t, v, vaultT, 220)

	sa := settle(t, v, a, investor)
	assert.Equal(t, "1000", sa.Principal.String())
	assert.Equal(t, "210", sa.Yield.String())
	sb := settle(t, v, b, other)
	assert.Equal(t, "1100", sb.Principal.String())
	assert.Equal(t, "110", sb.Yield.String())
	assert.Equal(t, "0", bank.BalanceOf(usdc, custody).String())

	tx := begin()
	_, err = v.Settle(tx, a, investor)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestVaultRejectsWrongToken(t *testing.T) {
	bank := newBank(t)
	v := NewVault(custody, bank.Account(custody), map[common.Address]common.Address{vaultT: usdc}, discard())
	tx := begin()
	_, err := v.Invest(tx, domain.AdapterInvest{Target: vaultT, Token: weth, Amount: big.NewInt(1), Payer: investor})
	assert.ErrorIs(t, err, domain.ErrInvalidRoute)
	_, err = v.Invest(tx, domain.AdapterInvest{Target: vaultT, Token: usdc, Amount: big.NewInt(0), Payer: investor})
	assert.ErrorIs(t, err, domain.ErrInvalidDepositAmount)
}

func TestVaultInvestRollsBack(t *testing.T) {
	bank := newBank(t)
	v := NewVault(custody, bank.Account(custody), map[common.Address]common.Address{vaultT: usdc}, discard())
	before, err := v.Snapshot()
	require.NoError(t, err)

	tx := begin()
	_, err = v.Invest(tx, domain.AdapterInvest{Target: vaultT, Token: usdc, Amount: big.NewInt(500), Payer: investor})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	after, err := v.Snapshot()
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
	assert.Equal(t, "10000", bank.BalanceOf(usdc, investor).String())
}

func TestVaultAccrueRejectsEmptyTarget(t *testing.T) {
	bank := newBank(t)
	v := NewVault(custody, bank.Account(custody), map[common.Address]common.Address{vaultT: usdc}, discard())
	tx := begin()
	assert.ErrorIs(t, v.Accrue(tx, vaultT, donor, big.NewInt(100)), domain.ErrNotFound)
	assert.ErrorIs(t, v.Accrue(tx, rangeT, donor, big.NewInt(100)), domain.ErrInvalidProduct)
	assert.ErrorIs(t, v.Accrue(tx, vaultT, donor, big.NewInt(0)), domain.ErrInvalidDepositAmount)
	assert.Equal(t, "10000", bank.BalanceOf(usdc, donor).String())
}

func TestVaultRollbackKeepsYieldCommittedMeanwhile(t *testing.T) {
	bank := newBank(t)
	v := NewVault(custody, bank.Account(custody), map[common.Address]common.Address{vaultT: usdc}, discard())
	a := invest(t, v, vaultT, usdc, investor, 1000)

	open := begin()
	_, err := v.Invest(open, domain.AdapterInvest{Target: vaultT, Token: usdc, Amount: big.NewInt(500), Payer: other})
	require.NoError(t, err)
	accrue(t, v, vaultT, 300)
	require.NoError(t, open.Rollback())

	assert.Equal(t, "1300", bank.BalanceOf(usdc, custody).String())
	assert.Equal(t, "10000", bank.BalanceOf(usdc, other).String())
	preview, err := v.PreviewRedeem(a.Ref)
	require.NoError(t, err)
	assert.Equal(t, "1300", preview.String())

	s := settle(t, v, a, investor)
	assert.Equal(t, "300", s.Yield.String())
	assert.Equal(t, "0", bank.BalanceOf(usdc, custody).String())
}

func TestVaultCollectLeavesSharesInvested(t *testing.T) {
	bank := newBank(t)
	v := NewVault(custody, bank.Account(custody), map[common.Address]common.Address{vaultT: usdc}, discard())
	a := invest(t, v, vaultT, usdc, investor, 1000)
	accrue(t, v, vaultT, 100)

	tx := begin()
	s, err := v.Collect(tx, a, investor)
	require.NoError(t, err)
	tx.Commit()
	assert.Equal(t, "0", s.Total().String())
	assert.Equal(t, "1100", bank.BalanceOf(usdc, custody).String())
}

func TestLiquidityFeesAccrueToHoldersInRange(t *testing.T) {
	bank := newBank(t)
	l := NewLiquidity(custody, bank.Account(custody), map[common.Address]common.Address{rangeT: usdc}, discard())

	a := invest(t, l, rangeT, usdc, investor, 300)
	accrue(t, l, rangeT, 30)
	b := invest(t, l, rangeT, usdc, other, 100)
	accrue(t, l, rangeT, 40)

	pending, err := l.PendingFees(b.Ref)
	require.NoError(t, err)
	assert.Equal(t, "10", pending.String())

	sa := settle(t, l, a, investor)
	assert.Equal(t, "300", sa.Principal.String())
	assert.Equal(t, "60", sa.Yield.String())
	sb := settle(t, l, b, other)
	assert.Equal(t, "10", sb.Yield.String())
	assert.Equal(t, "0", bank.BalanceOf(usdc, custody).String())
}

func TestLiquidityCollectHarvestsFees(t *testing.T) {
	bank := newBank(t)
	l := NewLiquidity(custody, bank.Account(custody), map[common.Address]common.Address{rangeT: usdc}, discard())
	a := invest(t, l, rangeT, usdc, investor, 300)
	accrue(t, l, rangeT, 30)

	collect := func() domain.Settlement {
		tx := begin()
		s, err := l.Collect(tx, a, investor)
		require.NoError(t, err)
		tx.Commit()
		return s
	}

	s := collect()
	assert.Equal(t, "0", s.Principal.String())
	assert.Equal(t, "30", s.Yield.String())
	pending, err := l.PendingFees(a.Ref)
	require.NoError(t, err)
	assert.Equal(t, "0", pending.String())
	assert.Equal(t, "0", collect().Yield.String())

	accrue(t, l, rangeT, 60)
	tx := begin()
	_, err = l.Collect(tx, a, investor)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	pending, err = l.PendingFees(a.Ref)
	require.NoError(t, err)
	assert.Equal(t, "60", pending.String())
	assert.Equal(t, "9730", bank.BalanceOf(usdc, investor).String())

	final := settle(t, l, a, investor)
	assert.Equal(t, "300", final.Principal.String())
	assert.Equal(t, "60", final.Yield.String())
	assert.Equal(t, "0", bank.BalanceOf(usdc, custody).String())
}

func TestLiquidityAccrueRollsBack(t *testing.T) {
	bank := newBank(t)
	l := NewLiquidity(custody, bank.Account(custody), map[common.Address]common.Address{rangeT: usdc}, discard())
	a := invest(t, l, rangeT, usdc, investor, 100)

	tx := begin()
	require.NoError(t, l.Accrue(tx, rangeT, donor, big.NewInt(50)))
	require.NoError(t, tx.Rollback())

	pending, err := l.PendingFees(a.Ref)
	require.NoError(t, err)
	assert.Equal(t, "0", pending.String())
	assert.Equal(t, "10000", bank.BalanceOf(usdc, donor).String())
}

func TestLiquiditySnapshotRestore(t *testing.T) {
	bank := newBank(t)
	targets := map[common.Address]common.Address{rangeT: usdc}
	l := NewLiquidity(custody, bank.Account(custody), targets, discard())
	a := invest(t, l, rangeT, usdc, investor, 200)
	accrue(t, l, rangeT, 20)

	data, err := l.Snapshot()
	require.NoError(t, err)
	restored := NewLiquidity(custody, bank.Account(custody), targets, discard())
	require.NoError(t, restored.Restore(data))

	s := settle(t, restored, a, investor)
	assert.Equal(t, "20", s.Yield.String())
}

func TestBuyHoldsBoughtToken(t *testing.T) {
	bank := newBank(t)
	ex := exchange.NewStatic(venue, bank.Account(venue), discard())
	rate, err := exchange.ParseRate("0.5")
	require.NoError(t, err)
	ex.SetRate(usdc, weth, rate)
	require.NoError(t, bank.Mint(weth, venue, big.NewInt(1_000_000)))

	b := NewBuy(custody, bank.Account(custody), ex, []common.Address{weth}, discard())
	_, err = b.Asset(usdc)
	assert.ErrorIs(t, err, domain.ErrInvalidProduct)

	r := invest(t, b, weth, usdc, investor, 400)
	assert.Equal(t, weth, r.Token)
	assert.Equal(t, "200", r.Principal.String())
	assert.Equal(t, "200", bank.BalanceOf(weth, custody).String())

	s := settle(t, b, r, investor)
	assert.Equal(t, "200", s.Total().String())
	assert.Equal(t, "200", bank.BalanceOf(weth, investor).String())
}

func TestBuyCollectEarnsNothing(t *testing.T) {
	bank := newBank(t)
	ex := exchange.NewStatic(venue, bank.Account(venue), discard())
	rate, err := exchange.ParseRate("0.5")
	require.NoError(t, err)
	ex.SetRate(usdc, weth, rate)
	require.NoError(t, bank.Mint(weth, venue, big.NewInt(1_000_000)))
	b := NewBuy(custody, bank.Account(custody), ex, []common.Address{weth}, discard())
	r := invest(t, b, weth, usdc, investor, 400)

	tx := begin()
	s, err := b.Collect(tx, r, investor)
	require.NoError(t, err)
	tx.Commit()
	assert.Equal(t, "0", s.Total().String())
	assert.Equal(t, "200", bank.BalanceOf(weth, custody).String())
}

func TestBuyRollbackReturnsInput(t *testing.T) {
	bank := newBank(t)
	ex := exchange.NewStatic(venue, bank.Account(venue), discard())
	rate, err := exchange.ParseRate("0.5")
	require.NoError(t, err)
	ex.SetRate(usdc, weth, rate)
	require.NoError(t, bank.Mint(weth, venue, big.NewInt(1_000_000)))
	b := NewBuy(custody, bank.Account(custody), ex, []common.Address{weth}, discard())

	tx := begin()
	_, err = b.Invest(tx, domain.AdapterInvest{
		Target: weth, Token: usdc, Amount: big.NewInt(400), Payer: investor,
		Swap: domain.SwapEncoding{MinOut: big.NewInt(201)},
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientOutput)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, "10000", bank.BalanceOf(usdc, investor).String())
	assert.Equal(t, "0", bank.BalanceOf(usdc, custody).String())
}
