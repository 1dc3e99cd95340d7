package ledger

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
	usdc       = common.HexToAddress("0x01")
	weth       = common.HexToAddress("0x02")
	custody    = common.HexToAddress("0xfe")
	strategist = common.HexToAddress("0x51")
	referrer   = common.HexToAddress("0x52")
)

func newLedger(t *testing.T) (*Ledger, *asset.Bank) {
	t.Helper()
	bank := asset.NewBank()
	l := New(custody, bank.Account(custody), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return l, bank
}

func credit(t *testing.T, l *Ledger, bank *asset.Bank, key domain.RewardKey, amount int64) {
	t.Helper()
	require.NoError(t, bank.Mint(key.Token, custody, big.NewInt(amount)))
	tx := txlog.Begin(context.Background(), time.Now())
	require.NoError(t, l.Credit(tx, key, big.NewInt(amount)))
	tx.Commit()
}

func TestCreditAccumulates(t *testing.T) {
	l, bank := newLedger(t)
	key := domain.RewardKey{Kind: domain.RewardStrategist, Principal: strategist, Token: usdc}
	credit(t, l, bank, key, 30)
	credit(t, l, bank, key, 12)

	assert.Equal(t, "42", l.Balance(key).String())
	other := domain.RewardKey{Kind: domain.RewardReferrer, Principal: strategist, Token: usdc}
	assert.Equal(t, "0", l.Balance(other).String())
}

func TestCreditRollsBack(t *testing.T) {
	l, _ := newLedger(t)
	key := domain.RewardKey{Kind: domain.RewardReferrer, Principal: referrer, Token: usdc}

	tx := txlog.Begin(context.Background(), time.Now())
	require.NoError(t, l.Credit(tx, key, big.NewInt(5)))
	assert.Equal(t, "5", l.Balance(key).String())
	require.NoError(t, tx.Rollback())
	assert.Equal(t, "0", l.Balance(key).String())
	assert.Empty(t, l.Balances(domain.RewardReferrer, referrer))
}

func TestCollectPaysEveryToken(t *testing.T) {
	l, bank := newLedger(t)
	credit(t, l, bank, domain.RewardKey{Kind: domain.RewardStrategist, Principal: strategist, Token: usdc}, 10)
	credit(t, l, bank, domain.RewardKey{Kind: domain.RewardStrategist, Principal: strategist, Token: weth}, 3)
	credit(t, l, bank, domain.RewardKey{Kind: domain.RewardReferrer, Principal: strategist, Token: usdc}, 7)

	tx := txlog.Begin(context.Background(), time.Now())
	paid, err := l.Collect(tx, domain.RewardStrategist, strategist)
	require.NoError(t, err)
	events := tx.Commit()

	require.Len(t, paid, 2)
	assert.Len(t, events, 2)
	assert.Equal(t, "10", bank.BalanceOf(usdc, strategist).String())
	assert.Equal(t, "3", bank.BalanceOf(weth, strategist).String())
	assert.Empty(t, l.Balances(domain.RewardStrategist, strategist))
	// The referrer balance of the same principal is untouched.
	assert.Len(t, l.Balances(domain.RewardReferrer, strategist), 1)
	assert.Equal(t, "7", bank.BalanceOf(usdc, custody).String())
}

func TestCollectNothingEmitsZeroEvent(t *testing.T) {
	l, _ := newLedger(t)
	tx := txlog.Begin(context.Background(), time.Now())
	paid, err := l.Collect(tx, domain.RewardReferrer, referrer)
	require.NoError(t, err)
	assert.Empty(t, paid)

	events := tx.Commit()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventRewardsCollected, events[0].Kind)
	assert.Equal(t, "0", events[0].Attrs["amount"])
}

func TestCollectRollsBackTransfer(t *testing.T) {
	l, bank := newLedger(t)
	key := domain.RewardKey{Kind: domain.RewardProtocol, Principal: referrer, Token: usdc}
	credit(t, l, bank, key, 9)

	tx := txlog.Begin(context.Background(), time.Now())
	_, err := l.CollectToken(tx, key.Kind, key.Principal, key.Token)
	require.NoError(t, err)
	assert.Equal(t, "9", bank.BalanceOf(usdc, referrer).String())
	require.NoError(t, tx.Rollback())

	assert.Equal(t, "9", l.Balance(key).String())
	assert.Equal(t, "0", bank.BalanceOf(usdc, referrer).String())
	assert.Equal(t, "9", bank.BalanceOf(usdc, custody).String())
}

func TestCollectFailsWhenCustodyShort(t *testing.T) {
	l, _ := newLedger(t)
	key := domain.RewardKey{Kind: domain.RewardProtocol, Principal: referrer, Token: usdc}
	tx := txlog.Begin(context.Background(), time.Now())
	require.NoError(t, l.Credit(tx, key, big.NewInt(4)))
	tx.Commit()

	tx = txlog.Begin(context.Background(), time.Now())
	_, err := l.CollectToken(tx, key.Kind, key.Principal, key.Token)
	require.True(t, errors.Is(err, domain.ErrInsufficientBalance))
	require.NoError(t, tx.Rollback())
	assert.Equal(t, "4", l.Balance(key).String())
}

func TestSnapshotRestore(t *testing.T) {
	l, bank := newLedger(t)
	credit(t, l, bank, domain.RewardKey{Kind: domain.RewardStrategist, Principal: strategist, Token: usdc}, 10)
	credit(t, l, bank, domain.RewardKey{Kind: domain.RewardReferrer, Principal: referrer, Token: weth}, 2)

	data, err := l.Snapshot()
	require.NoError(t, err)

	restored, _ := newLedger(t)
	require.NoError(t, restored.Restore(data))
	assert.Equal(t, "10", restored.Balance(domain.RewardKey{Kind: domain.RewardStrategist, Principal: strategist, Token: usdc}).String())
	assert.Equal(t, "2", restored.Balance(domain.RewardKey{Kind: domain.RewardReferrer, Principal: referrer, Token: weth}).String())
	assert.Error(t, restored.Restore([]byte("nope")))
}
