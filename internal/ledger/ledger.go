// Package ledger accrues strategist, referrer and protocol rewards and pays
// them out on collection. Funds sit in the ledger's own custody account.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// Ledger maps (kind, principal, token) to an accrued balance. Mutations run
// inside a caller-provided scope and are reverted with it.
type Ledger struct {
	mu       sync.RWMutex
	custody  common.Address
	assets   domain.AssetTransfer
	balances map[domain.RewardKey]*big.Int
	logger   *slog.Logger
}

// New creates an empty ledger. assets must be bound to custody.
func New(custody common.Address, assets domain.AssetTransfer, logger *slog.Logger) *Ledger {
	return &Ledger{
		custody:  custody,
		assets:   assets,
		balances: make(map[domain.RewardKey]*big.Int),
		logger:   logger.With(slog.String("component", "ledger")),
	}
}

// Custody implements domain.RewardCrediter.
func (l *Ledger) Custody() common.Address { return l.custody }

// Credit adds amount to key. The tokens must already be in custody.
func (l *Ledger) Credit(scope domain.TxScope, key domain.RewardKey, amount *big.Int) error {
	if domain.IsZero(amount) {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("ledger: credit %s %s: negative amount %s", key.Kind, key.Principal.Hex(), amount)
	}
	l.set(scope, key, new(big.Int).Add(l.Balance(key), amount))
	scope.Emit(domain.EventRewardCredited, map[string]string{
		"kind":      string(key.Kind),
		"principal": key.Principal.Hex(),
		"token":     key.Token.Hex(),
		"amount":    amount.String(),
	})
	return nil
}

// Balance returns the accrued amount for key.
func (l *Ledger) Balance(key domain.RewardKey) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return domain.Clone(l.balances[key])
}

// Balances returns every non-zero balance of principal for kind, ordered by
// token.
func (l *Ledger) Balances(kind domain.RewardKind, principal common.Address) []domain.RewardBalance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []domain.RewardBalance
	for key, v := range l.balances {
		if key.Kind == kind && key.Principal == principal && v.Sign() > 0 {
			out = append(out, domain.RewardBalance{RewardKey: key, Amount: domain.Clone(v)})
		}
	}
	sortBalances(out)
	return out
}

// Collect pays every token balance of principal for kind and zeroes it. A
// principal with nothing accrued gets one zero-amount event and no error.
func (l *Ledger) Collect(scope domain.TxScope, kind domain.RewardKind, principal common.Address) ([]domain.RewardBalance, error) {
	due := l.Balances(kind, principal)
	if len(due) == 0 {
		scope.Emit(domain.EventRewardsCollected, map[string]string{
			"kind":      string(kind),
			"principal": principal.Hex(),
			"amount":    "0",
		})
		return nil, nil
	}
	for _, b := range due {
		if _, err := l.CollectToken(scope, kind, principal, b.Token); err != nil {
			return nil, err
		}
	}
	return due, nil
}

// CollectToken pays one token balance of principal and zeroes it.
func (l *Ledger) CollectToken(scope domain.TxScope, kind domain.RewardKind, principal, token common.Address) (*big.Int, error) {
	key := domain.RewardKey{Kind: kind, Principal: principal, Token: token}
	amount := l.Balance(key)
	if amount.Sign() > 0 {
		l.set(scope, key, new(big.Int))
		if err := l.assets.Transfer(scope.Context(), token, principal, amount); err != nil {
			return nil, fmt.Errorf("ledger: pay %s rewards to %s: %w", kind, principal.Hex(), err)
		}
		paid := domain.Clone(amount)
		scope.Defer(func(ctx context.Context) error {
			return l.assets.TransferFrom(ctx, token, principal, l.custody, paid)
		})
		l.logger.InfoContext(scope.Context(), "ledger: rewards collected",
			slog.String("kind", string(kind)),
			slog.String("principal", principal.Hex()),
			slog.String("token", token.Hex()),
			slog.String("amount", amount.String()),
		)
	}
	scope.Emit(domain.EventRewardsCollected, map[string]string{
		"kind":      string(kind),
		"principal": principal.Hex(),
		"token":     token.Hex(),
		"amount":    amount.String(),
	})
	return amount, nil
}

// set writes key and registers the inverse write on scope.
func (l *Ledger) set(scope domain.TxScope, key domain.RewardKey, v *big.Int) {
	l.mu.Lock()
	prev, had := l.balances[key]
	if v.Sign() == 0 {
		delete(l.balances, key)
	} else {
		l.balances[key] = v
	}
	l.mu.Unlock()

	scope.Defer(func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if had {
			l.balances[key] = prev
		} else {
			delete(l.balances, key)
		}
		return nil
	})
}

// Snapshot serializes every non-zero balance.
func (l *Ledger) Snapshot() ([]byte, error) {
	l.mu.RLock()
	out := make([]domain.RewardBalance, 0, len(l.balances))
	for key, v := range l.balances {
		out = append(out, domain.RewardBalance{RewardKey: key, Amount: domain.Clone(v)})
	}
	l.mu.RUnlock()
	sortBalances(out)
	return json.Marshal(out)
}

// Restore replaces every balance with the snapshot content.
func (l *Ledger) Restore(data []byte) error {
	var in []domain.RewardBalance
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("ledger: decode snapshot: %w", err)
	}
	balances := make(map[domain.RewardKey]*big.Int, len(in))
	for _, b := range in {
		if b.Amount == nil || b.Amount.Sign() <= 0 {
			continue
		}
		balances[b.RewardKey] = b.Amount
	}
	l.mu.Lock()
	l.balances = balances
	l.mu.Unlock()
	return nil
}

func sortBalances(bs []domain.RewardBalance) {
	sort.Slice(bs, func(i, j int) bool {
		a, b := bs[i].RewardKey, bs[j].RewardKey
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if c := bytes.Compare(a.Principal[:], b.Principal[:]); c != 0 {
			return c < 0
		}
		return bytes.Compare(a.Token[:], b.Token[:]) < 0
	})
}

var _ domain.RewardCrediter = (*Ledger)(nil)
