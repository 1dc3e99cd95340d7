// Package asset provides the in-process settlement layer: a token balance
// book with per-account transfer handles.
package asset

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// Bank holds token balances keyed by token then holder.
type Bank struct {
	mu       sync.RWMutex
	balances map[common.Address]map[common.Address]*big.Int
}

// NewBank creates an empty Bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[common.Address]map[common.Address]*big.Int)}
}

// Mint credits amount of token to holder out of thin air.
func (b *Bank) Mint(token, holder common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("asset: mint negative amount")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.add(token, holder, amount)
	return nil
}

// BalanceOf returns holder's balance of token.
func (b *Bank) BalanceOf(token, holder common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if v, ok := b.balances[token][holder]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// Supply returns the total balance of token across all holders.
func (b *Bank) Supply(token common.Address) *big.Int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	total := new(big.Int)
	for _, v := range b.balances[token] {
		total.Add(total, v)
	}
	return total
}

// Account returns a transfer handle that debits holder.
func (b *Bank) Account(holder common.Address) *Account {
	return &Account{bank: b, holder: holder}
}

func (b *Bank) move(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("asset: negative transfer of %s", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	have := b.balances[token][from]
	if have == nil || have.Cmp(amount) < 0 {
		return fmt.Errorf("asset: %s holds %s of %s, needs %s: %w",
			from.Hex(), domain.Clone(have), token.Hex(), amount, domain.ErrInsufficientBalance)
	}
	have.Sub(have, amount)
	b.add(token, to, amount)
	return nil
}

func (b *Bank) add(token, holder common.Address, amount *big.Int) {
	book, ok := b.balances[token]
	if !ok {
		book = make(map[common.Address]*big.Int)
		b.balances[token] = book
	}
	v, ok := book[holder]
	if !ok {
		v = new(big.Int)
		book[holder] = v
	}
	v.Add(v, amount)
}

type bankSnapshot struct {
	Balances map[common.Address]map[common.Address]*big.Int `json:"balances"`
}

// Snapshot serializes every balance.
func (b *Bank) Snapshot() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return json.Marshal(bankSnapshot{Balances: b.balances})
}

// Restore replaces every balance with the snapshot content.
func (b *Bank) Restore(data []byte) error {
	var snap bankSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("asset: decode snapshot: %w", err)
	}
	if snap.Balances == nil {
		snap.Balances = make(map[common.Address]map[common.Address]*big.Int)
	}
	b.mu.Lock()
	b.balances = snap.Balances
	b.mu.Unlock()
	return nil
}

// Account is a Bank handle bound to one holder.
type Account struct {
	bank   *Bank
	holder common.Address
}

// Address returns the holder this handle debits.
func (a *Account) Address() common.Address { return a.holder }

// Balance returns the holder's balance of token.
func (a *Account) Balance(token common.Address) *big.Int {
	return a.bank.BalanceOf(token, a.holder)
}

// TransferFrom moves amount of token between two arbitrary holders.
func (a *Account) TransferFrom(_ context.Context, token, from, to common.Address, amount *big.Int) error {
	return a.bank.move(token, from, to, amount)
}

// Transfer moves amount of token from the bound holder to to.
func (a *Account) Transfer(_ context.Context, token, to common.Address, amount *big.Int) error {
	return a.bank.move(token, a.holder, to, amount)
}

var _ domain.AssetTransfer = (*Account)(nil)
