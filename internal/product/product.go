// Package product implements the non-DCA strategy legs: share-based yield
// vaults, fee-earning liquidity ranges and spot buys. Every adapter holds
// committed capital in its own custody account.
package product

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// custodian moves tokens in and out of an adapter's custody account and
// registers the inverse transfer on the enclosing scope.
type custodian struct {
	custody common.Address
	assets  domain.AssetTransfer
}

func (c custodian) pull(scope domain.TxScope, token, from common.Address, amount *big.Int) error {
	if domain.IsZero(amount) {
		return nil
	}
	if err := c.assets.TransferFrom(scope.Context(), token, from, c.custody, amount); err != nil {
		return err
	}
	amt := domain.Clone(amount)
	scope.Defer(func(ctx context.Context) error {
		return c.assets.Transfer(ctx, token, from, amt)
	})
	return nil
}

func (c custodian) pay(scope domain.TxScope, token, to common.Address, amount *big.Int) error {
	if domain.IsZero(amount) {
		return nil
	}
	if err := c.assets.Transfer(scope.Context(), token, to, amount); err != nil {
		return err
	}
	amt := domain.Clone(amount)
	scope.Defer(func(ctx context.Context) error {
		return c.assets.TransferFrom(ctx, token, to, c.custody, amt)
	})
	return nil
}

func checkInvest(p domain.Product, req domain.AdapterInvest) error {
	if domain.IsZero(req.Amount) || req.Amount.Sign() < 0 {
		return fmt.Errorf("%s: invest %s: %w", p, req.Target.Hex(), domain.ErrInvalidDepositAmount)
	}
	return nil
}

func checkReceipt(p domain.Product, r domain.Receipt) error {
	if r.Product != p {
		return fmt.Errorf("%s: settle %s receipt: %w", p, r.Product, domain.ErrInvalidProduct)
	}
	return nil
}
