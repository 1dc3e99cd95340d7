package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Product is a category of sub-investment a strategy can route capital to.
type Product string

const (
	ProductDCA       Product = "dca"
	ProductVault     Product = "vault"
	ProductLiquidity Product = "liquidity"
	ProductBuy       Product = "buy"
)

// Products lists every product category in a fixed order.
var Products = []Product{ProductDCA, ProductVault, ProductLiquidity, ProductBuy}

// Valid reports whether p is a known product.
func (p Product) Valid() bool {
	switch p {
	case ProductDCA, ProductVault, ProductLiquidity, ProductBuy:
		return true
	}
	return false
}

// Investment is one weighted leg of a strategy. DCA legs name a pool and a
// swap count; every other product names an adapter target.
type Investment struct {
	Product   Product        `json:"product"`
	PoolID    uint64         `json:"pool_id,omitempty"`
	Swaps     uint64         `json:"swaps,omitempty"`
	Target    common.Address `json:"target,omitempty"`
	PercentBP uint32         `json:"percent_bp"`
}

// Strategy is a percentage-weighted composition of sub-investments.
type Strategy struct {
	ID           uint64         `json:"id"`
	Creator      common.Address `json:"creator"`
	Investments  []Investment   `json:"investments"`
	Hot          bool           `json:"hot"`
	MetadataHash common.Hash    `json:"metadata_hash"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Clone returns a deep copy.
func (s Strategy) Clone() Strategy {
	s.Investments = append([]Investment(nil), s.Investments...)
	return s
}

// Weights sums the percentage each product occupies in the strategy.
func (s Strategy) Weights() map[Product]uint32 {
	out := make(map[Product]uint32, len(Products))
	for _, inv := range s.Investments {
		out[inv.Product] += inv.PercentBP
	}
	return out
}

// Counts returns the number of investments per product.
func (s Strategy) Counts() map[Product]int {
	out := make(map[Product]int, len(Products))
	for _, inv := range s.Investments {
		out[inv.Product]++
	}
	return out
}

// SwapEncoding is an optional pre-swap applied to one investment's share.
// An empty route means the share is used as-is.
type SwapEncoding struct {
	Route  Route    `json:"route,omitempty"`
	MinOut *big.Int `json:"min_out,omitempty"`
}

// Empty reports whether the encoding requests no swap.
func (e SwapEncoding) Empty() bool {
	return len(e.Route) == 0
}

// DCASubPosition references a pool position owned on behalf of an investor.
type DCASubPosition struct {
	PoolID     uint64 `json:"pool_id"`
	PositionID uint64 `json:"position_id"`
}

// StrategyPosition groups every sub-position created by one invest call.
type StrategyPosition struct {
	ID         uint64           `json:"id"`
	Investor   common.Address   `json:"investor"`
	StrategyID uint64           `json:"strategy_id"`
	InputToken common.Address   `json:"input_token"`
	Amount     *big.Int         `json:"amount"`
	DCA        []DCASubPosition `json:"dca"`
	Receipts   []Receipt        `json:"receipts"`
	CreatedAt  time.Time        `json:"created_at"`
	Closed     bool             `json:"closed"`
	ClosedAt   time.Time        `json:"closed_at"`
}

// Clone returns a deep copy.
func (p StrategyPosition) Clone() StrategyPosition {
	p.Amount = Clone(p.Amount)
	p.DCA = append([]DCASubPosition(nil), p.DCA...)
	receipts := make([]Receipt, len(p.Receipts))
	for i, r := range p.Receipts {
		receipts[i] = r.Clone()
	}
	p.Receipts = receipts
	return p
}
