package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Position is one depositor's claim on a pool's past and future swap output.
//
// Accrued holds output settled by a position modification but not yet paid
// out; it is zero for positions that were never modified.
type Position struct {
	ID             uint64         `json:"id"`
	Owner          common.Address `json:"owner"`
	PoolID         uint64         `json:"pool_id"`
	AmountPerSwap  *big.Int       `json:"amount_per_swap"`
	Swaps          uint64         `json:"swaps"`
	EntrySwap      uint64         `json:"entry_swap"`
	FinalSwap      uint64         `json:"final_swap"`
	LastUpdateSwap uint64         `json:"last_update_swap"`
	Accrued        *big.Int       `json:"accrued"`
	Terminated     bool           `json:"terminated"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Clone returns a deep copy.
func (p Position) Clone() Position {
	p.AmountPerSwap = Clone(p.AmountPerSwap)
	p.Accrued = Clone(p.Accrued)
	return p
}

// SettledThrough is the last swap index whose output the position can claim.
func (p Position) SettledThrough(performed uint64) uint64 {
	return min(performed, p.FinalSwap)
}

// RemainingSwaps is the number of future swaps the position still funds.
func (p Position) RemainingSwaps(performed uint64) uint64 {
	from := max(performed, p.LastUpdateSwap)
	if p.FinalSwap <= from {
		return 0
	}
	return p.FinalSwap - from
}

// Unswapped is the input not yet consumed by executed swaps.
func (p Position) Unswapped(performed uint64) *big.Int {
	left := p.RemainingSwaps(performed)
	if left == 0 || IsZero(p.AmountPerSwap) {
		return new(big.Int)
	}
	return new(big.Int).Mul(p.AmountPerSwap, new(big.Int).SetUint64(left))
}

// Live reports whether the position still contributes to the next swap.
func (p Position) Live(performed uint64) bool {
	return !p.Terminated && p.FinalSwap > performed && !IsZero(p.AmountPerSwap)
}

// PositionBalances is the lazily settled view of a position.
type PositionBalances struct {
	PositionID     uint64   `json:"position_id"`
	Swapped        *big.Int `json:"swapped"`
	Unswapped      *big.Int `json:"unswapped"`
	RemainingSwaps uint64   `json:"remaining_swaps"`
	PerformedSwaps uint64   `json:"performed_swaps"`
}
