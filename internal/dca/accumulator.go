package dca

import (
	"math/big"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// poolState is the engine-private state of one pool.
//
// accum[k] is the cumulative output per input unit, scaled by AccumScale,
// after swap k; accum[0] is zero and the slice only grows. expiring[k] is
// the per-swap amount of every position whose final swap is k.
type poolState struct {
	pool     domain.Pool
	accum    []*big.Int
	expiring map[uint64]*big.Int
}

func newPoolState(pool domain.Pool) *poolState {
	return &poolState{
		pool:     pool,
		accum:    []*big.Int{new(big.Int)},
		expiring: make(map[uint64]*big.Int),
	}
}

// checkpoint returns accum[k] for k <= performedSwaps.
func (ps *poolState) checkpoint(k uint64) *big.Int {
	return ps.accum[k]
}

// accrued is the output earned by amountPerSwap between checkpoints from and to.
func (ps *poolState) accrued(amountPerSwap *big.Int, from, to uint64) *big.Int {
	if to <= from || domain.IsZero(amountPerSwap) {
		return new(big.Int)
	}
	diff := new(big.Int).Sub(ps.checkpoint(to), ps.checkpoint(from))
	return domain.MulDiv(amountPerSwap, diff, domain.AccumScale)
}

// swapped is the unpaid output of pos at the current swap index.
func (ps *poolState) swapped(pos *domain.Position) *big.Int {
	if pos.Terminated {
		return new(big.Int)
	}
	through := pos.SettledThrough(ps.pool.PerformedSwaps)
	out := ps.accrued(pos.AmountPerSwap, pos.LastUpdateSwap, through)
	return out.Add(out, domain.Clone(pos.Accrued))
}

func (ps *poolState) balances(pos *domain.Position) domain.PositionBalances {
	performed := ps.pool.PerformedSwaps
	b := domain.PositionBalances{
		PositionID:     pos.ID,
		Swapped:        ps.swapped(pos),
		Unswapped:      new(big.Int),
		PerformedSwaps: performed,
	}
	if !pos.Terminated {
		b.Unswapped = pos.Unswapped(performed)
		b.RemainingSwaps = pos.RemainingSwaps(performed)
	}
	return b
}

// nextCheckpoint returns accum[k] + net*AccumScale/amountIn.
func (ps *poolState) nextCheckpoint(net, amountIn *big.Int) *big.Int {
	step := domain.MulDiv(net, domain.AccumScale, amountIn)
	return step.Add(step, ps.checkpoint(ps.pool.PerformedSwaps))
}
