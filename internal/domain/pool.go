package domain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Route is an ordered hop list handed to the exchange as-is. The first hop
// is the asset sold and the last hop is the asset bought.
type Route []common.Address

// Validate checks that the route starts at in and ends at out.
func (r Route) Validate(in, out common.Address) error {
	if len(r) < 2 {
		return fmt.Errorf("%w: need at least 2 hops, got %d", ErrInvalidRoute, len(r))
	}
	if in == out {
		return fmt.Errorf("%w: input and output token are the same", ErrInvalidRoute)
	}
	if r[0] != in || r[len(r)-1] != out {
		return fmt.Errorf("%w: route %s does not connect %s to %s", ErrInvalidRoute, r, in.Hex(), out.Hex())
	}
	return nil
}

// From returns the first hop.
func (r Route) From() common.Address {
	if len(r) == 0 {
		return common.Address{}
	}
	return r[0]
}

// To returns the last hop.
func (r Route) To() common.Address {
	if len(r) == 0 {
		return common.Address{}
	}
	return r[len(r)-1]
}

// Hash identifies the route by the keccak256 of its packed hops.
func (r Route) Hash() common.Hash {
	buf := make([]byte, 0, len(r)*common.AddressLength)
	for _, hop := range r {
		buf = append(buf, hop.Bytes()...)
	}
	return ethcrypto.Keccak256Hash(buf)
}

func (r Route) String() string {
	s := ""
	for i, hop := range r {
		if i > 0 {
			s += ">"
		}
		s += hop.Hex()
	}
	return s
}

// Clone returns a copy of the route.
func (r Route) Clone() Route {
	if r == nil {
		return nil
	}
	out := make(Route, len(r))
	copy(out, r)
	return out
}

// Pool is a recurring swap schedule between two assets.
type Pool struct {
	ID             uint64         `json:"id"`
	InputToken     common.Address `json:"input_token"`
	OutputToken    common.Address `json:"output_token"`
	Route          Route          `json:"route"`
	Interval       time.Duration  `json:"interval"`
	PerformedSwaps uint64         `json:"performed_swaps"`
	NextSwapAmount *big.Int       `json:"next_swap_amount"`
	LastSwapAt     time.Time      `json:"last_swap_at"`
	Paused         bool           `json:"paused"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Clone returns a deep copy.
func (p Pool) Clone() Pool {
	p.Route = p.Route.Clone()
	p.NextSwapAmount = Clone(p.NextSwapAmount)
	return p
}

// NextSwapAt is the earliest time the next batched swap may execute.
func (p Pool) NextSwapAt() time.Time {
	if p.LastSwapAt.IsZero() {
		return time.Time{}
	}
	return p.LastSwapAt.Add(p.Interval)
}

// Due reports whether the pool has input queued and its interval elapsed.
func (p Pool) Due(now time.Time) bool {
	if p.Paused || IsZero(p.NextSwapAmount) {
		return false
	}
	return !now.Before(p.NextSwapAt())
}

// SwapResult is what one executed batched swap produced.
type SwapResult struct {
	PoolID      uint64   `json:"pool_id"`
	SwapIndex   uint64   `json:"swap_index"`
	AmountIn    *big.Int `json:"amount_in"`
	AmountOut   *big.Int `json:"amount_out"`
	ProtocolFee *big.Int `json:"protocol_fee"`
	Checkpoint  *big.Int `json:"checkpoint"`
	// Expired is the per-swap amount that stopped contributing after this swap.
	Expired    *big.Int  `json:"expired"`
	ExecutedAt time.Time `json:"executed_at"`
}
