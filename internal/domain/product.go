package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Receipt is the adapter's proof of a sub-investment. The allocator treats
// it as opaque and hands it back on settlement.
type Receipt struct {
	Product   Product        `json:"product"`
	Target    common.Address `json:"target"`
	Ref       uint64         `json:"ref"`
	Token     common.Address `json:"token"`
	Principal *big.Int       `json:"principal"`
}

// Clone returns a deep copy.
func (r Receipt) Clone() Receipt {
	r.Principal = Clone(r.Principal)
	return r
}

// AdapterInvest is a request to commit capital to one adapter target.
type AdapterInvest struct {
	Target common.Address
	Token  common.Address
	Amount *big.Int
	Payer  common.Address
	// Swap is only consulted by adapters that buy on entry.
	Swap SwapEncoding
}

// Settlement is what closing a receipt realized.
type Settlement struct {
	Token     common.Address `json:"token"`
	Principal *big.Int       `json:"principal"`
	Yield     *big.Int       `json:"yield"`
}

// Total returns principal plus yield.
func (s Settlement) Total() *big.Int {
	return new(big.Int).Add(Clone(s.Principal), Clone(s.Yield))
}
