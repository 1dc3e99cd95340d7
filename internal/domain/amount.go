package domain

import "math/big"

// BPS is the basis-point denominator (10_000 = 100%).
const BPS = 10_000

var (
	bigBPS = big.NewInt(BPS)

	// AccumScale is the fixed-point scale of pool accumulator checkpoints.
	AccumScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// BigBPS returns the basis-point denominator as a fresh *big.Int.
func BigBPS() *big.Int {
	return new(big.Int).Set(bigBPS)
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// MulDiv returns a*b/d with truncation.
func MulDiv(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, d)
}
