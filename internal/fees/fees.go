// Package fees implements the basis-point fee arithmetic shared by every
// product. Nothing here holds state.
package fees

import (
	"fmt"
	"math/big"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// DefaultMaxFeeBP is the ceiling for any single discretionary fee (25%).
const DefaultMaxFeeBP = 2_500

// weightScale undoes both the fee and the weight basis points.
var weightScale = new(big.Int).Mul(domain.BigBPS(), domain.BigBPS())

// Discount returns amount minus its bp share.
func Discount(amount *big.Int, bp uint32) *big.Int {
	return new(big.Int).Sub(domain.Clone(amount), Charge(amount, bp))
}

// Charge returns the bp share of amount.
func Charge(amount *big.Int, bp uint32) *big.Int {
	if domain.IsZero(amount) || bp == 0 {
		return new(big.Int)
	}
	return domain.MulDiv(amount, big.NewInt(int64(bp)), domain.BigBPS())
}

// Schedule holds the fee rates applied on invest. Base and NonSubscriber
// are per-product rates; the shares are fractions of the fee itself.
type Schedule struct {
	Base            map[domain.Product]uint32 `json:"base"`
	NonSubscriber   map[domain.Product]uint32 `json:"non_subscriber"`
	StrategistBP    uint32                    `json:"strategist_bp"`
	HotStrategistBP uint32                    `json:"hot_strategist_bp"`
	ReferrerBP      uint32                    `json:"referrer_bp"`
}

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	s.Base = cloneRates(s.Base)
	s.NonSubscriber = cloneRates(s.NonSubscriber)
	return s
}

func cloneRates(in map[domain.Product]uint32) map[domain.Product]uint32 {
	out := make(map[domain.Product]uint32, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Validate rejects any product rate above maxBP and any share above 100%.
func (s Schedule) Validate(maxBP uint32) error {
	for p, bp := range s.Base {
		if !p.Valid() {
			return fmt.Errorf("fees: base fee for %q: %w", p, domain.ErrInvalidProduct)
		}
		if bp > maxBP {
			return fmt.Errorf("fees: base fee %s=%d bp above %d: %w", p, bp, maxBP, domain.ErrFeeTooHigh)
		}
	}
	for p, bp := range s.NonSubscriber {
		if !p.Valid() {
			return fmt.Errorf("fees: non-subscriber fee for %q: %w", p, domain.ErrInvalidProduct)
		}
		if bp > maxBP {
			return fmt.Errorf("fees: non-subscriber fee %s=%d bp above %d: %w", p, bp, maxBP, domain.ErrFeeTooHigh)
		}
	}
	shares := map[string]uint32{
		"strategist":     s.StrategistBP,
		"hot_strategist": s.HotStrategistBP,
		"referrer":       s.ReferrerBP,
	}
	for name, bp := range shares {
		if bp > domain.BPS {
			return fmt.Errorf("fees: %s share %d bp above 100%%: %w", name, bp, domain.ErrFeeTooHigh)
		}
	}
	return nil
}

// Inputs describe the parties to one invest call.
type Inputs struct {
	InvestorSubscribed   bool
	StrategistSubscribed bool
	Hot                  bool
	HasReferrer          bool
	// Weights is the percentage of the strategy each product occupies, in
	// basis points summing to 10_000.
	Weights map[domain.Product]uint32
}

// Split is the fee taken from one invest amount.
type Split struct {
	Protocol   *big.Int `json:"protocol"`
	Strategist *big.Int `json:"strategist"`
	Referrer   *big.Int `json:"referrer"`
}

// Total returns the sum of every component.
func (s Split) Total() *big.Int {
	out := domain.Clone(s.Protocol)
	out.Add(out, domain.Clone(s.Strategist))
	return out.Add(out, domain.Clone(s.Referrer))
}

// StrategyFeeSplit computes the fees for amount. Weighted rates are summed
// over every product before a single scaling step, so rounding happens once.
func (s Schedule) StrategyFeeSplit(amount *big.Int, in Inputs) Split {
	split := Split{Protocol: new(big.Int), Strategist: new(big.Int), Referrer: new(big.Int)}
	if domain.IsZero(amount) {
		return split
	}

	base := new(big.Int)
	surcharge := new(big.Int)
	for _, p := range domain.Products {
		w := big.NewInt(int64(in.Weights[p]))
		if w.Sign() == 0 {
			continue
		}
		base.Add(base, new(big.Int).Mul(big.NewInt(int64(s.Base[p])), w))
		if !in.InvestorSubscribed {
			surcharge.Add(surcharge, new(big.Int).Mul(big.NewInt(int64(s.NonSubscriber[p])), w))
		}
	}

	weighted := new(big.Int).Add(base, surcharge)
	total := domain.MulDiv(amount, weighted, weightScale)

	if in.StrategistSubscribed {
		share := s.StrategistBP
		if in.Hot {
			share = s.HotStrategistBP
		}
		num := new(big.Int).Mul(base, big.NewInt(int64(share)))
		den := new(big.Int).Mul(weightScale, domain.BigBPS())
		split.Strategist = domain.MulDiv(amount, num, den)
	}

	split.Protocol = new(big.Int).Sub(total, split.Strategist)
	if in.HasReferrer {
		split.Referrer = Charge(split.Protocol, s.ReferrerBP)
		split.Protocol.Sub(split.Protocol, split.Referrer)
	}
	return split
}
