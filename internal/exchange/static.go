// Package exchange provides the fixed-rate exchange used by the keeper and
// tests, and the helper that binds any exchange swap to an atomic operation.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

type pair struct {
	from, to common.Address
}

// Static quotes every hop at a configured rate and settles against its own
// venue account.
type Static struct {
	mu     sync.RWMutex
	rates  map[pair]decimal.Decimal
	venue  common.Address
	assets domain.AssetTransfer
	logger *slog.Logger
}

// NewStatic creates a Static exchange settling through assets, which must be
// bound to venue.
func NewStatic(venue common.Address, assets domain.AssetTransfer, logger *slog.Logger) *Static {
	return &Static{
		rates:  make(map[pair]decimal.Decimal),
		venue:  venue,
		assets: assets,
		logger: logger.With(slog.String("component", "exchange")),
	}
}

// ParseRate parses a decimal rate such as "0.95" or "1850.25".
func ParseRate(s string) (decimal.Decimal, error) {
	r, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("exchange: parse rate %q: %w", s, err)
	}
	if !r.IsPositive() {
		return decimal.Zero, fmt.Errorf("exchange: rate %q must be positive", s)
	}
	return r, nil
}

// SetRate sets the output units paid per input unit for one hop.
func (s *Static) SetRate(from, to common.Address, rate decimal.Decimal) {
	s.mu.Lock()
	s.rates[pair{from, to}] = rate
	s.mu.Unlock()
}

// Venue returns the settlement account.
func (s *Static) Venue() common.Address { return s.venue }

// Quote returns the output of selling amountIn along route.
func (s *Static) Quote(_ context.Context, route domain.Route, amountIn *big.Int) (*big.Int, error) {
	if len(route) < 2 {
		return nil, fmt.Errorf("exchange: quote: %w: %d hops", domain.ErrInvalidRoute, len(route))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	amount := decimal.NewFromBigInt(domain.Clone(amountIn), 0)
	for i := 0; i+1 < len(route); i++ {
		rate, ok := s.rates[pair{route[i], route[i+1]}]
		if !ok {
			return nil, fmt.Errorf("exchange: no rate for %s>%s: %w", route[i].Hex(), route[i+1].Hex(), domain.ErrInvalidRoute)
		}
		amount = amount.Mul(rate).Floor()
	}
	return amount.BigInt(), nil
}

// Swap sells req.AmountIn along req.Route. Nothing moves when the output
// would fall below req.MinOut.
func (s *Static) Swap(ctx context.Context, req domain.SwapRequest) (domain.SwapFill, error) {
	out, err := s.Quote(ctx, req.Route, req.AmountIn)
	if err != nil {
		return domain.SwapFill{}, err
	}
	if out.Sign() == 0 || (req.MinOut != nil && out.Cmp(req.MinOut) < 0) {
		return domain.SwapFill{}, fmt.Errorf("exchange: output %s below minimum %s: %w",
			out, domain.Clone(req.MinOut), domain.ErrInsufficientOutput)
	}

	in, outToken := req.Route.From(), req.Route.To()
	if err := s.assets.TransferFrom(ctx, in, req.Payer, s.venue, req.AmountIn); err != nil {
		return domain.SwapFill{}, fmt.Errorf("exchange: collect input: %w", err)
	}
	if err := s.assets.Transfer(ctx, outToken, req.Recipient, out); err != nil {
		if rbErr := s.assets.Transfer(ctx, in, req.Payer, req.AmountIn); rbErr != nil {
			s.logger.ErrorContext(ctx, "exchange: refund input failed",
				slog.String("payer", req.Payer.Hex()),
				slog.String("amount", req.AmountIn.String()),
				slog.String("error", rbErr.Error()),
			)
		}
		return domain.SwapFill{}, fmt.Errorf("exchange: pay output: %w", err)
	}

	s.logger.DebugContext(ctx, "exchange: swap filled",
		slog.String("route", req.Route.String()),
		slog.String("amount_in", req.AmountIn.String()),
		slog.String("amount_out", out.String()),
	)
	return domain.SwapFill{AmountOut: out, Venue: s.venue}, nil
}

type rateSnapshot struct {
	From common.Address `json:"from"`
	To   common.Address `json:"to"`
	Rate string         `json:"rate"`
}

// Snapshot serializes the rate table.
func (s *Static) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rateSnapshot, 0, len(s.rates))
	for p, r := range s.rates {
		out = append(out, rateSnapshot{From: p.from, To: p.to, Rate: r.String()})
	}
	return json.Marshal(out)
}

// Restore replaces the rate table.
func (s *Static) Restore(data []byte) error {
	var in []rateSnapshot
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("exchange: decode snapshot: %w", err)
	}
	rates := make(map[pair]decimal.Decimal, len(in))
	for _, r := range in {
		rate, err := ParseRate(r.Rate)
		if err != nil {
			return err
		}
		rates[pair{r.From, r.To}] = rate
	}
	s.mu.Lock()
	s.rates = rates
	s.mu.Unlock()
	return nil
}

var _ domain.Exchange = (*Static)(nil)
