package product

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/exchange"
)

type buyHolding struct {
	Token  common.Address `json:"token"`
	Amount *big.Int       `json:"amount"`
}

// Buy swaps a share into a target token on entry and holds it until the
// receipt is settled. The target is the token bought.
type Buy struct {
	mu       sync.Mutex
	c        custodian
	ex       domain.Exchange
	allowed  map[common.Address]bool
	holdings map[uint64]buyHolding
	lastRef  uint64
	logger   *slog.Logger
}

// NewBuy creates an adapter that may buy any of targets. Swaps settle in
// custody through ex.
func NewBuy(custody common.Address, assets domain.AssetTransfer, ex domain.Exchange, targets []common.Address, logger *slog.Logger) *Buy {
	b := &Buy{
		c:        custodian{custody: custody, assets: assets},
		ex:       ex,
		allowed:  make(map[common.Address]bool, len(targets)),
		holdings: make(map[uint64]buyHolding),
		logger:   logger.With(slog.String("component", "buy")),
	}
	for _, t := range targets {
		b.allowed[t] = true
	}
	return b
}

func (b *Buy) Product() domain.Product { return domain.ProductBuy }

// Asset returns the target itself: the adapter holds the bought token.
func (b *Buy) Asset(target common.Address) (common.Address, error) {
	if !b.allowed[target] {
		return common.Address{}, fmt.Errorf("buy: target %s not allowed: %w", target.Hex(), domain.ErrInvalidProduct)
	}
	return target, nil
}

// Invest pulls req.Amount of req.Token and swaps it to the target along
// req.Swap.Route, or the direct pair when no route is given.
func (b *Buy) Invest(scope domain.TxScope, req domain.AdapterInvest) (domain.Receipt, error) {
	if err := checkInvest(domain.ProductBuy, req); err != nil {
		return domain.Receipt{}, err
	}
	if _, err := b.Asset(req.Target); err != nil {
		return domain.Receipt{}, err
	}
	route := req.Swap.Route
	if len(route) == 0 {
		route = domain.Route{req.Token, req.Target}
	}
	if err := route.Validate(req.Token, req.Target); err != nil {
		return domain.Receipt{}, fmt.Errorf("buy: %s: %w", req.Target.Hex(), err)
	}

	if err := b.c.pull(scope, req.Token, req.Payer, req.Amount); err != nil {
		return domain.Receipt{}, fmt.Errorf("buy: collect %s: %w", req.Token.Hex(), err)
	}
	out, err := exchange.Do(scope, b.ex, b.c.assets, domain.SwapRequest{
		Route:     route,
		AmountIn:  req.Amount,
		MinOut:    req.Swap.MinOut,
		Payer:     b.c.custody,
		Recipient: b.c.custody,
	})
	if err != nil {
		return domain.Receipt{}, fmt.Errorf("buy: %s: %w", req.Target.Hex(), err)
	}

	b.mu.Lock()
	lastRef := b.lastRef
	b.lastRef++
	ref := b.lastRef
	b.holdings[ref] = buyHolding{Token: req.Target, Amount: out}
	b.mu.Unlock()
	scope.Defer(func(context.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.holdings, ref)
		b.lastRef = lastRef
		return nil
	})

	b.logger.DebugContext(scope.Context(), "buy: bought",
		slog.String("target", req.Target.Hex()),
		slog.String("amount_in", req.Amount.String()),
		slog.String("amount_out", out.String()),
	)
	return domain.Receipt{
		Product:   domain.ProductBuy,
		Target:    req.Target,
		Ref:       ref,
		Token:     req.Target,
		Principal: domain.Clone(out),
	}, nil
}

// Settle pays the bought tokens to recipient. Buys carry no yield.
func (b *Buy) Settle(scope domain.TxScope, r domain.Receipt, recipient common.Address) (domain.Settlement, error) {
	if err := checkReceipt(domain.ProductBuy, r); err != nil {
		return domain.Settlement{}, err
	}
	b.mu.Lock()
	h, ok := b.holdings[r.Ref]
	if ok {
		delete(b.holdings, r.Ref)
	}
	b.mu.Unlock()
	if !ok {
		return domain.Settlement{}, fmt.Errorf("buy: receipt %d: %w", r.Ref, domain.ErrNotFound)
	}
	scope.Defer(func(context.Context) error {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.holdings[r.Ref] = h
		return nil
	})

	if err := b.c.pay(scope, h.Token, recipient, h.Amount); err != nil {
		return domain.Settlement{}, fmt.Errorf("buy: pay receipt %d: %w", r.Ref, err)
	}
	return domain.Settlement{Token: h.Token, Principal: domain.Clone(h.Amount), Yield: new(big.Int)}, nil
}

// Collect returns nothing: a buy holds tokens and earns no yield.
func (b *Buy) Collect(_ domain.TxScope, r domain.Receipt, _ common.Address) (domain.Settlement, error) {
	if err := checkReceipt(domain.ProductBuy, r); err != nil {
		return domain.Settlement{}, err
	}
	b.mu.Lock()
	_, ok := b.holdings[r.Ref]
	b.mu.Unlock()
	if !ok {
		return domain.Settlement{}, fmt.Errorf("buy: receipt %d: %w", r.Ref, domain.ErrNotFound)
	}
	return domain.Settlement{Token: r.Token, Principal: new(big.Int), Yield: new(big.Int)}, nil
}

type buySnapshot struct {
	Holdings map[uint64]buyHolding `json:"holdings"`
	LastRef  uint64                `json:"last_ref"`
}

// Snapshot serializes open holdings.
func (b *Buy) Snapshot() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return json.Marshal(buySnapshot{Holdings: b.holdings, LastRef: b.lastRef})
}

// Restore replaces open holdings.
func (b *Buy) Restore(data []byte) error {
	var snap buySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("buy: decode snapshot: %w", err)
	}
	if snap.Holdings == nil {
		snap.Holdings = make(map[uint64]buyHolding)
	}
	b.mu.Lock()
	b.holdings = snap.Holdings
	b.lastRef = snap.LastRef
	b.mu.Unlock()
	return nil
}

var _ domain.ProductAdapter = (*Buy)(nil)
