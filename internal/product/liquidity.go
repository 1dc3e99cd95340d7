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
)

// rangeState tracks one liquidity range. FeeGrowth is the cumulative fee
// per unit of liquidity, scaled by domain.AccumScale.
type rangeState struct {
	Token     common.Address `json:"token"`
	Liquidity *big.Int       `json:"liquidity"`
	FeeGrowth *big.Int       `json:"fee_growth"`
}

type rangeHolding struct {
	Target    common.Address `json:"target"`
	Liquidity *big.Int       `json:"liquidity"`
	// FeeGrowth is the range's growth when the holding was opened.
	FeeGrowth *big.Int `json:"fee_growth"`
}

// Liquidity provides single-asset liquidity to fee-earning ranges. Fees are
// distributed through a per-range growth accumulator.
type Liquidity struct {
	mu       sync.Mutex
	c        custodian
	ranges   map[common.Address]*rangeState
	holdings map[uint64]rangeHolding
	lastRef  uint64
	logger   *slog.Logger
}

// NewLiquidity creates an adapter over targets, each mapped to the token the
// range accepts. assets must be bound to custody.
func NewLiquidity(custody common.Address, assets domain.AssetTransfer, targets map[common.Address]common.Address, logger *slog.Logger) *Liquidity {
	l := &Liquidity{
		c:        custodian{custody: custody, assets: assets},
		ranges:   make(map[common.Address]*rangeState, len(targets)),
		holdings: make(map[uint64]rangeHolding),
		logger:   logger.With(slog.String("component", "liquidity")),
	}
	for target, token := range targets {
		l.ranges[target] = &rangeState{Token: token, Liquidity: new(big.Int), FeeGrowth: new(big.Int)}
	}
	return l
}

func (l *Liquidity) Product() domain.Product { return domain.ProductLiquidity }

func (l *Liquidity) Asset(target common.Address) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.ranges[target]
	if !ok {
		return common.Address{}, fmt.Errorf("liquidity: unknown range %s: %w", target.Hex(), domain.ErrInvalidProduct)
	}
	return r.Token, nil
}

// Invest adds req.Amount of liquidity to the range.
func (l *Liquidity) Invest(scope domain.TxScope, req domain.AdapterInvest) (domain.Receipt, error) {
	if err := checkInvest(domain.ProductLiquidity, req); err != nil {
		return domain.Receipt{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	r, ok := l.ranges[req.Target]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("liquidity: unknown range %s: %w", req.Target.Hex(), domain.ErrInvalidProduct)
	}
	if req.Token != r.Token {
		return domain.Receipt{}, fmt.Errorf("liquidity: %s accepts %s, got %s: %w", req.Target.Hex(), r.Token.Hex(), req.Token.Hex(), domain.ErrInvalidRoute)
	}
	if err := l.c.pull(scope, r.Token, req.Payer, req.Amount); err != nil {
		return domain.Receipt{}, fmt.Errorf("liquidity: invest %s: %w", req.Target.Hex(), err)
	}

	added := domain.Clone(req.Amount)
	r.Liquidity = new(big.Int).Add(r.Liquidity, added)
	lastRef := l.lastRef
	l.lastRef++
	ref := l.lastRef
	l.holdings[ref] = rangeHolding{Target: req.Target, Liquidity: added, FeeGrowth: domain.Clone(r.FeeGrowth)}
	scope.Defer(func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		r.Liquidity = new(big.Int).Sub(r.Liquidity, added)
		delete(l.holdings, ref)
		if l.lastRef == ref {
			l.lastRef = lastRef
		}
		return nil
	})

	return domain.Receipt{
		Product:   domain.ProductLiquidity,
		Target:    req.Target,
		Ref:       ref,
		Token:     r.Token,
		Principal: domain.Clone(req.Amount),
	}, nil
}

// Settle removes the holding's liquidity and pays it out with its share of
// the fees collected since it was opened.
func (l *Liquidity) Settle(scope domain.TxScope, rc domain.Receipt, recipient common.Address) (domain.Settlement, error) {
	if err := checkReceipt(domain.ProductLiquidity, rc); err != nil {
		return domain.Settlement{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holdings[rc.Ref]
	if !ok {
		return domain.Settlement{}, fmt.Errorf("liquidity: receipt %d: %w", rc.Ref, domain.ErrNotFound)
	}
	r := l.ranges[h.Target]
	fees := earned(h, r)
	total := new(big.Int).Add(h.Liquidity, fees)
	if err := l.c.pay(scope, r.Token, recipient, total); err != nil {
		return domain.Settlement{}, fmt.Errorf("liquidity: remove receipt %d: %w", rc.Ref, err)
	}

	r.Liquidity = new(big.Int).Sub(r.Liquidity, h.Liquidity)
	delete(l.holdings, rc.Ref)
	scope.Defer(func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		r.Liquidity = new(big.Int).Add(r.Liquidity, h.Liquidity)
		l.holdings[rc.Ref] = h
		return nil
	})

	return domain.Settlement{Token: r.Token, Principal: domain.Clone(h.Liquidity), Yield: fees}, nil
}

// Collect harvests the fees a receipt has earned so far and leaves its
// liquidity in the range.
func (l *Liquidity) Collect(scope domain.TxScope, rc domain.Receipt, recipient common.Address) (domain.Settlement, error) {
	if err := checkReceipt(domain.ProductLiquidity, rc); err != nil {
		return domain.Settlement{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holdings[rc.Ref]
	if !ok {
		return domain.Settlement{}, fmt.Errorf("liquidity: receipt %d: %w", rc.Ref, domain.ErrNotFound)
	}
	r := l.ranges[h.Target]
	fees := earned(h, r)
	if fees.Sign() > 0 {
		if err := l.c.pay(scope, r.Token, recipient, fees); err != nil {
			return domain.Settlement{}, fmt.Errorf("liquidity: collect receipt %d: %w", rc.Ref, err)
		}
		prev := h.FeeGrowth
		h.FeeGrowth = domain.Clone(r.FeeGrowth)
		l.holdings[rc.Ref] = h
		scope.Defer(func(context.Context) error {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.holdings[rc.Ref]; ok {
				cur.FeeGrowth = prev
				l.holdings[rc.Ref] = cur
			}
			return nil
		})
	}
	return domain.Settlement{Token: r.Token, Principal: new(big.Int), Yield: fees}, nil
}

// Accrue pulls amount of swap fees from source and credits them to every
// holder of the range in proportion to its liquidity.
func (l *Liquidity) Accrue(scope domain.TxScope, target, source common.Address, amount *big.Int) error {
	if domain.IsZero(amount) || amount.Sign() < 0 {
		return fmt.Errorf("liquidity: accrue %s: %w", target.Hex(), domain.ErrInvalidDepositAmount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.ranges[target]
	if !ok {
		return fmt.Errorf("liquidity: unknown range %s: %w", target.Hex(), domain.ErrInvalidProduct)
	}
	if r.Liquidity.Sign() == 0 {
		return fmt.Errorf("liquidity: range %s has no liquidity: %w", target.Hex(), domain.ErrNotFound)
	}
	if err := l.c.pull(scope, r.Token, source, amount); err != nil {
		return fmt.Errorf("liquidity: accrue %s: %w", target.Hex(), err)
	}
	step := domain.MulDiv(amount, domain.AccumScale, r.Liquidity)
	r.FeeGrowth = new(big.Int).Add(r.FeeGrowth, step)
	scope.Defer(func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		r.FeeGrowth = new(big.Int).Sub(r.FeeGrowth, step)
		return nil
	})
	l.logger.DebugContext(scope.Context(), "liquidity: fees accrued",
		slog.String("target", target.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

// PendingFees returns the fees a receipt has earned so far.
func (l *Liquidity) PendingFees(ref uint64) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.holdings[ref]
	if !ok {
		return nil, fmt.Errorf("liquidity: receipt %d: %w", ref, domain.ErrNotFound)
	}
	return earned(h, l.ranges[h.Target]), nil
}

func earned(h rangeHolding, r *rangeState) *big.Int {
	diff := new(big.Int).Sub(r.FeeGrowth, h.FeeGrowth)
	return domain.MulDiv(h.Liquidity, diff, domain.AccumScale)
}

type liquiditySnapshot struct {
	Ranges   map[common.Address]*rangeState `json:"ranges"`
	Holdings map[uint64]rangeHolding        `json:"holdings"`
	LastRef  uint64                         `json:"last_ref"`
}

// Snapshot serializes ranges and holdings.
func (l *Liquidity) Snapshot() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return json.Marshal(liquiditySnapshot{Ranges: l.ranges, Holdings: l.holdings, LastRef: l.lastRef})
}

// Restore replaces ranges and holdings.
func (l *Liquidity) Restore(data []byte) error {
	var snap liquiditySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("liquidity: decode snapshot: %w", err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for target, r := range snap.Ranges {
		r.Liquidity = domain.Clone(r.Liquidity)
		r.FeeGrowth = domain.Clone(r.FeeGrowth)
		l.ranges[target] = r
	}
	l.holdings = snap.Holdings
	if l.holdings == nil {
		l.holdings = make(map[uint64]rangeHolding)
	}
	l.lastRef = snap.LastRef
	return nil
}

var (
	_ domain.ProductAdapter = (*Liquidity)(nil)
	_ domain.YieldAccruer   = (*Liquidity)(nil)
)
