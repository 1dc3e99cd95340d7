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

type vaultState struct {
	Asset       common.Address `json:"asset"`
	TotalAssets *big.Int       `json:"total_assets"`
	TotalShares *big.Int       `json:"total_shares"`
}

type vaultHolding struct {
	Target common.Address `json:"target"`
	Shares *big.Int       `json:"shares"`
}

// Vault is a share-based yield vault. Deposits mint shares against the
// vault's assets; Accrue raises the assets backing every share.
type Vault struct {
	mu       sync.Mutex
	c        custodian
	vaults   map[common.Address]*vaultState
	holdings map[uint64]vaultHolding
	lastRef  uint64
	logger   *slog.Logger
}

// NewVault creates an adapter over targets, each mapped to the asset it
// accepts. assets must be bound to custody.
func NewVault(custody common.Address, assets domain.AssetTransfer, targets map[common.Address]common.Address, logger *slog.Logger) *Vault {
	v := &Vault{
		c:        custodian{custody: custody, assets: assets},
		vaults:   make(map[common.Address]*vaultState, len(targets)),
		holdings: make(map[uint64]vaultHolding),
		logger:   logger.With(slog.String("component", "vault")),
	}
	for target, asset := range targets {
		v.vaults[target] = &vaultState{Asset: asset, TotalAssets: new(big.Int), TotalShares: new(big.Int)}
	}
	return v
}

func (v *Vault) Product() domain.Product { return domain.ProductVault }

func (v *Vault) Asset(target common.Address) (common.Address, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.vaults[target]
	if !ok {
		return common.Address{}, fmt.Errorf("vault: unknown target %s: %w", target.Hex(), domain.ErrInvalidProduct)
	}
	return st.Asset, nil
}

// Invest pulls req.Amount of the vault asset from req.Payer and mints shares.
func (v *Vault) Invest(scope domain.TxScope, req domain.AdapterInvest) (domain.Receipt, error) {
	if err := checkInvest(domain.ProductVault, req); err != nil {
		return domain.Receipt{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	st, ok := v.vaults[req.Target]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("vault: unknown target %s: %w", req.Target.Hex(), domain.ErrInvalidProduct)
	}
	if req.Token != st.Asset {
		return domain.Receipt{}, fmt.Errorf("vault: %s accepts %s, got %s: %w", req.Target.Hex(), st.Asset.Hex(), req.Token.Hex(), domain.ErrInvalidRoute)
	}

	shares := domain.Clone(req.Amount)
	if st.TotalShares.Sign() > 0 {
		shares = domain.MulDiv(req.Amount, st.TotalShares, st.TotalAssets)
	}
	if shares.Sign() == 0 {
		return domain.Receipt{}, fmt.Errorf("vault: %s mints zero shares for %s: %w", req.Target.Hex(), req.Amount, domain.ErrInvalidDepositAmount)
	}
	if err := v.c.pull(scope, st.Asset, req.Payer, req.Amount); err != nil {
		return domain.Receipt{}, fmt.Errorf("vault: invest %s: %w", req.Target.Hex(), err)
	}

	deposited := domain.Clone(req.Amount)
	st.TotalAssets = new(big.Int).Add(st.TotalAssets, deposited)
	st.TotalShares = new(big.Int).Add(st.TotalShares, shares)
	lastRef := v.lastRef
	v.lastRef++
	ref := v.lastRef
	v.holdings[ref] = vaultHolding{Target: req.Target, Shares: shares}
	scope.Defer(func(context.Context) error {
		v.mu.Lock()
		defer v.mu.Unlock()
		st.TotalAssets = new(big.Int).Sub(st.TotalAssets, deposited)
		st.TotalShares = new(big.Int).Sub(st.TotalShares, shares)
		delete(v.holdings, ref)
		if v.lastRef == ref {
			v.lastRef = lastRef
		}
		return nil
	})

	return domain.Receipt{
		Product:   domain.ProductVault,
		Target:    req.Target,
		Ref:       ref,
		Token:     st.Asset,
		Principal: domain.Clone(req.Amount),
	}, nil
}

// Settle redeems every share of a receipt to recipient. Anything above the
// invested principal is reported as yield; a loss shrinks the principal.
func (v *Vault) Settle(scope domain.TxScope, r domain.Receipt, recipient common.Address) (domain.Settlement, error) {
	if err := checkReceipt(domain.ProductVault, r); err != nil {
		return domain.Settlement{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	h, ok := v.holdings[r.Ref]
	if !ok {
		return domain.Settlement{}, fmt.Errorf("vault: receipt %d: %w", r.Ref, domain.ErrNotFound)
	}
	st := v.vaults[h.Target]
	assets := domain.MulDiv(h.Shares, st.TotalAssets, st.TotalShares)
	if err := v.c.pay(scope, st.Asset, recipient, assets); err != nil {
		return domain.Settlement{}, fmt.Errorf("vault: redeem receipt %d: %w", r.Ref, err)
	}

	st.TotalAssets = new(big.Int).Sub(st.TotalAssets, assets)
	st.TotalShares = new(big.Int).Sub(st.TotalShares, h.Shares)
	delete(v.holdings, r.Ref)
	scope.Defer(func(context.Context) error {
		v.mu.Lock()
		defer v.mu.Unlock()
		st.TotalAssets = new(big.Int).Add(st.TotalAssets, assets)
		st.TotalShares = new(big.Int).Add(st.TotalShares, h.Shares)
		v.holdings[r.Ref] = h
		return nil
	})

	return splitYield(st.Asset, r.Principal, assets), nil
}

// Collect reports the receipt's yield without redeeming it. Vault yield
// compounds into the share price and is only realized by Settle.
func (v *Vault) Collect(_ domain.TxScope, r domain.Receipt, _ common.Address) (domain.Settlement, error) {
	if err := checkReceipt(domain.ProductVault, r); err != nil {
		return domain.Settlement{}, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.holdings[r.Ref]; !ok {
		return domain.Settlement{}, fmt.Errorf("vault: receipt %d: %w", r.Ref, domain.ErrNotFound)
	}
	return domain.Settlement{Token: r.Token, Principal: new(big.Int), Yield: new(big.Int)}, nil
}

// Accrue pulls amount of the vault asset from source into the target as
// yield, raising the assets behind every share.
func (v *Vault) Accrue(scope domain.TxScope, target, source common.Address, amount *big.Int) error {
	if domain.IsZero(amount) || amount.Sign() < 0 {
		return fmt.Errorf("vault: accrue %s: %w", target.Hex(), domain.ErrInvalidDepositAmount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	st, ok := v.vaults[target]
	if !ok {
		return fmt.Errorf("vault: unknown target %s: %w", target.Hex(), domain.ErrInvalidProduct)
	}
	if st.TotalShares.Sign() == 0 {
		return fmt.Errorf("vault: %s has no shares to accrue to: %w", target.Hex(), domain.ErrNotFound)
	}
	if err := v.c.pull(scope, st.Asset, source, amount); err != nil {
		return fmt.Errorf("vault: accrue %s: %w", target.Hex(), err)
	}
	added := domain.Clone(amount)
	st.TotalAssets = new(big.Int).Add(st.TotalAssets, added)
	scope.Defer(func(context.Context) error {
		v.mu.Lock()
		defer v.mu.Unlock()
		st.TotalAssets = new(big.Int).Sub(st.TotalAssets, added)
		return nil
	})
	v.logger.DebugContext(scope.Context(), "vault: yield accrued",
		slog.String("target", target.Hex()),
		slog.String("amount", added.String()),
		slog.String("total_assets", st.TotalAssets.String()),
	)
	return nil
}

// PreviewRedeem returns the assets a receipt would settle for now.
func (v *Vault) PreviewRedeem(ref uint64) (*big.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	h, ok := v.holdings[ref]
	if !ok {
		return nil, fmt.Errorf("vault: receipt %d: %w", ref, domain.ErrNotFound)
	}
	st := v.vaults[h.Target]
	return domain.MulDiv(h.Shares, st.TotalAssets, st.TotalShares), nil
}

type vaultSnapshot struct {
	Vaults   map[common.Address]*vaultState `json:"vaults"`
	Holdings map[uint64]vaultHolding        `json:"holdings"`
	LastRef  uint64                         `json:"last_ref"`
}

// Snapshot serializes vault totals and holdings.
func (v *Vault) Snapshot() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return json.Marshal(vaultSnapshot{Vaults: v.vaults, Holdings: v.holdings, LastRef: v.lastRef})
}

// Restore replaces vault totals and holdings. Targets missing from the
// snapshot keep their configured empty state.
func (v *Vault) Restore(data []byte) error {
	var snap vaultSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("vault: decode snapshot: %w", err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	for target, st := range snap.Vaults {
		st.TotalAssets = domain.Clone(st.TotalAssets)
		st.TotalShares = domain.Clone(st.TotalShares)
		v.vaults[target] = st
	}
	v.holdings = snap.Holdings
	if v.holdings == nil {
		v.holdings = make(map[uint64]vaultHolding)
	}
	v.lastRef = snap.LastRef
	return nil
}

func splitYield(token common.Address, principal, total *big.Int) domain.Settlement {
	p := domain.Clone(principal)
	if total.Cmp(p) < 0 {
		p = domain.Clone(total)
	}
	return domain.Settlement{Token: token, Principal: p, Yield: new(big.Int).Sub(total, p)}
}

var (
	_ domain.ProductAdapter = (*Vault)(nil)
	_ domain.YieldAccruer   = (*Vault)(nil)
)
