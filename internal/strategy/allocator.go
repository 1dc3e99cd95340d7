// Package strategy implements the strategy allocator: percentage-weighted
// strategies that split one deposit across DCA pools and product adapters
// after taking protocol, strategist and referrer fees.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/dca"
	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/fees"
)

// Default limits.
const (
	DefaultMaxPerProduct = 20
	DefaultMaxTotal      = 20
	DefaultMaxHot        = 10
)

// Config holds allocator parameters.
type Config struct {
	// Admin may flag strategies hot and change fees.
	Admin common.Address
	// Treasury receives protocol fees and collects protocol rewards.
	Treasury common.Address
	// Custody holds invested funds in transit and owns DCA sub-positions.
	Custody       common.Address
	MaxHot        int
	MaxPerProduct int
	MaxTotal      int
	MaxFeeBP      uint32
	Fees          fees.Schedule
}

// RewardLedger is the reward book the allocator credits and collects from.
type RewardLedger interface {
	domain.RewardCrediter
	Collect(scope domain.TxScope, kind domain.RewardKind, principal common.Address) ([]domain.RewardBalance, error)
	CollectToken(scope domain.TxScope, kind domain.RewardKind, principal, token common.Address) (*big.Int, error)
}

// Allocator owns strategies and strategy positions. Every mutation runs
// inside a dca.Engine transaction so an invest spanning several pools and
// adapters applies entirely or not at all.
type Allocator struct {
	mu       sync.RWMutex
	cfg      Config
	fees     fees.Schedule
	engine   *dca.Engine
	oracle   domain.SubscriptionOracle
	exchange domain.Exchange
	assets   domain.AssetTransfer
	ledger   RewardLedger
	adapters *Registry
	logger   *slog.Logger

	strategies     map[uint64]*domain.Strategy
	positions      map[uint64]*domain.StrategyPosition
	referrers      map[common.Address]common.Address
	lastStrategyID uint64
	lastPositionID uint64
}

// New creates an Allocator. assets must be bound to cfg.Custody.
func New(
	cfg Config,
	engine *dca.Engine,
	oracle domain.SubscriptionOracle,
	exchange domain.Exchange,
	assets domain.AssetTransfer,
	ledger RewardLedger,
	adapters *Registry,
	logger *slog.Logger,
) (*Allocator, error) {
	if cfg.MaxPerProduct <= 0 {
		cfg.MaxPerProduct = DefaultMaxPerProduct
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = DefaultMaxTotal
	}
	if cfg.MaxHot <= 0 {
		cfg.MaxHot = DefaultMaxHot
	}
	if cfg.MaxFeeBP == 0 {
		cfg.MaxFeeBP = fees.DefaultMaxFeeBP
	}
	if err := cfg.Fees.Validate(cfg.MaxFeeBP); err != nil {
		return nil, fmt.Errorf("strategy: %w", err)
	}
	return &Allocator{
		cfg:        cfg,
		fees:       cfg.Fees.Clone(),
		engine:     engine,
		oracle:     oracle,
		exchange:   exchange,
		assets:     assets,
		ledger:     ledger,
		adapters:   adapters,
		logger:     logger.With(slog.String("component", "strategy")),
		strategies: make(map[uint64]*domain.Strategy),
		positions:  make(map[uint64]*domain.StrategyPosition),
		referrers:  make(map[common.Address]common.Address),
	}, nil
}

// ---------------------------------------------------------------------------
// Strategies
// ---------------------------------------------------------------------------

// CreateStrategy registers a strategy for a subscribed creator.
func (a *Allocator) CreateStrategy(ctx context.Context, creator common.Address, permit []byte, investments []domain.Investment, metadata common.Hash) (domain.Strategy, error) {
	ok, err := a.oracle.IsSubscribed(ctx, creator, permit)
	if err != nil {
		return domain.Strategy{}, fmt.Errorf("strategy: create: %w", err)
	}
	if !ok {
		return domain.Strategy{}, fmt.Errorf("strategy: create: %s not subscribed: %w", creator.Hex(), domain.ErrUnauthorized)
	}
	if err := a.validateInvestments(investments); err != nil {
		return domain.Strategy{}, err
	}

	var out domain.Strategy
	err = a.engine.Update(ctx, func(tx *dca.Tx) error {
		// Pools may only be checked under the engine lock.
		for i, inv := range investments {
			if inv.Product != domain.ProductDCA {
				continue
			}
			if _, err := tx.Pool(inv.PoolID); err != nil {
				return fmt.Errorf("strategy: create: investment %d: %w", i, err)
			}
		}

		a.mu.Lock()
		last := a.lastStrategyID
		a.lastStrategyID++
		s := &domain.Strategy{
			ID:           a.lastStrategyID,
			Creator:      creator,
			Investments:  append([]domain.Investment(nil), investments...),
			MetadataHash: metadata,
			CreatedAt:    tx.Now(),
		}
		a.strategies[s.ID] = s
		a.mu.Unlock()
		tx.Defer(func(context.Context) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			delete(a.strategies, s.ID)
			a.lastStrategyID = last
			return nil
		})

		tx.Emit(domain.EventStrategyCreated, map[string]string{
			"strategy_id": domain.FormatUint(s.ID),
			"creator":     creator.Hex(),
			"investments": strconv.Itoa(len(investments)),
			"metadata":    metadata.Hex(),
		})
		out = s.Clone()
		return nil
	})
	if err != nil {
		return domain.Strategy{}, err
	}
	a.logger.InfoContext(ctx, "strategy: created",
		slog.Uint64("strategy_id", out.ID),
		slog.String("creator", creator.Hex()),
		slog.Int("investments", len(investments)),
	)
	return out, nil
}

func (a *Allocator) validateInvestments(investments []domain.Investment) error {
	if len(investments) == 0 {
		return fmt.Errorf("strategy: create: no investments: %w", domain.ErrInvalidTotalPercentage)
	}
	if len(investments) > a.cfg.MaxTotal {
		return fmt.Errorf("strategy: create: %d investments above %d: %w", len(investments), a.cfg.MaxTotal, domain.ErrLimitExceeded)
	}
	counts := make(map[domain.Product]int)
	var total uint32
	for i, inv := range investments {
		if !inv.Product.Valid() {
			return fmt.Errorf("strategy: create: investment %d product %q: %w", i, inv.Product, domain.ErrInvalidProduct)
		}
		counts[inv.Product]++
		if counts[inv.Product] > a.cfg.MaxPerProduct {
			return fmt.Errorf("strategy: create: more than %d %s investments: %w", a.cfg.MaxPerProduct, inv.Product, domain.ErrLimitExceeded)
		}
		if inv.PercentBP == 0 || inv.PercentBP > domain.BPS {
			return fmt.Errorf("strategy: create: investment %d at %d bp: %w", i, inv.PercentBP, domain.ErrInvalidTotalPercentage)
		}
		total += inv.PercentBP

		switch inv.Product {
		case domain.ProductDCA:
			if inv.Swaps == 0 {
				return fmt.Errorf("strategy: create: investment %d: %w", i, domain.ErrInvalidNumberOfSwaps)
			}
		default:
			adapter, err := a.adapters.Get(inv.Product)
			if err != nil {
				return fmt.Errorf("strategy: create: investment %d: %w", i, err)
			}
			if _, err := adapter.Asset(inv.Target); err != nil {
				return fmt.Errorf("strategy: create: investment %d: %w", i, err)
			}
		}
	}
	if total != domain.BPS {
		return fmt.Errorf("strategy: create: percentages sum to %d bp: %w", total, domain.ErrInvalidTotalPercentage)
	}
	return nil
}

// SetHot flags or unflags a strategy as hot. At most MaxHot strategies are
// hot at once.
func (a *Allocator) SetHot(ctx context.Context, caller common.Address, strategyID uint64, hot bool) error {
	if caller != a.cfg.Admin {
		return fmt.Errorf("strategy: set hot: %w", domain.ErrUnauthorized)
	}
	return a.engine.Update(ctx, func(tx *dca.Tx) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		s, ok := a.strategies[strategyID]
		if !ok {
			return fmt.Errorf("strategy: set hot %d: %w", strategyID, domain.ErrStrategyUnavailable)
		}
		if s.Hot == hot {
			return nil
		}
		if hot && a.hotCount() >= a.cfg.MaxHot {
			return fmt.Errorf("strategy: set hot %d: %d hot strategies: %w", strategyID, a.cfg.MaxHot, domain.ErrLimitExceeded)
		}
		s.Hot = hot
		tx.Defer(func(context.Context) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			s.Hot = !hot
			return nil
		})
		tx.Emit(domain.EventStrategyHot, map[string]string{
			"strategy_id": domain.FormatUint(strategyID),
			"hot":         strconv.FormatBool(hot),
		})
		return nil
	})
}

func (a *Allocator) hotCount() int {
	n := 0
	for _, s := range a.strategies {
		if s.Hot {
			n++
		}
	}
	return n
}

// SetFees replaces the fee schedule.
func (a *Allocator) SetFees(ctx context.Context, caller common.Address, schedule fees.Schedule) error {
	if caller != a.cfg.Admin {
		return fmt.Errorf("strategy: set fees: %w", domain.ErrUnauthorized)
	}
	if err := schedule.Validate(a.cfg.MaxFeeBP); err != nil {
		return fmt.Errorf("strategy: set fees: %w", err)
	}
	return a.engine.Update(ctx, func(tx *dca.Tx) error {
		a.mu.Lock()
		prev := a.fees
		a.fees = schedule.Clone()
		a.mu.Unlock()
		tx.Defer(func(context.Context) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			a.fees = prev
			return nil
		})
		tx.Emit(domain.EventFeesUpdated, map[string]string{
			"strategist_bp":     domain.FormatUint(uint64(schedule.StrategistBP)),
			"hot_strategist_bp": domain.FormatUint(uint64(schedule.HotStrategistBP)),
			"referrer_bp":       domain.FormatUint(uint64(schedule.ReferrerBP)),
		})
		return nil
	})
}

// ---------------------------------------------------------------------------
// Rewards
// ---------------------------------------------------------------------------

// CollectStrategistRewards pays caller's strategist rewards in every token.
func (a *Allocator) CollectStrategistRewards(ctx context.Context, caller common.Address) ([]domain.RewardBalance, error) {
	return a.collect(ctx, domain.RewardStrategist, caller)
}

// CollectReferrerRewards pays caller's referrer rewards in every token.
func (a *Allocator) CollectReferrerRewards(ctx context.Context, caller common.Address) ([]domain.RewardBalance, error) {
	return a.collect(ctx, domain.RewardReferrer, caller)
}

func (a *Allocator) collect(ctx context.Context, kind domain.RewardKind, caller common.Address) (paid []domain.RewardBalance, err error) {
	err = a.engine.Update(ctx, func(tx *dca.Tx) error {
		paid, err = a.ledger.Collect(tx, kind, caller)
		return err
	})
	return paid, err
}

// CollectRewards pays the protocol rewards accrued in token to the treasury.
func (a *Allocator) CollectRewards(ctx context.Context, caller, token common.Address) (paid *big.Int, err error) {
	if caller != a.cfg.Treasury {
		return nil, fmt.Errorf("strategy: collect protocol rewards: %w", domain.ErrUnauthorized)
	}
	err = a.engine.Update(ctx, func(tx *dca.Tx) error {
		paid, err = a.ledger.CollectToken(tx, domain.RewardProtocol, caller, token)
		return err
	})
	return paid, err
}

// ---------------------------------------------------------------------------
// Read-only views
// ---------------------------------------------------------------------------

// Strategy returns a copy of one strategy.
func (a *Allocator) Strategy(id uint64) (domain.Strategy, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.strategies[id]
	if !ok {
		return domain.Strategy{}, fmt.Errorf("strategy: %d: %w", id, domain.ErrStrategyUnavailable)
	}
	return s.Clone(), nil
}

// Strategies returns every strategy ordered by id.
func (a *Allocator) Strategies() []domain.Strategy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Strategy, 0, len(a.strategies))
	for _, s := range a.strategies {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Position returns a copy of one strategy position.
func (a *Allocator) Position(id uint64) (domain.StrategyPosition, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.positions[id]
	if !ok {
		return domain.StrategyPosition{}, fmt.Errorf("strategy: position %d: %w", id, domain.ErrInvalidPositionID)
	}
	return p.Clone(), nil
}

// PositionsByInvestor returns the strategy positions of investor ordered by id.
func (a *Allocator) PositionsByInvestor(investor common.Address) []domain.StrategyPosition {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var out []domain.StrategyPosition
	for _, p := range a.positions {
		if p.Investor == investor {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Referrer returns the referrer bound to investor, if any.
func (a *Allocator) Referrer(investor common.Address) (common.Address, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	r, ok := a.referrers[investor]
	return r, ok
}

// Fees returns the current fee schedule.
func (a *Allocator) Fees() fees.Schedule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.fees.Clone()
}
