package strategy

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/fees"
)

type allocatorSnapshot struct {
	Fees           fees.Schedule                     `json:"fees"`
	Strategies     []domain.Strategy                 `json:"strategies"`
	Positions      []domain.StrategyPosition         `json:"positions"`
	Referrers      map[common.Address]common.Address `json:"referrers"`
	LastStrategyID uint64                            `json:"last_strategy_id"`
	LastPositionID uint64                            `json:"last_position_id"`
}

// Snapshot serializes strategies, positions, referrer bindings and fees.
func (a *Allocator) Snapshot() ([]byte, error) {
	a.mu.RLock()
	snap := allocatorSnapshot{
		Fees:           a.fees.Clone(),
		Strategies:     make([]domain.Strategy, 0, len(a.strategies)),
		Positions:      make([]domain.StrategyPosition, 0, len(a.positions)),
		Referrers:      make(map[common.Address]common.Address, len(a.referrers)),
		LastStrategyID: a.lastStrategyID,
		LastPositionID: a.lastPositionID,
	}
	for _, s := range a.strategies {
		snap.Strategies = append(snap.Strategies, s.Clone())
	}
	for _, p := range a.positions {
		snap.Positions = append(snap.Positions, p.Clone())
	}
	for k, v := range a.referrers {
		snap.Referrers[k] = v
	}
	a.mu.RUnlock()

	sort.Slice(snap.Strategies, func(i, j int) bool { return snap.Strategies[i].ID < snap.Strategies[j].ID })
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].ID < snap.Positions[j].ID })
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("strategy: encode snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the allocator state with a snapshot.
func (a *Allocator) Restore(data []byte) error {
	var snap allocatorSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("strategy: decode snapshot: %w", err)
	}
	if err := snap.Fees.Validate(a.cfg.MaxFeeBP); err != nil {
		return fmt.Errorf("strategy: snapshot fees: %w", err)
	}

	strategies := make(map[uint64]*domain.Strategy, len(snap.Strategies))
	for i := range snap.Strategies {
		s := snap.Strategies[i]
		strategies[s.ID] = &s
	}
	positions := make(map[uint64]*domain.StrategyPosition, len(snap.Positions))
	for i := range snap.Positions {
		p := snap.Positions[i].Clone()
		positions[p.ID] = &p
	}
	if snap.Referrers == nil {
		snap.Referrers = make(map[common.Address]common.Address)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.fees = snap.Fees.Clone()
	a.strategies = strategies
	a.positions = positions
	a.referrers = snap.Referrers
	a.lastStrategyID = snap.LastStrategyID
	a.lastPositionID = snap.LastPositionID
	return nil
}
