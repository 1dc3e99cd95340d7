package dca

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

type poolSnapshot struct {
	Pool     domain.Pool         `json:"pool"`
	Accum    []*big.Int          `json:"accum"`
	Expiring map[uint64]*big.Int `json:"expiring,omitempty"`
}

type engineSnapshot struct {
	LastPoolID     uint64            `json:"last_pool_id"`
	LastPositionID uint64            `json:"last_position_id"`
	Pools          []poolSnapshot    `json:"pools"`
	Positions      []domain.Position `json:"positions"`
}

// Snapshot serializes every pool, accumulator and position.
func (e *Engine) Snapshot() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Freeze serializes the engine and runs fn with the result while no
// transaction can start, so components that only mutate inside Update can
// be snapshotted consistently alongside it.
func (e *Engine) Freeze(ctx context.Context, fn func(state []byte) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := e.snapshotLocked()
	if err != nil {
		return err
	}
	return fn(data)
}

func (e *Engine) snapshotLocked() ([]byte, error) {
	snap := engineSnapshot{
		LastPoolID:     e.lastPoolID,
		LastPositionID: e.lastPositionID,
		Pools:          make([]poolSnapshot, 0, len(e.pools)),
		Positions:      make([]domain.Position, 0, len(e.positions)),
	}
	for _, ps := range e.pools {
		snap.Pools = append(snap.Pools, poolSnapshot{
			Pool:     ps.pool,
			Accum:    ps.accum,
			Expiring: ps.expiring,
		})
	}
	for _, pos := range e.positions {
		snap.Positions = append(snap.Positions, *pos)
	}
	sort.Slice(snap.Pools, func(i, j int) bool { return snap.Pools[i].Pool.ID < snap.Pools[j].Pool.ID })
	sort.Slice(snap.Positions, func(i, j int) bool { return snap.Positions[i].ID < snap.Positions[j].ID })

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("dca: encode snapshot: %w", err)
	}
	return data, nil
}

// Restore replaces the engine state with a snapshot.
func (e *Engine) Restore(data []byte) error {
	var snap engineSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("dca: decode snapshot: %w", err)
	}

	pools := make(map[uint64]*poolState, len(snap.Pools))
	for _, p := range snap.Pools {
		if len(p.Accum) == 0 || uint64(len(p.Accum)) != p.Pool.PerformedSwaps+1 {
			return fmt.Errorf("dca: snapshot pool %d: %d checkpoints for %d swaps", p.Pool.ID, len(p.Accum), p.Pool.PerformedSwaps)
		}
		ps := newPoolState(p.Pool)
		ps.pool.NextSwapAmount = domain.Clone(p.Pool.NextSwapAmount)
		ps.accum = p.Accum
		for k, v := range p.Expiring {
			ps.expiring[k] = v
		}
		pools[p.Pool.ID] = ps
	}

	positions := make(map[uint64]*domain.Position, len(snap.Positions))
	owned := make(map[common.Address][]uint64)
	for i := range snap.Positions {
		pos := snap.Positions[i]
		if _, ok := pools[pos.PoolID]; !ok {
			return fmt.Errorf("dca: snapshot position %d: pool %d: %w", pos.ID, pos.PoolID, domain.ErrInvalidPoolID)
		}
		pos.AmountPerSwap = domain.Clone(pos.AmountPerSwap)
		pos.Accrued = domain.Clone(pos.Accrued)
		positions[pos.ID] = &pos
		owned[pos.Owner] = append(owned[pos.Owner], pos.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.pools = pools
	e.positions = positions
	e.owned = owned
	e.lastPoolID = snap.LastPoolID
	e.lastPositionID = snap.LastPositionID
	return nil
}
