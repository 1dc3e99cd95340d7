package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/dca"
	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// DCAPayout is what one DCA sub-position paid to the investor.
type DCAPayout struct {
	PoolID     uint64         `json:"pool_id"`
	PositionID uint64         `json:"position_id"`
	Output     common.Address `json:"output"`
	Swapped    *big.Int       `json:"swapped"`
	Input      common.Address `json:"input"`
	Unswapped  *big.Int       `json:"unswapped"`
}

// Payout aggregates everything a close or collect realized.
type Payout struct {
	DCA         []DCAPayout         `json:"dca"`
	Settlements []domain.Settlement `json:"settlements,omitempty"`
}

// ClosePosition withdraws every DCA sub-position in full and settles every
// adapter receipt, paying all of it to the investor.
func (a *Allocator) ClosePosition(ctx context.Context, caller common.Address, positionID uint64) (Payout, error) {
	var out Payout
	err := a.engine.Update(ctx, func(tx *dca.Tx) error {
		pos, err := a.ownedOpen(caller, positionID)
		if err != nil {
			return err
		}
		out = Payout{}
		for _, sub := range pos.DCA {
			p, err := a.withdrawAll(tx, pos.Investor, sub)
			if err != nil {
				return fmt.Errorf("strategy: close position %d: %w", positionID, err)
			}
			out.DCA = append(out.DCA, p)
		}
		for _, r := range pos.Receipts {
			adapter, err := a.adapters.Get(r.Product)
			if err != nil {
				return fmt.Errorf("strategy: close position %d: %w", positionID, err)
			}
			st, err := adapter.Settle(tx, r, pos.Investor)
			if err != nil {
				return fmt.Errorf("strategy: close position %d: %w", positionID, err)
			}
			out.Settlements = append(out.Settlements, st)
		}

		a.setClosed(tx, positionID, tx.Now())
		tx.Emit(domain.EventPositionClosed, map[string]string{
			"position_id": domain.FormatUint(positionID),
			"investor":    pos.Investor.Hex(),
			"dca":         strconv.Itoa(len(out.DCA)),
			"receipts":    strconv.Itoa(len(out.Settlements)),
		})
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	a.logger.InfoContext(ctx, "strategy: position closed",
		slog.Uint64("position_id", positionID),
		slog.String("investor", caller.Hex()),
	)
	return out, nil
}

// CollectPosition pays the swapped output of every DCA sub-position and the
// yield earned by every adapter receipt to the investor. Unswapped input and
// receipt principal stay invested. Nothing is emitted when nothing was paid.
func (a *Allocator) CollectPosition(ctx context.Context, caller common.Address, positionID uint64) (Payout, error) {
	var out Payout
	err := a.engine.Update(ctx, func(tx *dca.Tx) error {
		pos, err := a.ownedOpen(caller, positionID)
		if err != nil {
			return err
		}
		out = Payout{}
		total := new(big.Int)
		for _, sub := range pos.DCA {
			bal, err := tx.Balances(sub.PositionID)
			if err != nil {
				return fmt.Errorf("strategy: collect position %d: %w", positionID, err)
			}
			pool, err := tx.Pool(sub.PoolID)
			if err != nil {
				return fmt.Errorf("strategy: collect position %d: %w", positionID, err)
			}
			p := DCAPayout{
				PoolID:     sub.PoolID,
				PositionID: sub.PositionID,
				Output:     pool.OutputToken,
				Swapped:    new(big.Int),
				Input:      pool.InputToken,
				Unswapped:  new(big.Int),
			}
			if bal.Swapped.Sign() > 0 {
				p.Swapped, err = tx.WithdrawSwapped(a.cfg.Custody, sub.PositionID, pos.Investor)
				if err != nil {
					return fmt.Errorf("strategy: collect position %d: %w", positionID, err)
				}
				total.Add(total, p.Swapped)
			}
			out.DCA = append(out.DCA, p)
		}
		yield := new(big.Int)
		for _, r := range pos.Receipts {
			adapter, err := a.adapters.Get(r.Product)
			if err != nil {
				return fmt.Errorf("strategy: collect position %d: %w", positionID, err)
			}
			st, err := adapter.Collect(tx, r, pos.Investor)
			if err != nil {
				return fmt.Errorf("strategy: collect position %d: %w", positionID, err)
			}
			if st.Yield.Sign() > 0 {
				out.Settlements = append(out.Settlements, st)
				yield.Add(yield, st.Yield)
			}
		}
		if total.Sign() > 0 || yield.Sign() > 0 {
			tx.Emit(domain.EventPositionCollected, map[string]string{
				"position_id": domain.FormatUint(positionID),
				"investor":    pos.Investor.Hex(),
				"swapped":     total.String(),
				"yield":       yield.String(),
			})
		}
		return nil
	})
	if err != nil {
		return Payout{}, err
	}
	return out, nil
}

// AccrueYield pays amount from source into an adapter target as yield for
// every receipt invested there.
func (a *Allocator) AccrueYield(ctx context.Context, source common.Address, product domain.Product, target common.Address, amount *big.Int) error {
	adapter, err := a.adapters.Get(product)
	if err != nil {
		return err
	}
	accruer, ok := adapter.(domain.YieldAccruer)
	if !ok {
		return fmt.Errorf("strategy: %s does not earn yield: %w", product, domain.ErrInvalidProduct)
	}
	err = a.engine.Update(ctx, func(tx *dca.Tx) error {
		if err := accruer.Accrue(tx, target, source, amount); err != nil {
			return err
		}
		tx.Emit(domain.EventYieldAccrued, map[string]string{
			"product": string(product),
			"target":  target.Hex(),
			"source":  source.Hex(),
			"amount":  amount.String(),
		})
		return nil
	})
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "strategy: yield accrued",
		slog.String("product", string(product)),
		slog.String("target", target.Hex()),
		slog.String("amount", amount.String()),
	)
	return nil
}

func (a *Allocator) withdrawAll(tx *dca.Tx, investor common.Address, sub domain.DCASubPosition) (DCAPayout, error) {
	pool, err := tx.Pool(sub.PoolID)
	if err != nil {
		return DCAPayout{}, err
	}
	swapped, unswapped, err := tx.WithdrawAll(a.cfg.Custody, sub.PositionID, investor)
	if err != nil {
		return DCAPayout{}, err
	}
	return DCAPayout{
		PoolID:     sub.PoolID,
		PositionID: sub.PositionID,
		Output:     pool.OutputToken,
		Swapped:    swapped,
		Input:      pool.InputToken,
		Unswapped:  unswapped,
	}, nil
}

// ownedOpen returns a copy of an open position belonging to caller.
func (a *Allocator) ownedOpen(caller common.Address, id uint64) (domain.StrategyPosition, error) {
	pos, err := a.Position(id)
	if err != nil {
		return domain.StrategyPosition{}, err
	}
	if pos.Investor != caller {
		return domain.StrategyPosition{}, fmt.Errorf("strategy: position %d not owned by %s: %w", id, caller.Hex(), domain.ErrUnauthorized)
	}
	if pos.Closed {
		return domain.StrategyPosition{}, fmt.Errorf("strategy: position %d: %w", id, domain.ErrPositionAlreadyClosed)
	}
	return pos, nil
}

func (a *Allocator) setClosed(tx *dca.Tx, id uint64, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos := a.positions[id]
	pos.Closed = true
	pos.ClosedAt = at
	tx.Defer(func(context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		pos.Closed = false
		pos.ClosedAt = time.Time{}
		return nil
	})
}
