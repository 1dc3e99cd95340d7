package dca

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/exchange"
	"github.com/alanyoungcy/dcaengine/internal/fees"
	"github.com/alanyoungcy/dcaengine/internal/txlog"
)

// Tx is an open engine operation. It is only valid inside the Update
// callback that received it.
type Tx struct {
	*txlog.Tx
	e *Engine
}

// Custody is the engine custody account.
func (tx *Tx) Custody() common.Address { return tx.e.cfg.Custody }

// Pool returns a copy of a pool as seen by this operation.
func (tx *Tx) Pool(id uint64) (domain.Pool, error) {
	ps, err := tx.pool(id)
	if err != nil {
		return domain.Pool{}, err
	}
	return ps.pool.Clone(), nil
}

// Position returns a copy of a position as seen by this operation.
func (tx *Tx) Position(id uint64) (domain.Position, error) {
	pos, err := tx.position(id)
	if err != nil {
		return domain.Position{}, err
	}
	return pos.Clone(), nil
}

// Balances settles a position lazily as seen by this operation.
func (tx *Tx) Balances(id uint64) (domain.PositionBalances, error) {
	pos, err := tx.position(id)
	if err != nil {
		return domain.PositionBalances{}, err
	}
	return tx.e.pools[pos.PoolID].balances(pos), nil
}

// CreatePool registers a pool with an empty accumulator.
func (tx *Tx) CreatePool(input, output common.Address, route domain.Route, interval time.Duration) (domain.Pool, error) {
	e := tx.e
	if interval < e.cfg.MinInterval || interval <= 0 {
		return domain.Pool{}, fmt.Errorf("dca: create pool: interval %s below %s: %w", interval, e.cfg.MinInterval, domain.ErrIntervalTooShort)
	}
	if err := route.Validate(input, output); err != nil {
		return domain.Pool{}, fmt.Errorf("dca: create pool: %w", err)
	}

	last := e.lastPoolID
	e.lastPoolID++
	pool := domain.Pool{
		ID:             e.lastPoolID,
		InputToken:     input,
		OutputToken:    output,
		Route:          route.Clone(),
		Interval:       interval,
		NextSwapAmount: new(big.Int),
		CreatedAt:      tx.Now(),
	}
	e.pools[pool.ID] = newPoolState(pool)
	tx.Defer(func(context.Context) error {
		delete(e.pools, pool.ID)
		e.lastPoolID = last
		return nil
	})

	tx.Emit(domain.EventPoolCreated, map[string]string{
		"pool_id":  domain.FormatUint(pool.ID),
		"input":    input.Hex(),
		"output":   output.Hex(),
		"route":    pool.Route.String(),
		"interval": interval.String(),
	})
	return pool.Clone(), nil
}

// Deposit pulls amount/swaps*swaps of the pool input from owner and opens a
// position. The division remainder is never pulled.
func (tx *Tx) Deposit(owner common.Address, poolID, swaps uint64, amount *big.Int) (domain.Position, error) {
	if swaps == 0 {
		return domain.Position{}, fmt.Errorf("dca: deposit: %w", domain.ErrInvalidNumberOfSwaps)
	}
	if amount == nil || amount.Sign() <= 0 {
		return domain.Position{}, fmt.Errorf("dca: deposit: amount %s: %w", domain.Clone(amount), domain.ErrInvalidDepositAmount)
	}
	ps, err := tx.pool(poolID)
	if err != nil {
		return domain.Position{}, err
	}
	if ps.pool.Paused {
		return domain.Position{}, fmt.Errorf("dca: deposit pool %d: %w", poolID, domain.ErrPoolPaused)
	}
	performed := ps.pool.PerformedSwaps
	final, err := finalSwap(performed, swaps)
	if err != nil {
		return domain.Position{}, fmt.Errorf("dca: deposit pool %d: %w", poolID, err)
	}

	n := new(big.Int).SetUint64(swaps)
	aps := new(big.Int).Quo(amount, n)
	if aps.Sign() == 0 {
		return domain.Position{}, fmt.Errorf("dca: deposit: %s over %d swaps rounds to zero: %w", amount, swaps, domain.ErrInvalidDepositAmount)
	}
	if err := tx.pull(ps.pool.InputToken, owner, new(big.Int).Mul(aps, n)); err != nil {
		return domain.Position{}, fmt.Errorf("dca: deposit pool %d: %w", poolID, err)
	}

	tx.savePool(ps)
	ps.pool.NextSwapAmount = new(big.Int).Add(ps.pool.NextSwapAmount, aps)
	tx.addExpiring(ps, final, aps)

	pos := &domain.Position{
		Owner:          owner,
		PoolID:         poolID,
		AmountPerSwap:  aps,
		Swaps:          swaps,
		EntrySwap:      performed,
		FinalSwap:      final,
		LastUpdateSwap: performed,
		Accrued:        new(big.Int),
		CreatedAt:      tx.Now(),
	}
	tx.insertPosition(pos)

	tx.Emit(domain.EventDeposited, map[string]string{
		"pool_id":         domain.FormatUint(poolID),
		"position_id":     domain.FormatUint(pos.ID),
		"owner":           owner.Hex(),
		"amount_per_swap": aps.String(),
		"swaps":           domain.FormatUint(swaps),
		"entry_swap":      domain.FormatUint(performed),
	})
	return pos.Clone(), nil
}

// ExecuteSwap sells the pool's nextSwapAmount, skims the protocol fee from
// the output and advances the accumulator by the net output per input unit.
func (tx *Tx) ExecuteSwap(caller common.Address, poolID uint64, minOut *big.Int) (domain.SwapResult, error) {
	e := tx.e
	if !e.swappers[caller] {
		return domain.SwapResult{}, fmt.Errorf("dca: swap pool %d by %s: %w", poolID, caller.Hex(), domain.ErrCallerIsNotSwapper)
	}
	ps, err := tx.pool(poolID)
	if err != nil {
		return domain.SwapResult{}, err
	}
	if ps.pool.Paused {
		return domain.SwapResult{}, fmt.Errorf("dca: swap pool %d: %w", poolID, domain.ErrPoolPaused)
	}
	now := tx.Now()
	if next := ps.pool.NextSwapAt(); now.Before(next) {
		return domain.SwapResult{}, fmt.Errorf("dca: swap pool %d before %s: %w", poolID, next.Format(time.RFC3339), domain.ErrTooEarlyToSwap)
	}
	amountIn := domain.Clone(ps.pool.NextSwapAmount)
	if amountIn.Sign() == 0 {
		return domain.SwapResult{}, fmt.Errorf("dca: swap pool %d: %w", poolID, domain.ErrNoTokensToSwap)
	}

	out, err := exchange.Do(tx, e.exchange, e.assets, domain.SwapRequest{
		Route:     ps.pool.Route,
		AmountIn:  amountIn,
		MinOut:    minOut,
		Payer:     e.cfg.Custody,
		Recipient: e.cfg.Custody,
	})
	if err != nil {
		return domain.SwapResult{}, fmt.Errorf("dca: swap pool %d: %w", poolID, err)
	}

	fee := fees.Charge(out, e.cfg.SwapFeeBP)
	if fee.Sign() > 0 {
		if err := tx.transfer(ps.pool.OutputToken, e.rewards.Custody(), fee); err != nil {
			return domain.SwapResult{}, fmt.Errorf("dca: swap pool %d: move fee: %w", poolID, err)
		}
		key := domain.RewardKey{Kind: domain.RewardProtocol, Principal: e.cfg.FeeRecipient, Token: ps.pool.OutputToken}
		if err := e.rewards.Credit(tx, key, fee); err != nil {
			return domain.SwapResult{}, fmt.Errorf("dca: swap pool %d: credit fee: %w", poolID, err)
		}
	}
	net := new(big.Int).Sub(out, fee)

	checkpoint := ps.nextCheckpoint(net, amountIn)
	ps.accum = append(ps.accum, checkpoint)
	tx.Defer(func(context.Context) error {
		ps.accum = ps.accum[:len(ps.accum)-1]
		return nil
	})

	tx.savePool(ps)
	ps.pool.PerformedSwaps++
	ps.pool.LastSwapAt = now
	expired := new(big.Int)
	if v, ok := ps.expiring[ps.pool.PerformedSwaps]; ok {
		expired.Set(v)
		ps.pool.NextSwapAmount = new(big.Int).Sub(ps.pool.NextSwapAmount, v)
		tx.setExpiring(ps, ps.pool.PerformedSwaps, nil)
	}

	res := domain.SwapResult{
		PoolID:      poolID,
		SwapIndex:   ps.pool.PerformedSwaps,
		AmountIn:    amountIn,
		AmountOut:   out,
		ProtocolFee: fee,
		Checkpoint:  domain.Clone(checkpoint),
		Expired:     expired,
		ExecutedAt:  now,
	}
	tx.Emit(domain.EventSwapped, map[string]string{
		"pool_id":    domain.FormatUint(poolID),
		"swap":       domain.FormatUint(res.SwapIndex),
		"amount_in":  amountIn.String(),
		"amount_out": out.String(),
		"fee":        fee.String(),
		"checkpoint": checkpoint.String(),
		"expired":    expired.String(),
		"caller":     caller.Hex(),
	})
	return res, nil
}

// WithdrawSwapped pays the settled output of a position to recipient and
// moves its checkpoint forward. A second call without an intervening swap
// pays zero.
func (tx *Tx) WithdrawSwapped(caller common.Address, positionID uint64, recipient common.Address) (*big.Int, error) {
	pos, ps, err := tx.owned(caller, positionID)
	if err != nil {
		return nil, err
	}
	if recipient == (common.Address{}) {
		recipient = pos.Owner
	}

	swapped := ps.swapped(pos)
	if !pos.Terminated {
		tx.savePosition(pos)
		pos.LastUpdateSwap = pos.SettledThrough(ps.pool.PerformedSwaps)
		pos.Accrued = new(big.Int)
	}
	if err := tx.transfer(ps.pool.OutputToken, recipient, swapped); err != nil {
		return nil, fmt.Errorf("dca: withdraw position %d: %w", positionID, err)
	}

	tx.Emit(domain.EventWithdrew, map[string]string{
		"pool_id":     domain.FormatUint(ps.pool.ID),
		"position_id": domain.FormatUint(positionID),
		"recipient":   recipient.Hex(),
		"swapped":     swapped.String(),
		"unswapped":   "0",
	})
	return swapped, nil
}

// WithdrawAll pays swapped output, refunds unswapped input and terminates
// the position, removing its future contribution from the pool.
func (tx *Tx) WithdrawAll(caller common.Address, positionID uint64, recipient common.Address) (swapped, unswapped *big.Int, err error) {
	pos, ps, err := tx.owned(caller, positionID)
	if err != nil {
		return nil, nil, err
	}
	if recipient == (common.Address{}) {
		recipient = pos.Owner
	}

	performed := ps.pool.PerformedSwaps
	swapped = ps.swapped(pos)
	unswapped = new(big.Int)
	if !pos.Terminated {
		unswapped = pos.Unswapped(performed)
		if pos.Live(performed) {
			tx.removeContribution(ps, pos)
		}
		tx.savePosition(pos)
		pos.LastUpdateSwap = pos.SettledThrough(performed)
		pos.Accrued = new(big.Int)
		pos.AmountPerSwap = new(big.Int)
		pos.Terminated = true
	}

	if err := tx.transfer(ps.pool.OutputToken, recipient, swapped); err != nil {
		return nil, nil, fmt.Errorf("dca: withdraw all position %d: output: %w", positionID, err)
	}
	if err := tx.transfer(ps.pool.InputToken, recipient, unswapped); err != nil {
		return nil, nil, fmt.Errorf("dca: withdraw all position %d: input: %w", positionID, err)
	}

	tx.Emit(domain.EventWithdrew, map[string]string{
		"pool_id":     domain.FormatUint(ps.pool.ID),
		"position_id": domain.FormatUint(positionID),
		"recipient":   recipient.Hex(),
		"swapped":     swapped.String(),
		"unswapped":   unswapped.String(),
		"terminated":  "true",
	})
	return swapped, unswapped, nil
}

// IncreasePosition adds amount to the unswapped balance and spreads the
// total over newSwaps future swaps. Output swapped so far is kept.
func (tx *Tx) IncreasePosition(caller common.Address, positionID uint64, amount *big.Int, newSwaps uint64) (domain.Position, error) {
	pos, ps, err := tx.owned(caller, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if pos.Terminated {
		return domain.Position{}, fmt.Errorf("dca: increase position %d: %w", positionID, domain.ErrInvalidPositionID)
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.Position{}, fmt.Errorf("dca: increase position %d: %w", positionID, domain.ErrInvalidDepositAmount)
	}
	if ps.pool.Paused {
		return domain.Position{}, fmt.Errorf("dca: increase position %d: %w", positionID, domain.ErrPoolPaused)
	}
	if newSwaps == 0 {
		return domain.Position{}, fmt.Errorf("dca: increase position %d: %w", positionID, domain.ErrInvalidNumberOfSwaps)
	}

	total := pos.Unswapped(ps.pool.PerformedSwaps)
	total.Add(total, amount)
	if err := tx.pull(ps.pool.InputToken, pos.Owner, amount); err != nil {
		return domain.Position{}, fmt.Errorf("dca: increase position %d: %w", positionID, err)
	}
	dust, err := tx.respread(ps, pos, total, newSwaps)
	if err != nil {
		return domain.Position{}, fmt.Errorf("dca: increase position %d: %w", positionID, err)
	}
	if err := tx.transfer(ps.pool.InputToken, pos.Owner, dust); err != nil {
		return domain.Position{}, fmt.Errorf("dca: increase position %d: refund dust: %w", positionID, err)
	}
	return pos.Clone(), nil
}

// ReducePosition refunds amount of the unswapped balance to recipient and
// spreads the rest over newSwaps future swaps.
func (tx *Tx) ReducePosition(caller common.Address, positionID uint64, amount *big.Int, newSwaps uint64, recipient common.Address) (domain.Position, error) {
	pos, ps, err := tx.owned(caller, positionID)
	if err != nil {
		return domain.Position{}, err
	}
	if pos.Terminated {
		return domain.Position{}, fmt.Errorf("dca: reduce position %d: %w", positionID, domain.ErrInvalidPositionID)
	}
	if recipient == (common.Address{}) {
		recipient = pos.Owner
	}
	unswapped := pos.Unswapped(ps.pool.PerformedSwaps)
	if amount == nil || amount.Sign() < 0 || amount.Cmp(unswapped) > 0 {
		return domain.Position{}, fmt.Errorf("dca: reduce position %d by %s of %s: %w",
			positionID, domain.Clone(amount), unswapped, domain.ErrInvalidDepositAmount)
	}
	total := new(big.Int).Sub(unswapped, amount)
	if total.Sign() > 0 && newSwaps == 0 {
		return domain.Position{}, fmt.Errorf("dca: reduce position %d: %w", positionID, domain.ErrInvalidNumberOfSwaps)
	}
	if total.Sign() == 0 {
		newSwaps = 0
	}

	dust, err := tx.respread(ps, pos, total, newSwaps)
	if err != nil {
		return domain.Position{}, fmt.Errorf("dca: reduce position %d: %w", positionID, err)
	}
	refund := new(big.Int).Add(amount, dust)
	if err := tx.transfer(ps.pool.InputToken, recipient, refund); err != nil {
		return domain.Position{}, fmt.Errorf("dca: reduce position %d: refund: %w", positionID, err)
	}
	return pos.Clone(), nil
}

// respread replaces pos's remaining schedule with total over newSwaps and
// returns the division remainder, which the caller refunds.
func (tx *Tx) respread(ps *poolState, pos *domain.Position, total *big.Int, newSwaps uint64) (*big.Int, error) {
	performed := ps.pool.PerformedSwaps
	final, err := finalSwap(performed, newSwaps)
	if err != nil {
		return nil, err
	}
	newAps := new(big.Int)
	if newSwaps > 0 {
		newAps.Quo(total, new(big.Int).SetUint64(newSwaps))
	}
	if total.Sign() > 0 && newAps.Sign() == 0 {
		return nil, fmt.Errorf("%s over %d swaps rounds to zero: %w", total, newSwaps, domain.ErrInvalidDepositAmount)
	}

	swapped := ps.swapped(pos)
	if pos.Live(performed) {
		tx.removeContribution(ps, pos)
	}

	tx.savePosition(pos)
	pos.Accrued = swapped
	pos.LastUpdateSwap = performed
	pos.AmountPerSwap = newAps
	pos.FinalSwap = performed
	if newAps.Sign() > 0 {
		pos.FinalSwap = final
		tx.savePool(ps)
		ps.pool.NextSwapAmount = new(big.Int).Add(ps.pool.NextSwapAmount, newAps)
		tx.addExpiring(ps, pos.FinalSwap, newAps)
	}
	pos.Swaps = pos.FinalSwap - pos.EntrySwap

	used := new(big.Int).Mul(newAps, new(big.Int).SetUint64(newSwaps))
	tx.Emit(domain.EventPositionModified, map[string]string{
		"pool_id":         domain.FormatUint(ps.pool.ID),
		"position_id":     domain.FormatUint(pos.ID),
		"amount_per_swap": newAps.String(),
		"final_swap":      domain.FormatUint(pos.FinalSwap),
		"accrued":         swapped.String(),
	})
	return new(big.Int).Sub(total, used), nil
}

// SetPaused toggles a pool. Only the engine admin may call it.
func (tx *Tx) SetPaused(caller common.Address, poolID uint64, paused bool) error {
	if caller != tx.e.cfg.Admin {
		return fmt.Errorf("dca: pause pool %d: %w", poolID, domain.ErrUnauthorized)
	}
	ps, err := tx.pool(poolID)
	if err != nil {
		return err
	}
	if ps.pool.Paused == paused {
		return nil
	}
	tx.savePool(ps)
	ps.pool.Paused = paused
	tx.Emit(domain.EventPoolPaused, map[string]string{
		"pool_id": domain.FormatUint(poolID),
		"paused":  strconv.FormatBool(paused),
	})
	return nil
}

// ---------------------------------------------------------------------------
// Journaled mutations
// ---------------------------------------------------------------------------

func (tx *Tx) pool(id uint64) (*poolState, error) {
	ps, ok := tx.e.pools[id]
	if !ok {
		return nil, fmt.Errorf("dca: pool %d: %w", id, domain.ErrInvalidPoolID)
	}
	return ps, nil
}

func (tx *Tx) position(id uint64) (*domain.Position, error) {
	pos, ok := tx.e.positions[id]
	if !ok {
		return nil, fmt.Errorf("dca: position %d: %w", id, domain.ErrInvalidPositionID)
	}
	return pos, nil
}

func (tx *Tx) owned(caller common.Address, id uint64) (*domain.Position, *poolState, error) {
	pos, err := tx.position(id)
	if err != nil {
		return nil, nil, err
	}
	if pos.Owner != caller {
		return nil, nil, fmt.Errorf("dca: position %d not owned by %s: %w", id, caller.Hex(), domain.ErrUnauthorized)
	}
	return pos, tx.e.pools[pos.PoolID], nil
}

func (tx *Tx) savePool(ps *poolState) {
	saved := ps.pool.Clone()
	tx.Defer(func(context.Context) error {
		ps.pool = saved
		return nil
	})
}

func (tx *Tx) savePosition(pos *domain.Position) {
	saved := pos.Clone()
	tx.Defer(func(context.Context) error {
		*pos = saved
		return nil
	})
}

func (tx *Tx) insertPosition(pos *domain.Position) {
	e := tx.e
	last := e.lastPositionID
	e.lastPositionID++
	pos.ID = e.lastPositionID
	e.positions[pos.ID] = pos
	e.owned[pos.Owner] = append(e.owned[pos.Owner], pos.ID)
	tx.Defer(func(context.Context) error {
		delete(e.positions, pos.ID)
		ids := e.owned[pos.Owner]
		if len(ids) <= 1 {
			delete(e.owned, pos.Owner)
		} else {
			e.owned[pos.Owner] = ids[:len(ids)-1]
		}
		e.lastPositionID = last
		return nil
	})
}

// setExpiring writes expiring[k]; nil or zero removes the entry.
func (tx *Tx) setExpiring(ps *poolState, k uint64, v *big.Int) {
	prev, had := ps.expiring[k]
	if domain.IsZero(v) {
		delete(ps.expiring, k)
	} else {
		ps.expiring[k] = v
	}
	tx.Defer(func(context.Context) error {
		if had {
			ps.expiring[k] = prev
		} else {
			delete(ps.expiring, k)
		}
		return nil
	})
}

func (tx *Tx) addExpiring(ps *poolState, k uint64, delta *big.Int) {
	tx.setExpiring(ps, k, new(big.Int).Add(domain.Clone(ps.expiring[k]), delta))
}

// removeContribution takes a live position out of nextSwapAmount and the
// expiry table.
func (tx *Tx) removeContribution(ps *poolState, pos *domain.Position) {
	tx.savePool(ps)
	ps.pool.NextSwapAmount = new(big.Int).Sub(ps.pool.NextSwapAmount, pos.AmountPerSwap)
	tx.setExpiring(ps, pos.FinalSwap, new(big.Int).Sub(domain.Clone(ps.expiring[pos.FinalSwap]), pos.AmountPerSwap))
}

// pull moves amount of token from owner into custody.
func (tx *Tx) pull(token, from common.Address, amount *big.Int) error {
	if domain.IsZero(amount) {
		return nil
	}
	e := tx.e
	if err := e.assets.TransferFrom(tx.Context(), token, from, e.cfg.Custody, amount); err != nil {
		return err
	}
	amt := domain.Clone(amount)
	tx.Defer(func(ctx context.Context) error {
		return e.assets.Transfer(ctx, token, from, amt)
	})
	return nil
}

// transfer moves amount of token out of custody.
func (tx *Tx) transfer(token, to common.Address, amount *big.Int) error {
	if domain.IsZero(amount) {
		return nil
	}
	e := tx.e
	if err := e.assets.Transfer(tx.Context(), token, to, amount); err != nil {
		return err
	}
	amt := domain.Clone(amount)
	tx.Defer(func(ctx context.Context) error {
		return e.assets.TransferFrom(ctx, token, to, e.cfg.Custody, amt)
	})
	return nil
}

// finalSwap returns the index of the last of swaps swaps after performed.
func finalSwap(performed, swaps uint64) (uint64, error) {
	if swaps > math.MaxUint64-performed {
		return 0, fmt.Errorf("%d swaps after swap %d overflow the swap index: %w", swaps, performed, domain.ErrInvalidNumberOfSwaps)
	}
	return performed + swaps, nil
}
