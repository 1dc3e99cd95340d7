package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/dca"
	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/exchange"
	"github.com/alanyoungcy/dcaengine/internal/fees"
)

// InvestRequest is one deposit into a strategy.
type InvestRequest struct {
	Investor   common.Address
	StrategyID uint64
	InputToken common.Address
	Amount     *big.Int
	// SwapEncodings holds, per product, one pre-swap per investment of that
	// product in strategy order. A product may be omitted entirely.
	SwapEncodings    map[domain.Product][]domain.SwapEncoding
	InvestorPermit   []byte
	StrategistPermit []byte
	Referrer         common.Address
}

// Invest takes fees once over the full amount and splits the rest across the
// strategy's investments. Any failure leaves every pool, adapter, ledger
// balance and transfer as it was.
func (a *Allocator) Invest(ctx context.Context, req InvestRequest) (domain.StrategyPosition, error) {
	if domain.IsZero(req.Amount) || req.Amount.Sign() < 0 {
		return domain.StrategyPosition{}, fmt.Errorf("strategy: invest: %w", domain.ErrInvalidDepositAmount)
	}
	s, err := a.Strategy(req.StrategyID)
	if err != nil {
		return domain.StrategyPosition{}, err
	}
	encodings, err := matchEncodings(s, req.SwapEncodings)
	if err != nil {
		return domain.StrategyPosition{}, err
	}

	investorSub, err := a.oracle.IsSubscribed(ctx, req.Investor, req.InvestorPermit)
	if err != nil {
		return domain.StrategyPosition{}, fmt.Errorf("strategy: invest: investor permit: %w", err)
	}
	strategistSub, err := a.oracle.IsSubscribed(ctx, s.Creator, req.StrategistPermit)
	if err != nil {
		return domain.StrategyPosition{}, fmt.Errorf("strategy: invest: strategist permit: %w", err)
	}

	var out domain.StrategyPosition
	err = a.engine.Update(ctx, func(tx *dca.Tx) error {
		var err error
		out, err = a.invest(tx, req, encodings, investorSub, strategistSub)
		return err
	})
	if err != nil {
		return domain.StrategyPosition{}, err
	}
	a.logger.InfoContext(ctx, "strategy: invested",
		slog.Uint64("position_id", out.ID),
		slog.Uint64("strategy_id", req.StrategyID),
		slog.String("investor", req.Investor.Hex()),
		slog.String("amount", req.Amount.String()),
	)
	return out, nil
}

// matchEncodings lines up per-product encodings with the strategy's
// investments, returning one (possibly empty) encoding per investment.
func matchEncodings(s domain.Strategy, byProduct map[domain.Product][]domain.SwapEncoding) ([]domain.SwapEncoding, error) {
	counts := s.Counts()
	for p, encs := range byProduct {
		if len(encs) != counts[p] {
			return nil, fmt.Errorf("strategy: invest: %d %s encodings for %d investments: %w", len(encs), p, counts[p], domain.ErrInvalidParamsLength)
		}
	}
	out := make([]domain.SwapEncoding, len(s.Investments))
	seen := make(map[domain.Product]int)
	for i, inv := range s.Investments {
		if encs, ok := byProduct[inv.Product]; ok {
			out[i] = encs[seen[inv.Product]]
		}
		seen[inv.Product]++
	}
	return out, nil
}

func (a *Allocator) invest(tx *dca.Tx, req InvestRequest, encodings []domain.SwapEncoding, investorSub, strategistSub bool) (domain.StrategyPosition, error) {
	// Re-read under the engine lock; the strategy may have turned hot.
	s, err := a.Strategy(req.StrategyID)
	if err != nil {
		return domain.StrategyPosition{}, err
	}

	if err := a.pull(tx, req.InputToken, req.Investor, req.Amount); err != nil {
		return domain.StrategyPosition{}, fmt.Errorf("strategy: invest: %w", err)
	}

	referrer, hasReferrer := a.bindReferrer(tx, req.Investor, req.Referrer)
	split := a.Fees().StrategyFeeSplit(req.Amount, fees.Inputs{
		InvestorSubscribed:   investorSub,
		StrategistSubscribed: strategistSub,
		Hot:                  s.Hot,
		HasReferrer:          hasReferrer,
		Weights:              s.Weights(),
	})
	if err := a.payFees(tx, req.InputToken, s.Creator, referrer, split); err != nil {
		return domain.StrategyPosition{}, err
	}

	net := new(big.Int).Sub(req.Amount, split.Total())
	pos := &domain.StrategyPosition{
		Investor:   req.Investor,
		StrategyID: s.ID,
		InputToken: req.InputToken,
		Amount:     domain.Clone(req.Amount),
		CreatedAt:  tx.Now(),
	}

	left := domain.Clone(net)
	for i, inv := range s.Investments {
		share := domain.MulDiv(net, big.NewInt(int64(inv.PercentBP)), domain.BigBPS())
		if i == len(s.Investments)-1 {
			share = domain.Clone(left)
		}
		left.Sub(left, share)
		if share.Sign() == 0 {
			continue
		}

		if inv.Product == domain.ProductDCA {
			sub, err := a.investDCA(tx, req, inv, encodings[i], share)
			if err != nil {
				return domain.StrategyPosition{}, fmt.Errorf("strategy: invest: investment %d: %w", i, err)
			}
			pos.DCA = append(pos.DCA, sub)
			continue
		}
		receipt, err := a.investProduct(tx, req, inv, encodings[i], share)
		if err != nil {
			return domain.StrategyPosition{}, fmt.Errorf("strategy: invest: investment %d: %w", i, err)
		}
		pos.Receipts = append(pos.Receipts, receipt)
	}

	a.mu.Lock()
	last := a.lastPositionID
	a.lastPositionID++
	pos.ID = a.lastPositionID
	a.positions[pos.ID] = pos
	a.mu.Unlock()
	tx.Defer(func(context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.positions, pos.ID)
		a.lastPositionID = last
		return nil
	})

	tx.Emit(domain.EventInvested, map[string]string{
		"position_id":    domain.FormatUint(pos.ID),
		"strategy_id":    domain.FormatUint(s.ID),
		"investor":       req.Investor.Hex(),
		"token":          req.InputToken.Hex(),
		"amount":         req.Amount.String(),
		"net":            net.String(),
		"protocol_fee":   split.Protocol.String(),
		"strategist_fee": split.Strategist.String(),
		"referrer_fee":   split.Referrer.String(),
	})
	return pos.Clone(), nil
}

// bindReferrer returns the investor's referrer, binding candidate on first
// use. Self-referral never binds.
func (a *Allocator) bindReferrer(tx *dca.Tx, investor, candidate common.Address) (common.Address, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r, ok := a.referrers[investor]; ok {
		return r, true
	}
	if candidate == (common.Address{}) || candidate == investor {
		return common.Address{}, false
	}
	a.referrers[investor] = candidate
	tx.Defer(func(context.Context) error {
		a.mu.Lock()
		defer a.mu.Unlock()
		delete(a.referrers, investor)
		return nil
	})
	tx.Emit(domain.EventReferrerBound, map[string]string{
		"investor": investor.Hex(),
		"referrer": candidate.Hex(),
	})
	return candidate, true
}

func (a *Allocator) payFees(tx *dca.Tx, token, strategist, referrer common.Address, split fees.Split) error {
	if err := a.transfer(tx, token, a.cfg.Treasury, split.Protocol); err != nil {
		return fmt.Errorf("strategy: invest: protocol fee: %w", err)
	}
	credits := []struct {
		kind      domain.RewardKind
		principal common.Address
		amount    *big.Int
	}{
		{domain.RewardStrategist, strategist, split.Strategist},
		{domain.RewardReferrer, referrer, split.Referrer},
	}
	for _, c := range credits {
		if domain.IsZero(c.amount) {
			continue
		}
		if err := a.transfer(tx, token, a.ledger.Custody(), c.amount); err != nil {
			return fmt.Errorf("strategy: invest: %s fee: %w", c.kind, err)
		}
		key := domain.RewardKey{Kind: c.kind, Principal: c.principal, Token: token}
		if err := a.ledger.Credit(tx, key, c.amount); err != nil {
			return fmt.Errorf("strategy: invest: %s fee: %w", c.kind, err)
		}
	}
	return nil
}

// investDCA deposits share into the pool on behalf of custody and refunds
// the per-swap rounding remainder to the investor.
func (a *Allocator) investDCA(tx *dca.Tx, req InvestRequest, inv domain.Investment, enc domain.SwapEncoding, share *big.Int) (domain.DCASubPosition, error) {
	pool, err := tx.Pool(inv.PoolID)
	if err != nil {
		return domain.DCASubPosition{}, err
	}
	amount, err := a.convert(tx, req.InputToken, pool.InputToken, enc, share)
	if err != nil {
		return domain.DCASubPosition{}, err
	}
	p, err := tx.Deposit(a.cfg.Custody, inv.PoolID, inv.Swaps, amount)
	if err != nil {
		return domain.DCASubPosition{}, err
	}
	used := new(big.Int).Mul(p.AmountPerSwap, new(big.Int).SetUint64(p.Swaps))
	if err := a.transfer(tx, pool.InputToken, req.Investor, new(big.Int).Sub(amount, used)); err != nil {
		return domain.DCASubPosition{}, fmt.Errorf("refund dust: %w", err)
	}
	return domain.DCASubPosition{PoolID: inv.PoolID, PositionID: p.ID}, nil
}

func (a *Allocator) investProduct(tx *dca.Tx, req InvestRequest, inv domain.Investment, enc domain.SwapEncoding, share *big.Int) (domain.Receipt, error) {
	adapter, err := a.adapters.Get(inv.Product)
	if err != nil {
		return domain.Receipt{}, err
	}
	in := domain.AdapterInvest{
		Target: inv.Target,
		Token:  req.InputToken,
		Amount: share,
		Payer:  a.cfg.Custody,
	}
	if inv.Product == domain.ProductBuy {
		// Buys swap on entry; the encoding is theirs to execute.
		in.Swap = enc
		return adapter.Invest(tx, in)
	}

	asset, err := adapter.Asset(inv.Target)
	if err != nil {
		return domain.Receipt{}, err
	}
	in.Amount, err = a.convert(tx, req.InputToken, asset, enc, share)
	if err != nil {
		return domain.Receipt{}, err
	}
	in.Token = asset
	return adapter.Invest(tx, in)
}

// convert swaps amount of from into to inside custody when enc carries a
// route. Without one the tokens must already match.
func (a *Allocator) convert(tx *dca.Tx, from, to common.Address, enc domain.SwapEncoding, amount *big.Int) (*big.Int, error) {
	if enc.Empty() {
		if from != to {
			return nil, fmt.Errorf("%s needs a swap to %s: %w", from.Hex(), to.Hex(), domain.ErrInvalidRoute)
		}
		return amount, nil
	}
	if err := enc.Route.Validate(from, to); err != nil {
		return nil, err
	}
	return exchange.Do(tx, a.exchange, a.assets, domain.SwapRequest{
		Route:     enc.Route,
		AmountIn:  amount,
		MinOut:    enc.MinOut,
		Payer:     a.cfg.Custody,
		Recipient: a.cfg.Custody,
	})
}

// pull moves amount from owner into custody.
func (a *Allocator) pull(tx *dca.Tx, token, from common.Address, amount *big.Int) error {
	if domain.IsZero(amount) {
		return nil
	}
	if err := a.assets.TransferFrom(tx.Context(), token, from, a.cfg.Custody, amount); err != nil {
		return err
	}
	amt := domain.Clone(amount)
	tx.Defer(func(ctx context.Context) error {
		return a.assets.Transfer(ctx, token, from, amt)
	})
	return nil
}

// transfer moves amount out of custody.
func (a *Allocator) transfer(tx *dca.Tx, token, to common.Address, amount *big.Int) error {
	if domain.IsZero(amount) {
		return nil
	}
	if err := a.assets.Transfer(tx.Context(), token, to, amount); err != nil {
		return err
	}
	amt := domain.Clone(amount)
	tx.Defer(func(ctx context.Context) error {
		return a.assets.TransferFrom(ctx, token, to, a.cfg.Custody, amt)
	})
	return nil
}
