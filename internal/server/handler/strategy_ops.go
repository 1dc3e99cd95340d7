package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/crypto"
	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/fees"
	"github.com/alanyoungcy/dcaengine/internal/strategy"
)

// StrategyService is the allocator as the operator API drives it.
type StrategyService interface {
	StrategyReader
	CreateStrategy(ctx context.Context, creator common.Address, permit []byte, investments []domain.Investment, metadata common.Hash) (domain.Strategy, error)
	SetHot(ctx context.Context, caller common.Address, strategyID uint64, hot bool) error
	SetFees(ctx context.Context, caller common.Address, schedule fees.Schedule) error
	Invest(ctx context.Context, req strategy.InvestRequest) (domain.StrategyPosition, error)
	CollectPosition(ctx context.Context, caller common.Address, positionID uint64) (strategy.Payout, error)
	ClosePosition(ctx context.Context, caller common.Address, positionID uint64) (strategy.Payout, error)
	AccrueYield(ctx context.Context, source common.Address, product domain.Product, target common.Address, amount *big.Int) error
	CollectStrategistRewards(ctx context.Context, caller common.Address) ([]domain.RewardBalance, error)
	CollectReferrerRewards(ctx context.Context, caller common.Address) ([]domain.RewardBalance, error)
	CollectRewards(ctx context.Context, caller, token common.Address) (*big.Int, error)
}

type createStrategyRequest struct {
	Creator     common.Address      `json:"creator"`
	Permit      string              `json:"permit,omitempty"`
	Investments []domain.Investment `json:"investments"`
	Metadata    common.Hash         `json:"metadata"`
}

// CreateStrategy registers a strategy for a subscribed strategist.
// POST /api/strategies
func (h *StrategyHandler) CreateStrategy(w http.ResponseWriter, r *http.Request) {
	var req createStrategyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	permit, err := crypto.DecodePermit(req.Permit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.allocator.CreateStrategy(r.Context(), req.Creator, permit, req.Investments, req.Metadata)
	if err != nil {
		writeOpError(w, r, h.logger, "create strategy", err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

type hotRequest struct {
	Caller common.Address `json:"caller"`
	Hot    bool           `json:"hot"`
}

// SetHot flags or unflags a strategy as featured.
// POST /api/strategies/{id}/hot
func (h *StrategyHandler) SetHot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req hotRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.allocator.SetHot(r.Context(), req.Caller, id, req.Hot); err != nil {
		writeOpError(w, r, h.logger, "set hot", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategy_id": id, "hot": req.Hot})
}

type feesRequest struct {
	Caller   common.Address `json:"caller"`
	Schedule fees.Schedule  `json:"schedule"`
}

// SetFees replaces the fee schedule.
// PUT /api/fees
func (h *StrategyHandler) SetFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.allocator.SetFees(r.Context(), req.Caller, req.Schedule); err != nil {
		writeOpError(w, r, h.logger, "set fees", err)
		return
	}
	writeJSON(w, http.StatusOK, h.allocator.Fees())
}

type investRequest struct {
	Investor         common.Address                           `json:"investor"`
	InputToken       common.Address                           `json:"input_token"`
	Amount           *big.Int                                 `json:"amount"`
	SwapEncodings    map[domain.Product][]domain.SwapEncoding `json:"swap_encodings,omitempty"`
	InvestorPermit   string                                   `json:"investor_permit,omitempty"`
	StrategistPermit string                                   `json:"strategist_permit,omitempty"`
	Referrer         common.Address                           `json:"referrer,omitempty"`
}

// Invest opens a strategy position for an investor.
// POST /api/strategies/{id}/invest
func (h *StrategyHandler) Invest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req investRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	investorPermit, err := crypto.DecodePermit(req.InvestorPermit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "investor_permit: "+err.Error())
		return
	}
	strategistPermit, err := crypto.DecodePermit(req.StrategistPermit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "strategist_permit: "+err.Error())
		return
	}
	pos, err := h.allocator.Invest(r.Context(), strategy.InvestRequest{
		Investor:         req.Investor,
		StrategyID:       id,
		InputToken:       req.InputToken,
		Amount:           req.Amount,
		SwapEncodings:    req.SwapEncodings,
		InvestorPermit:   investorPermit,
		StrategistPermit: strategistPermit,
		Referrer:         req.Referrer,
	})
	if err != nil {
		writeOpError(w, r, h.logger, "invest", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type callerRequest struct {
	Caller common.Address `json:"caller"`
}

// CollectPosition pays out what a strategy position has earned so far.
// POST /api/strategy-positions/{id}/collect
func (h *StrategyHandler) CollectPosition(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "collect position", h.allocator.CollectPosition)
}

// ClosePosition realizes a strategy position in full.
// POST /api/strategy-positions/{id}/close
func (h *StrategyHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	h.payout(w, r, "close position", h.allocator.ClosePosition)
}

func (h *StrategyHandler) payout(w http.ResponseWriter, r *http.Request, op string, fn func(context.Context, common.Address, uint64) (strategy.Payout, error)) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req callerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := fn(r.Context(), req.Caller, id)
	if err != nil {
		writeOpError(w, r, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type yieldRequest struct {
	Source common.Address `json:"source"`
	Amount *big.Int       `json:"amount"`
}

// AccrueYield pays yield from a source into a product target.
// POST /api/products/{product}/{target}/yield
func (h *StrategyHandler) AccrueYield(w http.ResponseWriter, r *http.Request) {
	product := domain.Product(r.PathValue("product"))
	if !product.Valid() {
		writeError(w, http.StatusBadRequest, "unknown product")
		return
	}
	target, err := address(r.PathValue("target"), "target")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req yieldRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.allocator.AccrueYield(r.Context(), req.Source, product, target, req.Amount); err != nil {
		writeOpError(w, r, h.logger, "accrue yield", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: yield accrued",
		slog.String("product", string(product)),
		slog.String("target", target.Hex()),
	)
	writeJSON(w, http.StatusOK, map[string]any{"product": product, "target": target, "amount": req.Amount})
}

type collectRewardsRequest struct {
	Caller common.Address `json:"caller"`
	// Token selects one protocol reward token; strategist and referrer
	// collections always pay every token.
	Token common.Address `json:"token,omitempty"`
}

// CollectRewards pays a principal's accrued rewards of one kind.
// POST /api/rewards/{kind}/collect
func (h *StrategyHandler) CollectRewards(w http.ResponseWriter, r *http.Request) {
	var req collectRewardsRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var (
		paid []domain.RewardBalance
		err  error
	)
	switch kind := domain.RewardKind(r.PathValue("kind")); kind {
	case domain.RewardStrategist:
		paid, err = h.allocator.CollectStrategistRewards(r.Context(), req.Caller)
	case domain.RewardReferrer:
		paid, err = h.allocator.CollectReferrerRewards(r.Context(), req.Caller)
	case domain.RewardProtocol:
		var amount *big.Int
		amount, err = h.allocator.CollectRewards(r.Context(), req.Caller, req.Token)
		if err == nil && amount.Sign() > 0 {
			paid = []domain.RewardBalance{{
				RewardKey: domain.RewardKey{Kind: domain.RewardProtocol, Principal: req.Caller, Token: req.Token},
				Amount:    amount,
			}}
		}
	default:
		writeError(w, http.StatusBadRequest, "kind must be strategist, referrer or protocol")
		return
	}
	if err != nil {
		writeOpError(w, r, h.logger, "collect rewards", err)
		return
	}
	if paid == nil {
		paid = []domain.RewardBalance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"paid": paid})
}
