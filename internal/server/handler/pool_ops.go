package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// PoolEngine is the accrual engine as the operator API drives it. Callers
// named in request bodies are trusted: the API key is the only gate.
type PoolEngine interface {
	PoolReader
	CreatePool(ctx context.Context, input, output common.Address, route domain.Route, interval time.Duration) (domain.Pool, error)
	Deposit(ctx context.Context, owner common.Address, poolID, swaps uint64, amount *big.Int) (domain.Position, error)
	ExecuteSwap(ctx context.Context, caller common.Address, poolID uint64, minOut *big.Int) (domain.SwapResult, error)
	WithdrawSwapped(ctx context.Context, caller common.Address, positionID uint64, recipient common.Address) (*big.Int, error)
	WithdrawAll(ctx context.Context, caller common.Address, positionID uint64, recipient common.Address) (*big.Int, *big.Int, error)
	IncreasePosition(ctx context.Context, caller common.Address, positionID uint64, amount *big.Int, newSwaps uint64) (domain.Position, error)
	ReducePosition(ctx context.Context, caller common.Address, positionID uint64, amount *big.Int, newSwaps uint64, recipient common.Address) (domain.Position, error)
	SetPaused(ctx context.Context, caller common.Address, poolID uint64, paused bool) error
}

type createPoolRequest struct {
	Input    common.Address `json:"input"`
	Output   common.Address `json:"output"`
	Route    domain.Route   `json:"route"`
	Interval string         `json:"interval"`
}

// CreatePool opens a pool for an input/output pair.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	interval, err := time.ParseDuration(req.Interval)
	if err != nil {
		writeError(w, http.StatusBadRequest, "interval must be a duration such as 24h")
		return
	}
	route := req.Route
	if len(route) == 0 {
		route = domain.Route{req.Input, req.Output}
	}
	pool, err := h.engine.CreatePool(r.Context(), req.Input, req.Output, route, interval)
	if err != nil {
		writeOpError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, pool)
}

type pauseRequest struct {
	Caller common.Address `json:"caller"`
	Paused bool           `json:"paused"`
}

// SetPaused pauses or resumes swaps on a pool.
// POST /api/pools/{id}/pause
func (h *PoolHandler) SetPaused(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.engine.SetPaused(r.Context(), req.Caller, id, req.Paused); err != nil {
		writeOpError(w, r, h.logger, "pause pool", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "paused": req.Paused})
}

type swapRequest struct {
	Caller common.Address `json:"caller"`
	MinOut *big.Int       `json:"min_out,omitempty"`
}

// ExecuteSwap runs the pool's due swap.
// POST /api/pools/{id}/swap
func (h *PoolHandler) ExecuteSwap(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req swapRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.engine.ExecuteSwap(r.Context(), req.Caller, id, req.MinOut)
	if err != nil {
		writeOpError(w, r, h.logger, "execute swap", err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: swap executed",
		slog.Uint64("pool_id", id),
		slog.String("caller", req.Caller.Hex()),
	)
	writeJSON(w, http.StatusOK, res)
}

type depositRequest struct {
	Owner  common.Address `json:"owner"`
	Swaps  uint64         `json:"swaps"`
	Amount *big.Int       `json:"amount"`
}

// Deposit opens a position spreading amount over swaps.
// POST /api/pools/{id}/deposits
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req depositRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.engine.Deposit(r.Context(), req.Owner, id, req.Swaps, req.Amount)
	if err != nil {
		writeOpError(w, r, h.logger, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, pos)
}

type withdrawRequest struct {
	Caller    common.Address `json:"caller"`
	Recipient common.Address `json:"recipient,omitempty"`
}

// WithdrawSwapped pays out a position's swapped output.
// POST /api/positions/{id}/withdraw-swapped
func (h *PoolHandler) WithdrawSwapped(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	swapped, err := h.engine.WithdrawSwapped(r.Context(), req.Caller, id, req.Recipient)
	if err != nil {
		writeOpError(w, r, h.logger, "withdraw swapped", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "swapped": swapped})
}

// WithdrawAll closes a position, paying out swapped and unswapped funds.
// POST /api/positions/{id}/withdraw-all
func (h *PoolHandler) WithdrawAll(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req withdrawRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	swapped, unswapped, err := h.engine.WithdrawAll(r.Context(), req.Caller, id, req.Recipient)
	if err != nil {
		writeOpError(w, r, h.logger, "withdraw all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"position_id": id, "swapped": swapped, "unswapped": unswapped})
}

type modifyRequest struct {
	Caller    common.Address `json:"caller"`
	Amount    *big.Int       `json:"amount"`
	Swaps     uint64         `json:"swaps"`
	Recipient common.Address `json:"recipient,omitempty"`
}

// IncreasePosition adds funds and re-spreads the remaining balance.
// POST /api/positions/{id}/increase
func (h *PoolHandler) IncreasePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req modifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount := req.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	pos, err := h.engine.IncreasePosition(r.Context(), req.Caller, id, amount, req.Swaps)
	if err != nil {
		writeOpError(w, r, h.logger, "increase position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// ReducePosition withdraws part of the unswapped balance and re-spreads the
// rest.
// POST /api/positions/{id}/reduce
func (h *PoolHandler) ReducePosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req modifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount := req.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	pos, err := h.engine.ReducePosition(r.Context(), req.Caller, id, amount, req.Swaps, req.Recipient)
	if err != nil {
		writeOpError(w, r, h.logger, "reduce position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}
