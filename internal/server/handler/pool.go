package handler

import (
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// PoolReader is the read side of the accrual engine.
type PoolReader interface {
	Pools() []domain.Pool
	Pool(id uint64) (domain.Pool, error)
	Positions(poolID uint64) []domain.Position
	Position(id uint64) (domain.Position, error)
	PositionsByOwner(owner common.Address) []domain.Position
	Balances(positionID uint64) (domain.PositionBalances, error)
	Checkpoint(poolID, k uint64) (*big.Int, error)
}

// PoolHandler serves pool and DCA position endpoints.
type PoolHandler struct {
	engine PoolEngine
	logger *slog.Logger
}

// NewPoolHandler creates a PoolHandler.
func NewPoolHandler(engine PoolEngine, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{engine: engine, logger: logger}
}

type listPoolsResponse struct {
	Pools []domain.Pool `json:"pools"`
}

// ListPools returns every pool.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	pools := h.engine.Pools()
	if pools == nil {
		pools = []domain.Pool{}
	}
	writeJSON(w, http.StatusOK, listPoolsResponse{Pools: pools})
}

// GetPool returns one pool.
// GET /api/pools/{id}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pool, err := h.engine.Pool(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pool)
}

// GetCheckpoint returns the accumulator value after swap k.
// GET /api/pools/{id}/checkpoints/{k}
func (h *PoolHandler) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	k, err := pathID(r, "k")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	acc, err := h.engine.Checkpoint(id, k)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pool_id": id, "swap": k, "accumulator": acc.String()})
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPoolPositions returns the positions of one pool.
// GET /api/pools/{id}/positions
func (h *PoolHandler) ListPoolPositions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.engine.Pool(id); err != nil {
		writeDomainError(w, err)
		return
	}
	positions := h.engine.Positions(id)
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// ListPositions returns the positions owned by an address.
// GET /api/positions?owner=0x...
func (h *PoolHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	owner, err := address(r.URL.Query().Get("owner"), "owner")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions := h.engine.PositionsByOwner(owner)
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

type positionResponse struct {
	Position domain.Position         `json:"position"`
	Balances domain.PositionBalances `json:"balances"`
}

// GetPosition returns a position with its settled balances.
// GET /api/positions/{id}
func (h *PoolHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.engine.Position(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	bal, err := h.engine.Balances(id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: position balances failed",
			slog.Uint64("position_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{Position: pos, Balances: bal})
}
