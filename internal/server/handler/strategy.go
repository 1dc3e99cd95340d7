package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
	"github.com/alanyoungcy/dcaengine/internal/fees"
)

// StrategyReader is the read side of the allocator.
type StrategyReader interface {
	Strategies() []domain.Strategy
	Strategy(id uint64) (domain.Strategy, error)
	Position(id uint64) (domain.StrategyPosition, error)
	PositionsByInvestor(investor common.Address) []domain.StrategyPosition
	Referrer(investor common.Address) (common.Address, bool)
	Fees() fees.Schedule
}

// StrategyHandler serves strategy and strategy position endpoints.
type StrategyHandler struct {
	allocator StrategyService
	logger    *slog.Logger
}

// NewStrategyHandler creates a StrategyHandler.
func NewStrategyHandler(allocator StrategyService, logger *slog.Logger) *StrategyHandler {
	return &StrategyHandler{allocator: allocator, logger: logger}
}

type listStrategiesResponse struct {
	Strategies []domain.Strategy `json:"strategies"`
}

// ListStrategies returns every strategy; ?hot=true keeps only featured ones.
// GET /api/strategies
func (h *StrategyHandler) ListStrategies(w http.ResponseWriter, r *http.Request) {
	hotOnly := r.URL.Query().Get("hot") == "true"
	out := []domain.Strategy{}
	for _, s := range h.allocator.Strategies() {
		if hotOnly && !s.Hot {
			continue
		}
		out = append(out, s)
	}
	writeJSON(w, http.StatusOK, listStrategiesResponse{Strategies: out})
}

// GetStrategy returns one strategy.
// GET /api/strategies/{id}
func (h *StrategyHandler) GetStrategy(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s, err := h.allocator.Strategy(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// GetPosition returns one strategy position.
// GET /api/strategy-positions/{id}
func (h *StrategyHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pos, err := h.allocator.Position(id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

type investorResponse struct {
	Positions []domain.StrategyPosition `json:"positions"`
	Referrer  *common.Address           `json:"referrer,omitempty"`
}

// ListPositions returns an investor's strategy positions and referrer.
// GET /api/strategy-positions?investor=0x...
func (h *StrategyHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	investor, err := address(r.URL.Query().Get("investor"), "investor")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := investorResponse{Positions: h.allocator.PositionsByInvestor(investor)}
	if resp.Positions == nil {
		resp.Positions = []domain.StrategyPosition{}
	}
	if ref, ok := h.allocator.Referrer(investor); ok {
		resp.Referrer = &ref
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetFees returns the current fee schedule.
// GET /api/fees
func (h *StrategyHandler) GetFees(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.allocator.Fees())
}
