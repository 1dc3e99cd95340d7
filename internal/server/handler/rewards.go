package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// RewardReader is the read side of the reward ledger.
type RewardReader interface {
	Balances(kind domain.RewardKind, principal common.Address) []domain.RewardBalance
}

// RewardHandler serves accrued reward balances.
type RewardHandler struct {
	ledger RewardReader
	logger *slog.Logger
}

// NewRewardHandler creates a RewardHandler.
func NewRewardHandler(ledger RewardReader, logger *slog.Logger) *RewardHandler {
	return &RewardHandler{ledger: ledger, logger: logger}
}

// GetBalances returns every token balance owed to a principal.
// GET /api/rewards/{kind}/{principal}
func (h *RewardHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	kind := domain.RewardKind(r.PathValue("kind"))
	switch kind {
	case domain.RewardStrategist, domain.RewardReferrer, domain.RewardProtocol:
	default:
		writeError(w, http.StatusBadRequest, "kind must be strategist, referrer or protocol")
		return
	}
	principal, err := address(r.PathValue("principal"), "principal")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	balances := h.ledger.Balances(kind, principal)
	if balances == nil {
		balances = []domain.RewardBalance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"balances": balances})
}
