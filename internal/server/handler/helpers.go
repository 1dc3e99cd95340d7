package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// domainStatus maps engine errors onto HTTP statuses. Anything it does not
// recognize is a 500.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidPoolID),
		errors.Is(err, domain.ErrInvalidPositionID),
		errors.Is(err, domain.ErrStrategyUnavailable),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrCallerIsNotSwapper):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidDepositAmount),
		errors.Is(err, domain.ErrInvalidNumberOfSwaps),
		errors.Is(err, domain.ErrInvalidTotalPercentage),
		errors.Is(err, domain.ErrInvalidParamsLength),
		errors.Is(err, domain.ErrInvalidRoute),
		errors.Is(err, domain.ErrIntervalTooShort),
		errors.Is(err, domain.ErrFeeTooHigh),
		errors.Is(err, domain.ErrLimitExceeded),
		errors.Is(err, domain.ErrInvalidProduct):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTooEarlyToSwap),
		errors.Is(err, domain.ErrNoTokensToSwap),
		errors.Is(err, domain.ErrPositionAlreadyClosed),
		errors.Is(err, domain.ErrPoolPaused),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientOutput),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrSubscriptionExpired),
		errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeDomainError writes err with its mapped status. Unrecognized errors
// are not echoed to the client.
func writeDomainError(w http.ResponseWriter, err error) {
	status := domainStatus(err)
	if status == http.StatusInternalServerError {
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

// writeOpError logs unexpected failures of a write operation before mapping
// err onto a response.
func writeOpError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	if domainStatus(err) == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeDomainError(w, err)
}

// decode reads a JSON request body into v, rejecting unknown fields.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (uint64, error) {
	raw := r.PathValue(name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return id, nil
}

// address parses a hex address from a path or query value.
func address(raw, name string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%s must be a hex address", name)
	}
	return common.HexToAddress(raw), nil
}
