package domain

import "errors"

// Validation errors. Surfaced immediately, never retried.
var (
	ErrInvalidDepositAmount   = errors.New("invalid deposit amount")
	ErrInvalidNumberOfSwaps   = errors.New("invalid number of swaps")
	ErrInvalidPoolID          = errors.New("invalid pool id")
	ErrInvalidTotalPercentage = errors.New("invalid total percentage")
	ErrInvalidParamsLength    = errors.New("invalid params length")
	ErrInvalidRoute           = errors.New("invalid route")
	ErrIntervalTooShort       = errors.New("interval too short")
	ErrFeeTooHigh             = errors.New("fee too high")
	ErrLimitExceeded          = errors.New("limit exceeded")
	ErrInvalidProduct         = errors.New("invalid product")
)

// Temporal preconditions. The caller may retry later.
var (
	ErrTooEarlyToSwap = errors.New("too early to swap")
	ErrNoTokensToSwap = errors.New("no tokens to swap")
)

// Authorization errors.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrCallerIsNotSwapper = errors.New("caller is not swapper")
)

// State errors.
var (
	ErrPositionAlreadyClosed = errors.New("position already closed")
	ErrInvalidPositionID     = errors.New("invalid position id")
	ErrStrategyUnavailable   = errors.New("strategy unavailable")
	ErrPoolPaused            = errors.New("pool paused")
)

// External collaborator failures.
var (
	ErrInsufficientOutput  = errors.New("insufficient output amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSubscriptionExpired = errors.New("subscription expired")
	ErrInvalidSignature    = errors.New("invalid signature")
)

var (
	ErrNotFound = errors.New("not found")
	ErrLockHeld = errors.New("lock already held")
)

// IsRetryable reports whether err is a temporal precondition failure that
// clears on its own once time passes or new deposits arrive.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTooEarlyToSwap) || errors.Is(err, ErrNoTokensToSwap)
}
