package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TxScope is the handle an atomic operation passes to every participant.
// Participants register compensations with Defer; they run in reverse order
// if the operation fails. Emitted events are only published on commit.
type TxScope interface {
	Context() context.Context
	Now() time.Time
	Defer(undo func(ctx context.Context) error)
	Emit(kind EventKind, attrs map[string]string)
}

// SwapRequest asks the exchange to sell AmountIn along Route.
type SwapRequest struct {
	Route     Route
	AmountIn  *big.Int
	MinOut    *big.Int
	Payer     common.Address
	Recipient common.Address
}

// SwapFill is an executed swap. Venue is the account that received the
// input and paid the output.
type SwapFill struct {
	AmountOut *big.Int
	Venue     common.Address
}

// Exchange executes and quotes swaps. Swap must not execute when the output
// would fall below MinOut.
type Exchange interface {
	Swap(ctx context.Context, req SwapRequest) (SwapFill, error)
	Quote(ctx context.Context, route Route, amountIn *big.Int) (*big.Int, error)
}

// SubscriptionOracle answers whether a principal is currently subscribed.
// An empty permit is a plain "not subscribed".
type SubscriptionOracle interface {
	IsSubscribed(ctx context.Context, principal common.Address, permit []byte) (bool, error)
}

// AssetTransfer moves tokens. A handle is bound to the account Transfer
// debits. Both calls fail without moving anything on error.
type AssetTransfer interface {
	TransferFrom(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	Transfer(ctx context.Context, token, to common.Address, amount *big.Int) error
}

// ProductAdapter commits capital to a vault, liquidity range or buy target.
type ProductAdapter interface {
	Product() Product
	// Asset is the token the target accepts on Invest.
	Asset(target common.Address) (common.Address, error)
	Invest(scope TxScope, req AdapterInvest) (Receipt, error)
	// Collect pays the yield a receipt has earned so far to recipient and
	// leaves its principal invested.
	Collect(scope TxScope, receipt Receipt, recipient common.Address) (Settlement, error)
	Settle(scope TxScope, receipt Receipt, recipient common.Address) (Settlement, error)
}

// YieldAccruer is an adapter whose targets earn yield paid in from a source.
type YieldAccruer interface {
	Accrue(scope TxScope, target, source common.Address, amount *big.Int) error
}

// RewardCrediter accrues reward balances held in its custody account.
type RewardCrediter interface {
	Custody() common.Address
	Credit(scope TxScope, key RewardKey, amount *big.Int) error
}

// EventSink receives committed events.
type EventSink interface {
	Publish(ctx context.Context, events []Event) error
}
