package domain

import (
	"strconv"
	"time"
)

// EventKind names a committed state change.
type EventKind string

const (
	EventPoolCreated       EventKind = "pool_created"
	EventPoolPaused        EventKind = "pool_paused"
	EventDeposited         EventKind = "deposited"
	EventSwapped           EventKind = "swapped"
	EventWithdrew          EventKind = "withdrew"
	EventPositionModified  EventKind = "position_modified"
	EventStrategyCreated   EventKind = "strategy_created"
	EventStrategyHot       EventKind = "strategy_hot"
	EventFeesUpdated       EventKind = "fees_updated"
	EventInvested          EventKind = "invested"
	EventReferrerBound     EventKind = "referrer_bound"
	EventPositionClosed    EventKind = "position_closed"
	EventPositionCollected EventKind = "position_collected"
	EventYieldAccrued      EventKind = "yield_accrued"
	EventRewardCredited    EventKind = "reward_credited"
	EventRewardsCollected  EventKind = "rewards_collected"
	EventArchived          EventKind = "archived"
)

// Event is one journal entry. Attrs carries decimal strings for amounts.
type Event struct {
	ID    string            `json:"id"`
	Kind  EventKind         `json:"kind"`
	At    time.Time         `json:"at"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// FormatUint renders an id or counter as an event attribute.
func FormatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}
