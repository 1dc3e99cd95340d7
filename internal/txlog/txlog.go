// Package txlog implements the undo log shared by every participant of an
// atomic operation.
package txlog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// Tx collects compensations and pending events for one operation.
type Tx struct {
	ctx    context.Context
	now    time.Time
	undo   []func(ctx context.Context) error
	events []domain.Event
	done   bool
}

// Begin opens a transaction stamped with now.
func Begin(ctx context.Context, now time.Time) *Tx {
	return &Tx{ctx: ctx, now: now.UTC()}
}

// Context returns the context the operation runs under.
func (t *Tx) Context() context.Context { return t.ctx }

// Now returns the operation timestamp. It is fixed for the whole operation.
func (t *Tx) Now() time.Time { return t.now }

// Defer registers a compensation.
func (t *Tx) Defer(undo func(ctx context.Context) error) {
	t.undo = append(t.undo, undo)
}

// Emit buffers an event until commit.
func (t *Tx) Emit(kind domain.EventKind, attrs map[string]string) {
	t.events = append(t.events, domain.Event{
		ID:    uuid.NewString(),
		Kind:  kind,
		At:    t.now,
		Attrs: attrs,
	})
}

// Len returns the number of registered compensations.
func (t *Tx) Len() int { return len(t.undo) }

// Commit discards the compensations and returns the buffered events.
func (t *Tx) Commit() []domain.Event {
	t.done = true
	t.undo = nil
	events := t.events
	t.events = nil
	return events
}

// Rollback runs every compensation in reverse registration order and drops
// the buffered events. All compensations run even if some fail.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	ctx := context.WithoutCancel(t.ctx)

	var errs []error
	for i := len(t.undo) - 1; i >= 0; i-- {
		if err := t.undo[i](ctx); err != nil {
			errs = append(errs, fmt.Errorf("txlog: undo step %d: %w", i, err))
		}
	}
	t.undo = nil
	t.events = nil
	return errors.Join(errs...)
}

var _ domain.TxScope = (*Tx)(nil)
