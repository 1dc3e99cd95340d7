// Package journal fans committed engine events out to the durable journal,
// the live event bus and any extra sinks such as operator alerts.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

const (
	// Stream is the bus stream every event is appended to.
	Stream = "events"
	// defaultRecent bounds the in-memory tail served by Recent.
	defaultRecent = 256
)

// Channel returns the pub/sub channel for kind, e.g. "events:swapped".
func Channel(kind domain.EventKind) string {
	return "events:" + string(kind)
}

// Option customizes a Recorder.
type Option func(*Recorder)

// WithStore persists events to the journal store.
func WithStore(store domain.JournalStore) Option {
	return func(r *Recorder) { r.store = store }
}

// WithBus publishes events to the event bus.
func WithBus(bus domain.EventBus) Option {
	return func(r *Recorder) { r.bus = bus }
}

// WithSinks forwards events to additional sinks.
func WithSinks(sinks ...domain.EventSink) Option {
	return func(r *Recorder) { r.sinks = append(r.sinks, sinks...) }
}

// WithRecent sets how many events Recent keeps.
func WithRecent(n int) Option {
	return func(r *Recorder) {
		if n > 0 {
			r.limit = n
		}
	}
}

// Recorder implements domain.EventSink. Every target is attempted; a
// failing target never stops delivery to the others and the failures come
// back joined.
type Recorder struct {
	store  domain.JournalStore
	bus    domain.EventBus
	sinks  []domain.EventSink
	logger *slog.Logger

	mu     sync.RWMutex
	recent []domain.Event
	limit  int
}

// New creates a Recorder. With no options it only keeps the recent tail.
func New(logger *slog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		logger: logger.With(slog.String("component", "journal")),
		limit:  defaultRecent,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Publish records events in order.
func (r *Recorder) Publish(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}
	r.remember(events)

	var errs []error
	if r.store != nil {
		if err := r.store.Append(ctx, events); err != nil {
			r.logger.WarnContext(ctx, "journal: append failed",
				slog.Int("count", len(events)),
				slog.String("error", err.Error()),
			)
			errs = append(errs, err)
		}
	}
	if r.bus != nil {
		if err := r.broadcast(ctx, events); err != nil {
			r.logger.WarnContext(ctx, "journal: broadcast failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	for _, sink := range r.sinks {
		if err := sink.Publish(ctx, events); err != nil {
			r.logger.WarnContext(ctx, "journal: sink failed", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) broadcast(ctx context.Context, events []domain.Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("journal: marshal event %s: %w", ev.ID, err)
		}
		if err := r.bus.Publish(ctx, Channel(ev.Kind), payload); err != nil {
			return err
		}
		if err := r.bus.StreamAppend(ctx, Stream, payload); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) remember(events []domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recent = append(r.recent, events...)
	if over := len(r.recent) - r.limit; over > 0 {
		r.recent = append([]domain.Event(nil), r.recent[over:]...)
	}
}

// Recent returns up to n of the newest events, newest first. An empty kind
// matches every event.
func (r *Recorder) Recent(kind domain.EventKind, n int) []domain.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Event, 0, min(n, len(r.recent)))
	for i := len(r.recent) - 1; i >= 0 && len(out) < n; i-- {
		if kind == "" || r.recent[i].Kind == kind {
			out = append(out, r.recent[i])
		}
	}
	return out
}

var _ domain.EventSink = (*Recorder)(nil)
