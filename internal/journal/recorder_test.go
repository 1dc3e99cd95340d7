package journal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

type memStore struct {
	events []domain.Event
	err    error
}

func (m *memStore) Append(_ context.Context, events []domain.Event) error {
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

func (m *memStore) List(context.Context, domain.EventKind, domain.ListOpts) ([]domain.Event, error) {
	return m.events, nil
}

func (m *memStore) ListBefore(context.Context, time.Time) ([]domain.Event, error) {
	return m.events, nil
}

type memBus struct {
	published map[string][][]byte
	stream    [][]byte
}

func (b *memBus) Publish(_ context.Context, channel string, payload []byte) error {
	if b.published == nil {
		b.published = map[string][][]byte{}
	}
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *memBus) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (b *memBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.stream = append(b.stream, payload)
	return nil
}

func (b *memBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type countingSink struct{ n int }

func (c *countingSink) Publish(_ context.Context, events []domain.Event) error {
	c.n += len(events)
	return nil
}

func events(kinds ...domain.EventKind) []domain.Event {
	out := make([]domain.Event, len(kinds))
	for i, k := range kinds {
		out[i] = domain.Event{ID: string(k) + "-id", Kind: k, At: time.Unix(int64(i), 0).UTC()}
	}
	return out
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishFansOut(t *testing.T) {
	store := &memStore{}
	bus := &memBus{}
	sink := &countingSink{}
	r := New(quiet(), WithStore(store), WithBus(bus), WithSinks(sink))

	require.NoError(t, r.Publish(context.Background(), events(domain.EventDeposited, domain.EventSwapped)))

	assert.Len(t, store.events, 2)
	assert.Len(t, bus.stream, 2)
	require.Len(t, bus.published[Channel(domain.EventSwapped)], 1)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(bus.published["events:swapped"][0], &ev))
	assert.Equal(t, domain.EventSwapped, ev.Kind)
	assert.Equal(t, 2, sink.n)
}

func TestPublishContinuesPastFailures(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	bus := &memBus{}
	r := New(quiet(), WithStore(store), WithBus(bus))

	err := r.Publish(context.Background(), events(domain.EventWithdrew))
	require.Error(t, err)
	assert.Len(t, bus.stream, 1)
	assert.Len(t, r.Recent("", 10), 1)
}

func TestRecentIsBoundedAndFiltered(t *testing.T) {
	r := New(quiet(), WithRecent(3))
	ctx := context.Background()
	require.NoError(t, r.Publish(ctx, events(domain.EventDeposited, domain.EventSwapped)))
	require.NoError(t, r.Publish(ctx, events(domain.EventSwapped, domain.EventWithdrew)))

	all := r.Recent("", 10)
	require.Len(t, all, 3)
	assert.Equal(t, domain.EventWithdrew, all[0].Kind)

	swaps := r.Recent(domain.EventSwapped, 10)
	assert.Len(t, swaps, 2)
	assert.Len(t, r.Recent(domain.EventSwapped, 1), 1)
}
