package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.failPut {
		return errors.New("upload refused")
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[path] = b
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

func (m *memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.BlobInfo
	for p, b := range m.objects {
		if len(p) >= len(prefix) && p[:len(prefix)] == prefix {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(b))})
		}
	}
	return out, nil
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

type memJournal struct {
	events []domain.Event
}

func (j *memJournal) Append(_ context.Context, events []domain.Event) error {
	j.events = append(j.events, events...)
	return nil
}

func (j *memJournal) ListBefore(_ context.Context, before time.Time) ([]domain.Event, error) {
	var out []domain.Event
	for _, ev := range j.events {
		if ev.At.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (j *memJournal) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	var keep []domain.Event
	var n int64
	for _, ev := range j.events {
		if ev.At.Before(before) {
			n++
			continue
		}
		keep = append(keep, ev)
	}
	j.events = keep
	return n, nil
}

func seedJournal(at ...time.Time) *memJournal {
	j := &memJournal{}
	for i, t := range at {
		j.events = append(j.events, domain.Event{
			ID:    string(rune('a' + i)),
			Kind:  domain.EventSwapped,
			At:    t,
			Attrs: map[string]string{"pool_id": "1"},
		})
	}
	return j
}

func TestArchiveEventsWritesJSONLAndPrunes(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	journal := seedJournal(cutoff.Add(-2*time.Hour), cutoff.Add(-time.Hour), cutoff.Add(time.Hour))
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, journal, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	body, ok := blobs.objects["archive/events/2026-03.jsonl"]
	require.True(t, ok)
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	require.Len(t, lines, 2)
	var first domain.Event
	require.NoError(t, json.Unmarshal(lines[0], &first))
	assert.Equal(t, domain.EventSwapped, first.Kind)

	// the future event survives and an archived marker is appended
	require.Len(t, journal.events, 2)
	assert.Equal(t, domain.EventSwapped, journal.events[0].Kind)
	assert.Equal(t, domain.EventArchived, journal.events[1].Kind)
	assert.Equal(t, "2", journal.events[1].Attrs["count"])
}

func TestArchiveEventsUsesNextPartWhenMonthExists(t *testing.T) {
	cutoff := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	blobs := newMemBlobs()
	blobs.objects["archive/events/2026-03.jsonl"] = []byte("{}\n")
	blobs.objects["archive/events/2026-03-part-2.jsonl"] = []byte("{}\n")
	journal := seedJournal(cutoff.Add(-time.Minute))
	a := NewArchiver(blobs, blobs, journal, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := a.ArchiveEvents(context.Background(), cutoff)
	require.NoError(t, err)
	_, ok := blobs.objects["archive/events/2026-03-part-3.jsonl"]
	assert.True(t, ok)
}

func TestArchiveEventsKeepsJournalOnUploadFailure(t *testing.T) {
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	blobs := newMemBlobs()
	blobs.failPut = true
	journal := seedJournal(cutoff.Add(-time.Hour))
	a := NewArchiver(blobs, blobs, journal, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(context.Background(), cutoff)
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Len(t, journal.events, 1)
}

func TestArchiveEventsNothingToDo(t *testing.T) {
	blobs := newMemBlobs()
	a := NewArchiver(blobs, blobs, &memJournal{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	n, err := a.ArchiveEvents(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, blobs.objects)
}
