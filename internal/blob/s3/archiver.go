package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// multipartThreshold switches uploads to the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// EventArchiveStore is the slice of the journal the archiver needs.
type EventArchiveStore interface {
	Append(ctx context.Context, events []domain.Event) error
	ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventArchiver implements domain.Archiver. It moves journal entries older
// than a cutoff into a JSONL object, then deletes them from the journal
// once the upload succeeded.
type EventArchiver struct {
	writer  domain.BlobWriter
	reader  domain.BlobReader
	journal EventArchiveStore
	logger  *slog.Logger
}

// NewArchiver creates a new EventArchiver.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, journal EventArchiveStore, logger *slog.Logger) *EventArchiver {
	return &EventArchiver{
		writer:  writer,
		reader:  reader,
		journal: journal,
		logger:  logger.With(slog.String("component", "event_archiver")),
	}
}

// ArchiveEvents uploads every event before the cutoff to
// archive/events/YYYY-MM.jsonl (suffixed -part-N when the month already has
// an object), prunes them from the journal and records an archived event.
// It returns the number of events archived.
func (a *EventArchiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	events, err := a.journal.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events query: %w", err)
	}
	if len(events) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(events)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events marshal: %w", err)
	}

	path, err := a.freePath(ctx, before)
	if err != nil {
		return 0, err
	}
	if len(buf) >= multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), multipartThreshold/2)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive events upload: %w", err)
	}

	count := int64(len(events))
	deleted, err := a.journal.DeleteBefore(ctx, before)
	if err != nil {
		return count, fmt.Errorf("s3blob: archive events prune: %w", err)
	}
	if deleted != count {
		a.logger.Warn("s3blob: pruned count differs from archived count",
			slog.Int64("archived", count),
			slog.Int64("deleted", deleted),
		)
	}

	marker := domain.Event{
		ID:   uuid.NewString(),
		Kind: domain.EventArchived,
		At:   time.Now().UTC(),
		Attrs: map[string]string{
			"path":   path,
			"count":  strconv.FormatInt(count, 10),
			"before": before.UTC().Format(time.RFC3339),
		},
	}
	if err := a.journal.Append(ctx, []domain.Event{marker}); err != nil {
		return count, fmt.Errorf("s3blob: archive events record: %w", err)
	}

	a.logger.Info("s3blob: events archived", slog.String("path", path), slog.Int64("count", count))
	return count, nil
}

// freePath picks the first unused object key for the cutoff's month.
func (a *EventArchiver) freePath(ctx context.Context, before time.Time) (string, error) {
	base := archivePath("events", before)
	path := base
	for part := 2; ; part++ {
		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return "", fmt.Errorf("s3blob: archive events lookup: %w", err)
		}
		if !exists {
			return path, nil
		}
		path = fmt.Sprintf("%s-part-%d.jsonl", base[:len(base)-len(".jsonl")], part)
	}
}

// archivePath builds archive/<kind>/YYYY-MM.jsonl for the cutoff's month.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL encodes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*EventArchiver)(nil)
