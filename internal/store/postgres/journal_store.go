package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a new JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

// Append writes events in one batch. Events already present (same id) are
// skipped so a replayed publish is harmless.
func (s *JournalStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	const query = `
		INSERT INTO events (id, kind, attrs, at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`

	batch := &pgx.Batch{}
	for _, ev := range events {
		attrs, err := json.Marshal(ev.Attrs)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %s attrs: %w", ev.ID, err)
		}
		batch.Queue(query, ev.ID, string(ev.Kind), attrs, ev.At)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: append events: %w", err)
		}
	}
	return nil
}

// List returns events newest first, optionally filtered by kind (empty
// kind matches all) and time window.
func (s *JournalStore) List(ctx context.Context, kind domain.EventKind, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT id, kind, attrs, at FROM events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, string(kind))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY seq DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.query(ctx, query, args...)
}

// ListBefore returns every event older than before, oldest first.
func (s *JournalStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Event, error) {
	const query = `SELECT id, kind, attrs, at FROM events WHERE at < $1 ORDER BY seq ASC`
	return s.query(ctx, query, before)
}

// DeleteBefore removes events older than before once they are archived.
func (s *JournalStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM events WHERE at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *JournalStore) query(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev    domain.Event
			kind  string
			attrs []byte
		)
		if err := rows.Scan(&ev.ID, &kind, &attrs, &ev.At); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Kind = domain.EventKind(kind)
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &ev.Attrs); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event %s attrs: %w", ev.ID, err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}
