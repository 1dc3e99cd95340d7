package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// SnapshotStore implements domain.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *pgxpool.Pool
}

// NewSnapshotStore creates a new SnapshotStore backed by the given connection pool.
func NewSnapshotStore(pool *pgxpool.Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Save appends a snapshot of component. The state must be a JSON document.
func (s *SnapshotStore) Save(ctx context.Context, component string, state []byte) error {
	const query = `INSERT INTO snapshots (component, state) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, component, state); err != nil {
		return fmt.Errorf("postgres: save snapshot %s: %w", component, err)
	}
	return nil
}

// Latest returns the newest snapshot of component, or domain.ErrNotFound.
func (s *SnapshotStore) Latest(ctx context.Context, component string) (domain.Snapshot, error) {
	const query = `
		SELECT id, component, state, created_at FROM snapshots
		WHERE component = $1 ORDER BY id DESC LIMIT 1`

	var snap domain.Snapshot
	err := s.pool.QueryRow(ctx, query, component).Scan(
		&snap.ID, &snap.Component, &snap.State, &snap.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Snapshot{}, domain.ErrNotFound
		}
		return domain.Snapshot{}, fmt.Errorf("postgres: latest snapshot %s: %w", component, err)
	}
	return snap, nil
}

// Prune deletes all but the newest keep snapshots of component and reports
// how many rows were removed.
func (s *SnapshotStore) Prune(ctx context.Context, component string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	const query = `
		DELETE FROM snapshots
		WHERE component = $1 AND id NOT IN (
			SELECT id FROM snapshots WHERE component = $1 ORDER BY id DESC LIMIT $2
		)`
	tag, err := s.pool.Exec(ctx, query, component, keep)
	if err != nil {
		return 0, fmt.Errorf("postgres: prune snapshots %s: %w", component, err)
	}
	return tag.RowsAffected(), nil
}
