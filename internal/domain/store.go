package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// Snapshot is a serialized component state.
type Snapshot struct {
	ID        int64
	Component string
	State     []byte
	CreatedAt time.Time
}

// SnapshotStore persists component snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, component string, state []byte) error
	Latest(ctx context.Context, component string) (Snapshot, error)
	Prune(ctx context.Context, component string, keep int) (int64, error)
}

// JournalStore persists the append-only event journal.
type JournalStore interface {
	Append(ctx context.Context, events []Event) error
	List(ctx context.Context, kind EventKind, opts ListOpts) ([]Event, error)
	ListBefore(ctx context.Context, before time.Time) ([]Event, error)
}
