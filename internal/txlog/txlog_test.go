package txlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

func TestRollbackRunsInReverse(t *testing.T) {
	tx := Begin(context.Background(), time.Unix(100, 0))

	var order []int
	for i := 0; i < 3; i++ {
		tx.Defer(func(context.Context) error {
			order = append(order, i)
			return nil
		})
	}
	tx.Emit(domain.EventDeposited, nil)

	require.NoError(t, tx.Rollback())
	assert.Equal(t, []int{2, 1, 0}, order)
	assert.Empty(t, tx.Commit())
}

func TestRollbackJoinsErrorsAndKeepsGoing(t *testing.T) {
	tx := Begin(context.Background(), time.Now())
	boom := errors.New("boom")

	ran := 0
	tx.Defer(func(context.Context) error { ran++; return nil })
	tx.Defer(func(context.Context) error { ran++; return boom })

	err := tx.Rollback()
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, ran)
}

func TestRollbackIgnoresCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tx := Begin(ctx, time.Now())
	cancel()

	tx.Defer(func(ctx context.Context) error { return ctx.Err() })
	assert.NoError(t, tx.Rollback())
}

func TestCommitReturnsEvents(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tx := Begin(context.Background(), now)
	tx.Emit(domain.EventSwapped, map[string]string{"pool_id": "1"})
	tx.Defer(func(context.Context) error { t.Fatal("undo after commit"); return nil })

	events := tx.Commit()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventSwapped, events[0].Kind)
	assert.Equal(t, now, events[0].At)
	assert.NotEmpty(t, events[0].ID)
	assert.NoError(t, tx.Rollback())
}
