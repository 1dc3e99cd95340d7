package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/dcaengine/internal/domain"
)

// Stateful is a component whose state can be saved and reloaded.
type Stateful interface {
	Snapshot() ([]byte, error)
	Restore(data []byte) error
}

// Freezer is the engine: it serializes itself and holds every writer off
// while fn snapshots the other components.
type Freezer interface {
	Stateful
	Freeze(ctx context.Context, fn func(state []byte) error) error
}

// Component names a Stateful in the snapshot store.
type Component struct {
	Name  string
	State Stateful
}

// EngineComponent is the store name of the engine snapshot.
const EngineComponent = "dca"

// Snapshotter persists a consistent cut of the engine and its satellites.
type Snapshotter struct {
	store      domain.SnapshotStore
	engine     Freezer
	components []Component
	keep       int
	logger     *slog.Logger
}

// NewSnapshotter creates a Snapshotter keeping the newest keep snapshots
// per component.
func NewSnapshotter(store domain.SnapshotStore, engine Freezer, components []Component, keep int, logger *slog.Logger) *Snapshotter {
	return &Snapshotter{
		store:      store,
		engine:     engine,
		components: components,
		keep:       keep,
		logger:     logger.With(slog.String("component", "snapshotter")),
	}
}

// Run takes and stores one snapshot of every component.
func (s *Snapshotter) Run(ctx context.Context) error {
	states := make(map[string][]byte, len(s.components)+1)
	err := s.engine.Freeze(ctx, func(engineState []byte) error {
		states[EngineComponent] = engineState
		for _, c := range s.components {
			data, err := c.State.Snapshot()
			if err != nil {
				return fmt.Errorf("pipeline: snapshot %s: %w", c.Name, err)
			}
			states[c.Name] = data
		}
		return nil
	})
	if err != nil {
		return err
	}

	var errs []error
	for _, name := range s.names() {
		if err := s.store.Save(ctx, name, states[name]); err != nil {
			errs = append(errs, err)
			continue
		}
		if s.keep > 0 {
			if _, err := s.store.Prune(ctx, name, s.keep); err != nil {
				s.logger.WarnContext(ctx, "pipeline: prune snapshots failed",
					slog.String("name", name),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("pipeline: save snapshots: %w", err)
	}
	s.logger.InfoContext(ctx, "pipeline: snapshot saved", slog.Int("components", len(states)))
	return nil
}

// Restore loads the newest snapshot of every component. Components with no
// snapshot yet keep their fresh state. It reports how many were restored.
func (s *Snapshotter) Restore(ctx context.Context) (int, error) {
	restored := 0
	for _, name := range s.names() {
		snap, err := s.store.Latest(ctx, name)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return restored, err
		}
		if err := s.state(name).Restore(snap.State); err != nil {
			return restored, fmt.Errorf("pipeline: restore %s: %w", name, err)
		}
		s.logger.InfoContext(ctx, "pipeline: snapshot restored",
			slog.String("name", name),
			slog.Int64("snapshot_id", snap.ID),
			slog.Time("taken_at", snap.CreatedAt),
		)
		restored++
	}
	return restored, nil
}

func (s *Snapshotter) names() []string {
	out := []string{EngineComponent}
	for _, c := range s.components {
		out = append(out, c.Name)
	}
	return out
}

func (s *Snapshotter) state(name string) Stateful {
	if name == EngineComponent {
		return s.engine
	}
	for _, c := range s.components {
		if c.Name == name {
			return c.State
		}
	}
	return nil
}
