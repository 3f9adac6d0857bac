package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/plantrack/dataplane/pkg/dataset"
	"github.com/plantrack/dataplane/pkg/source"
	dptesting "github.com/plantrack/dataplane/utils/pkg/testing"
)

type mockSyncer struct {
	mu       sync.Mutex
	live     []*dataset.Dataset
	resyncFn func(id uuid.UUID) error
	synced   []uuid.UUID
}

func (m *mockSyncer) ListLive(context.Context) ([]*dataset.Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live, nil
}

func (m *mockSyncer) Resync(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.synced = append(m.synced, id)
	fn := m.resyncFn
	m.mu.Unlock()
	if fn != nil {
		return fn(id)
	}
	return nil
}

func (m *mockSyncer) syncedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.synced)
}

func liveDatasets(n int) []*dataset.Dataset {
	out := make([]*dataset.Dataset, n)
	for i := range out {
		out[i] = &dataset.Dataset{
			ID:     uuid.New(),
			Source: dataset.Descriptor{Kind: dataset.SourceLiveSheet, DocumentID: "doc"},
		}
	}
	return out
}

func TestDataplane_Scheduler_SweepSyncsAllLive(t *testing.T) {
	t.Parallel()

	m := &mockSyncer{live: liveDatasets(5)}
	s, err := New(Config{Logger: dptesting.NewLogger(), Syncer: m, MaxConcurrent: 2})
	require.NoError(t, err)

	s.Sweep(context.Background())
	require.Equal(t, 5, m.syncedCount())
}

func TestDataplane_Scheduler_SweepToleratesFailures(t *testing.T) {
	t.Parallel()

	live := liveDatasets(4)
	m := &mockSyncer{live: live}
	m.resyncFn = func(id uuid.UUID) error {
		switch id {
		case live[0].ID:
			return dataset.ErrAlreadySyncing
		case live[1].ID:
			return source.ErrAuthExpired
		case live[2].ID:
			return source.ErrUnavailable
		}
		return nil
	}
	s, err := New(Config{Logger: dptesting.NewLogger(), Syncer: m})
	require.NoError(t, err)

	// One dataset failing must not keep the rest from syncing.
	s.Sweep(context.Background())
	require.Equal(t, 4, m.syncedCount())
}

func TestDataplane_Scheduler_SweepRecoversPanics(t *testing.T) {
	t.Parallel()

	live := liveDatasets(3)
	m := &mockSyncer{live: live}
	m.resyncFn = func(id uuid.UUID) error {
		if id == live[1].ID {
			panic("adapter blew up")
		}
		return nil
	}
	s, err := New(Config{Logger: dptesting.NewLogger(), Syncer: m})
	require.NoError(t, err)

	require.NotPanics(t, func() { s.Sweep(context.Background()) })
	require.Equal(t, 3, m.syncedCount())
}

func TestDataplane_Scheduler_RunSweepsOnTicks(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	m := &mockSyncer{live: liveDatasets(2)}
	s, err := New(Config{
		Logger:   dptesting.NewLogger(),
		Syncer:   m,
		Clock:    clock,
		Interval: time.Minute,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Nothing before the first tick.
	require.Equal(t, 0, m.syncedCount())

	clock.BlockUntilContext(ctx, 1)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return m.syncedCount() == 2 }, time.Second, 5*time.Millisecond)

	clock.BlockUntilContext(ctx, 1)
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return m.syncedCount() == 4 }, time.Second, 5*time.Millisecond)

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestDataplane_Scheduler_ConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(Config{Syncer: &mockSyncer{}})
	require.Error(t, err)

	_, err = New(Config{Logger: dptesting.NewLogger()})
	require.Error(t, err)

	s, err := New(Config{Logger: dptesting.NewLogger(), Syncer: &mockSyncer{}})
	require.NoError(t, err)
	require.Equal(t, 5*time.Minute, s.cfg.Interval)
	require.Equal(t, 4, s.cfg.MaxConcurrent)
}
