package dataset

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store used in tests and for running without a
// database. All methods are safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	datasets map[uuid.UUID]*Dataset
	gens     map[uuid.UUID]*Generation
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		datasets: make(map[uuid.UUID]*Dataset),
		gens:     make(map[uuid.UUID]*Generation),
	}
}

func (s *MemStore) Create(_ context.Context, d *Dataset, gen Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *d
	s.datasets[d.ID] = &cp
	g := copyGeneration(gen)
	s.gens[d.ID] = &g
	return nil
}

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.datasets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *MemStore) List(_ context.Context, orgID string) ([]*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Dataset, 0, len(s.datasets))
	for _, d := range s.datasets {
		if d.OrgID != orgID {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) ListByKind(_ context.Context, kind SourceKind) ([]*Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Dataset, 0)
	for _, d := range s.datasets {
		if d.Source.Kind != kind {
			continue
		}
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.datasets, id)
	delete(s.gens, id)
	return nil
}

func (s *MemStore) Generation(_ context.Context, id uuid.UUID) (*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.gens[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := copyGeneration(*g)
	return &cp, nil
}

func (s *MemStore) BeginSync(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.datasets[id]
	if !ok {
		return ErrNotFound
	}
	if d.SyncStatus == SyncSyncing {
		return ErrAlreadySyncing
	}
	d.SyncStatus = SyncSyncing
	return nil
}

func (s *MemStore) CompleteSync(_ context.Context, id uuid.UUID, gen Generation, syncedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.datasets[id]
	if !ok {
		return ErrNotFound
	}
	g := copyGeneration(gen)
	s.gens[id] = &g
	d.SchemaID = gen.Schema.ID
	d.SyncStatus = SyncIdle
	d.SyncError = ""
	if syncedAt != nil {
		t := *syncedAt
		d.LastSyncedAt = &t
	}
	return nil
}

func (s *MemStore) FailSync(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.datasets[id]
	if !ok {
		return ErrNotFound
	}
	d.SyncStatus = SyncError
	d.SyncError = reason
	return nil
}

func (s *MemStore) Ping(_ context.Context) error { return nil }

func (s *MemStore) Close() {}

func copyGeneration(g Generation) Generation {
	cp := Generation{Schema: g.Schema}
	cp.Schema.Columns = append([]Column(nil), g.Schema.Columns...)
	cp.Rows = make([]Row, len(g.Rows))
	for i, r := range g.Rows {
		cp.Rows[i] = maps.Clone(r)
	}
	return cp
}
