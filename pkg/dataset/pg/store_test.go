package pg

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/plantrack/dataplane/pkg/dataset"
	dptesting "github.com/plantrack/dataplane/utils/pkg/testing"
)

var testDB *dptesting.DB

func TestMain(m *testing.M) {
	if os.Getenv("SKIP_DOCKER_TESTS") != "" {
		os.Exit(0)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	log := dptesting.NewLogger()

	db, err := dptesting.NewDB(ctx, log, nil)
	cancel()
	if err != nil {
		log.Error("failed to start test database", "error", err)
		os.Exit(1)
	}
	testDB = db

	if err := Migrate(db.ConnStr()); err != nil {
		log.Error("failed to migrate test database", "error", err)
		db.Close()
		os.Exit(1)
	}

	code := m.Run()
	db.Close()
	os.Exit(code)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewWithPool(dptesting.NewTestPool(t, testDB))
}

func seedDataset(orgID string, kind dataset.SourceKind) (*dataset.Dataset, dataset.Generation) {
	schemaID := uuid.New()
	d := &dataset.Dataset{
		ID:          uuid.New(),
		OrgID:       orgID,
		Name:        "pg test dataset",
		Description: "seeded",
		Source:      dataset.Descriptor{Kind: kind, FileHandle: "uploads/x.csv"},
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		SyncStatus:  dataset.SyncIdle,
		SchemaID:    schemaID,
	}
	gen := dataset.Generation{
		Schema: dataset.Schema{
			ID: schemaID,
			Columns: []dataset.Column{
				{Name: "region", Ordinal: 0, Type: dataset.ColumnText},
				{Name: "amount", Ordinal: 1, Type: dataset.ColumnNumeric},
				{Name: "shipped", Ordinal: 2, Type: dataset.ColumnBoolean},
			},
		},
		Rows: []dataset.Row{
			{"region": "East", "amount": float64(10), "shipped": true},
			{"region": "West", "amount": nil, "shipped": false},
		},
	}
	return d, gen
}

func TestDataplane_PGStore_CreateGetRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	d, gen := seedDataset("org-rt", dataset.SourceStaticUpload)
	require.NoError(t, s.Create(ctx, d, gen))

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, d.Name, got.Name)
	require.Equal(t, d.OrgID, got.OrgID)
	require.Equal(t, d.Source, got.Source)
	require.Equal(t, dataset.SyncIdle, got.SyncStatus)
	require.Nil(t, got.LastSyncedAt)
	require.Equal(t, d.SchemaID, got.SchemaID)

	g, err := s.Generation(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, gen.Schema.ID, g.Schema.ID)
	require.Equal(t, gen.Schema.Columns, g.Schema.Columns)
	require.Len(t, g.Rows, 2)
	require.Equal(t, float64(10), g.Rows[0]["amount"])
	require.Equal(t, true, g.Rows[0]["shipped"])
	require.Nil(t, g.Rows[1]["amount"])
}

func TestDataplane_PGStore_GetUnknownID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, dataset.ErrNotFound)

	_, err = s.Generation(context.Background(), uuid.New())
	require.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestDataplane_PGStore_ListByOrgAndKind(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)

	d1, g1 := seedDataset("org-list", dataset.SourceStaticUpload)
	d1.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d2, g2 := seedDataset("org-list", dataset.SourceLiveSheet)
	d2.Source = dataset.Descriptor{Kind: dataset.SourceLiveSheet, DocumentID: "doc-1"}
	d2.CreatedAt = time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	d3, g3 := seedDataset("org-other", dataset.SourceStaticUpload)

	require.NoError(t, s.Create(ctx, d1, g1))
	require.NoError(t, s.Create(ctx, d2, g2))
	require.NoError(t, s.Create(ctx, d3, g3))

	got, err := s.List(ctx, "org-list")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, d1.ID, got[0].ID)
	require.Equal(t, d2.ID, got[1].ID)

	live, err := s.ListByKind(ctx, dataset.SourceLiveSheet)
	require.NoError(t, err)
	ids := make(map[uuid.UUID]bool)
	for _, d := range live {
		require.Equal(t, dataset.SourceLiveSheet, d.Source.Kind)
		ids[d.ID] = true
	}
	require.True(t, ids[d2.ID])
}

func TestDataplane_PGStore_DeleteCascadesAndIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	d, gen := seedDataset("org-del", dataset.SourceStaticUpload)
	require.NoError(t, s.Create(ctx, d, gen))

	require.NoError(t, s.Delete(ctx, d.ID))
	_, err := s.Get(ctx, d.ID)
	require.ErrorIs(t, err, dataset.ErrNotFound)
	_, err = s.Generation(ctx, d.ID)
	require.ErrorIs(t, err, dataset.ErrNotFound)

	require.NoError(t, s.Delete(ctx, d.ID))
	require.NoError(t, s.Delete(ctx, uuid.New()))
}

func TestDataplane_PGStore_BeginSyncCAS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	d, gen := seedDataset("org-cas", dataset.SourceLiveSheet)
	require.NoError(t, s.Create(ctx, d, gen))

	require.NoError(t, s.BeginSync(ctx, d.ID))
	require.ErrorIs(t, s.BeginSync(ctx, d.ID), dataset.ErrAlreadySyncing)

	require.NoError(t, s.FailSync(ctx, d.ID, "provider down"))
	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, dataset.SyncError, got.SyncStatus)
	require.Equal(t, "provider down", got.SyncError)

	// error is re-enterable
	require.NoError(t, s.BeginSync(ctx, d.ID))

	require.ErrorIs(t, s.BeginSync(ctx, uuid.New()), dataset.ErrNotFound)
}

func TestDataplane_PGStore_BeginSyncSingleWinner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	d, gen := seedDataset("org-race", dataset.SourceLiveSheet)
	require.NoError(t, s.Create(ctx, d, gen))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.BeginSync(ctx, d.ID)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, dataset.ErrAlreadySyncing)
		}
	}
	require.Equal(t, 1, winners)
}

func TestDataplane_PGStore_CompleteSyncReplacesGeneration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	d, gen := seedDataset("org-swap", dataset.SourceLiveSheet)
	require.NoError(t, s.Create(ctx, d, gen))
	require.NoError(t, s.BeginSync(ctx, d.ID))

	next := dataset.Generation{
		Schema: dataset.Schema{
			ID: uuid.New(),
			Columns: []dataset.Column{
				{Name: "task", Ordinal: 0, Type: dataset.ColumnText},
			},
		},
		Rows: []dataset.Row{{"task": "ship"}},
	}
	syncedAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.CompleteSync(ctx, d.ID, next, &syncedAt))

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, dataset.SyncIdle, got.SyncStatus)
	require.Empty(t, got.SyncError)
	require.Equal(t, next.Schema.ID, got.SchemaID)
	require.NotNil(t, got.LastSyncedAt)
	require.Equal(t, syncedAt, got.LastSyncedAt.UTC())

	g, err := s.Generation(ctx, d.ID)
	require.NoError(t, err)
	require.Equal(t, next.Schema.Columns, g.Schema.Columns)
	require.Len(t, g.Rows, 1)
	require.Equal(t, "ship", g.Rows[0]["task"])
}

func TestDataplane_PGStore_CompleteSyncNilTimestampKeepsOld(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	d, gen := seedDataset("org-keep", dataset.SourceStaticUpload)
	require.NoError(t, s.Create(ctx, d, gen))
	require.NoError(t, s.BeginSync(ctx, d.ID))
	require.NoError(t, s.CompleteSync(ctx, d.ID, gen, nil))

	got, err := s.Get(ctx, d.ID)
	require.NoError(t, err)
	require.Nil(t, got.LastSyncedAt)
}

func TestDataplane_PGStore_CompleteSyncUnknownID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, gen := seedDataset("org-x", dataset.SourceStaticUpload)
	err := s.CompleteSync(context.Background(), uuid.New(), gen, nil)
	require.ErrorIs(t, err, dataset.ErrNotFound)
}

func TestDataplane_PGStore_EmptyRowsGeneration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	d, gen := seedDataset("org-empty", dataset.SourceStaticUpload)
	gen.Rows = nil
	require.NoError(t, s.Create(ctx, d, gen))

	g, err := s.Generation(ctx, d.ID)
	require.NoError(t, err)
	require.Empty(t, g.Rows)
	require.Len(t, g.Schema.Columns, 3)
}

func TestDataplane_PGStore_Ping(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.Ping(context.Background()))
}
