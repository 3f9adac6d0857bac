// Package registry orchestrates the dataset lifecycle: importing new sources,
// re-syncing live ones, and serving schema, rows, and aggregations. It owns
// the sync state machine; adapters and stores stay mechanism-only.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/plantrack/dataplane/pkg/aggregate"
	"github.com/plantrack/dataplane/pkg/blob"
	"github.com/plantrack/dataplane/pkg/dataset"
	"github.com/plantrack/dataplane/pkg/infer"
	"github.com/plantrack/dataplane/pkg/metrics"
	"github.com/plantrack/dataplane/pkg/source"
)

// Config holds registry configuration.
type Config struct {
	Logger *slog.Logger
	Store  dataset.Store
	Blobs  blob.Store
	Sheets *source.SheetClient
	Clock  clockwork.Clock
	Infer  infer.Options
}

// Validate checks required fields and applies defaults.
func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Blobs == nil {
		return errors.New("blob store is required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Infer.SampleRows == 0 {
		c.Infer = infer.DefaultOptions()
	}
	return nil
}

// Registry is safe for concurrent use.
type Registry struct {
	cfg Config
	log *slog.Logger
}

// New returns a Registry after validating cfg.
func New(cfg Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid registry config: %w", err)
	}
	return &Registry{cfg: cfg, log: cfg.Logger}, nil
}

// CreateUploadParams describes a static spreadsheet import. SheetName picks
// a workbook tab for XLSX files; empty means the first sheet.
type CreateUploadParams struct {
	OrgID       string
	Name        string
	Description string
	Filename    string
	SheetName   string
	Content     io.Reader
}

// CreateUpload stores the uploaded file, infers a schema from it, and
// registers the dataset. The stored file is removed again if the import
// fails, so rejected uploads leave nothing behind.
func (r *Registry) CreateUpload(ctx context.Context, p CreateUploadParams) (*dataset.Dataset, error) {
	if err := validateCommon(p.OrgID, p.Name); err != nil {
		return nil, err
	}
	if p.Content == nil {
		return nil, dataset.Validationf("file", "missing upload content")
	}

	id := uuid.New()
	handle := uploadHandle(id, p.Filename)
	if err := r.cfg.Blobs.Put(ctx, handle, p.Content); err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	src := &source.Upload{Blobs: r.cfg.Blobs, Handle: handle, SheetName: p.SheetName}
	d := &dataset.Dataset{
		ID:          id,
		OrgID:       p.OrgID,
		Name:        p.Name,
		Description: p.Description,
		Source: dataset.Descriptor{
			Kind:       dataset.SourceStaticUpload,
			FileHandle: handle,
			SheetName:  p.SheetName,
		},
	}
	if err := r.create(ctx, d, src); err != nil {
		if delErr := r.cfg.Blobs.Delete(ctx, handle); delErr != nil {
			r.log.Warn("registry: failed to clean up rejected upload", "handle", handle, "error", delErr)
		}
		return nil, err
	}
	return d, nil
}

// CreateSheetParams describes a live sheet import.
type CreateSheetParams struct {
	OrgID        string
	Name         string
	Description  string
	DocumentID   string
	SheetName    string
	ConnectionID string
}

// CreateSheet fetches the document once to build the initial generation and
// registers the dataset for periodic re-sync.
func (r *Registry) CreateSheet(ctx context.Context, p CreateSheetParams) (*dataset.Dataset, error) {
	if err := validateCommon(p.OrgID, p.Name); err != nil {
		return nil, err
	}
	if p.DocumentID == "" {
		return nil, dataset.Validationf("document_id", "required for live sheets")
	}
	if r.cfg.Sheets == nil {
		return nil, dataset.Validationf("source", "live sheets are not configured")
	}

	d := &dataset.Dataset{
		ID:          uuid.New(),
		OrgID:       p.OrgID,
		Name:        p.Name,
		Description: p.Description,
		Source: dataset.Descriptor{
			Kind:         dataset.SourceLiveSheet,
			DocumentID:   p.DocumentID,
			SheetName:    p.SheetName,
			ConnectionID: p.ConnectionID,
		},
	}
	src, err := r.sourceFor(d)
	if err != nil {
		return nil, err
	}
	if err := r.create(ctx, d, src); err != nil {
		return nil, err
	}
	return d, nil
}

// create runs the shared fetch-infer-materialize-persist path for both kinds.
func (r *Registry) create(ctx context.Context, d *dataset.Dataset, src source.Source) error {
	start := r.cfg.Clock.Now()
	headers, raw, err := src.Fetch(ctx)
	if err != nil {
		metrics.SyncTotal.WithLabelValues(string(d.Source.Kind), "error").Inc()
		return err
	}
	if len(raw) == 0 {
		return dataset.Validationf("rows", "source has no data rows")
	}

	cols := infer.Columns(headers, raw, r.cfg.Infer)
	gen := dataset.Generation{
		Schema: dataset.Schema{ID: uuid.New(), Columns: cols},
		Rows:   materialize(cols, raw),
	}

	now := r.cfg.Clock.Now().UTC()
	d.CreatedAt = now
	d.SyncStatus = dataset.SyncIdle
	d.SchemaID = gen.Schema.ID
	if d.Source.Kind == dataset.SourceLiveSheet {
		t := now
		d.LastSyncedAt = &t
	}

	if err := r.cfg.Store.Create(ctx, d, gen); err != nil {
		metrics.SyncTotal.WithLabelValues(string(d.Source.Kind), "error").Inc()
		return fmt.Errorf("failed to persist dataset: %w", err)
	}

	metrics.SyncTotal.WithLabelValues(string(d.Source.Kind), "ok").Inc()
	metrics.SyncDuration.WithLabelValues(string(d.Source.Kind)).Observe(r.cfg.Clock.Since(start).Seconds())
	metrics.RowsIngested.WithLabelValues(string(d.Source.Kind)).Add(float64(len(gen.Rows)))
	r.log.Info("registry: dataset created",
		"dataset_id", d.ID,
		"org_id", d.OrgID,
		"kind", d.Source.Kind,
		"columns", len(cols),
		"rows", len(gen.Rows))
	return nil
}

// Resync re-fetches a dataset's source and replaces its generation. Exactly
// one resync per dataset runs at a time; a concurrent call gets
// dataset.ErrAlreadySyncing. On failure the previous generation stays
// readable and the dataset moves to the error state.
func (r *Registry) Resync(ctx context.Context, id uuid.UUID) error {
	d, err := r.cfg.Store.Get(ctx, id)
	if err != nil {
		return err
	}
	src, err := r.sourceFor(d)
	if err != nil {
		return err
	}
	if err := r.cfg.Store.BeginSync(ctx, id); err != nil {
		return err
	}

	start := r.cfg.Clock.Now()
	kind := string(d.Source.Kind)
	gen, err := r.buildGeneration(ctx, d, src)
	if err != nil {
		metrics.SyncTotal.WithLabelValues(kind, "error").Inc()
		if failErr := r.cfg.Store.FailSync(ctx, id, err.Error()); failErr != nil {
			r.log.Error("registry: failed to record sync failure", "dataset_id", id, "error", failErr)
		}
		r.log.Warn("registry: sync failed", "dataset_id", id, "kind", kind, "error", err)
		return err
	}

	syncedAt := r.cfg.Clock.Now().UTC()
	if err := r.cfg.Store.CompleteSync(ctx, id, *gen, &syncedAt); err != nil {
		metrics.SyncTotal.WithLabelValues(kind, "error").Inc()
		// The dataset holds the syncing slot; release it so the next
		// attempt is not stuck behind ErrAlreadySyncing forever.
		if failErr := r.cfg.Store.FailSync(ctx, id, err.Error()); failErr != nil {
			r.log.Error("registry: failed to record sync failure", "dataset_id", id, "error", failErr)
		}
		return fmt.Errorf("failed to complete sync: %w", err)
	}

	metrics.SyncTotal.WithLabelValues(kind, "ok").Inc()
	metrics.SyncDuration.WithLabelValues(kind).Observe(r.cfg.Clock.Since(start).Seconds())
	metrics.RowsIngested.WithLabelValues(kind).Add(float64(len(gen.Rows)))
	r.log.Info("registry: dataset synced", "dataset_id", id, "kind", kind, "rows", len(gen.Rows))
	return nil
}

// buildGeneration fetches, infers, and materializes a new generation,
// carrying the schema id over when the column name set is unchanged.
func (r *Registry) buildGeneration(ctx context.Context, d *dataset.Dataset, src source.Source) (*dataset.Generation, error) {
	headers, raw, err := src.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: source returned no data rows", source.ErrFormat)
	}

	cols := infer.Columns(headers, raw, r.cfg.Infer)
	schemaID := uuid.New()
	prev, err := r.cfg.Store.Generation(ctx, d.ID)
	switch {
	case err == nil:
		if dataset.SameNameSet(prev.Schema.Columns, cols) {
			schemaID = prev.Schema.ID
		}
	case errors.Is(err, dataset.ErrNotFound):
		// No previous generation to carry a schema id from.
	default:
		return nil, fmt.Errorf("failed to load previous generation: %w", err)
	}

	return &dataset.Generation{
		Schema: dataset.Schema{ID: schemaID, Columns: cols},
		Rows:   materialize(cols, raw),
	}, nil
}

// Delete removes the dataset, its rows, and any stored upload. Deleting an
// unknown id succeeds so retried deletes stay safe.
func (r *Registry) Delete(ctx context.Context, id uuid.UUID) error {
	d, err := r.cfg.Store.Get(ctx, id)
	if errors.Is(err, dataset.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if err := r.cfg.Store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	if d.Source.Kind == dataset.SourceStaticUpload && d.Source.FileHandle != "" {
		if err := r.cfg.Blobs.Delete(ctx, d.Source.FileHandle); err != nil {
			r.log.Warn("registry: failed to delete stored upload", "dataset_id", id, "handle", d.Source.FileHandle, "error", err)
		}
	}
	r.log.Info("registry: dataset deleted", "dataset_id", id)
	return nil
}

// Get returns one dataset by id.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*dataset.Dataset, error) {
	return r.cfg.Store.Get(ctx, id)
}

// List returns an org's datasets ordered by creation time.
func (r *Registry) List(ctx context.Context, orgID string) ([]*dataset.Dataset, error) {
	return r.cfg.Store.List(ctx, orgID)
}

// ListLive returns every live-sheet dataset, for the sync scheduler.
func (r *Registry) ListLive(ctx context.Context) ([]*dataset.Dataset, error) {
	return r.cfg.Store.ListByKind(ctx, dataset.SourceLiveSheet)
}

// Rows returns the dataset's current schema and materialized rows.
func (r *Registry) Rows(ctx context.Context, id uuid.UUID) (*dataset.Generation, error) {
	return r.cfg.Store.Generation(ctx, id)
}

// Aggregate runs a grouped reduction over the dataset's current rows.
func (r *Registry) Aggregate(ctx context.Context, id uuid.UUID, q aggregate.Query) ([]aggregate.Entry, error) {
	gen, err := r.cfg.Store.Generation(ctx, id)
	if err != nil {
		return nil, err
	}
	return aggregate.Run(gen, q)
}

func (r *Registry) sourceFor(d *dataset.Dataset) (source.Source, error) {
	switch d.Source.Kind {
	case dataset.SourceStaticUpload:
		return &source.Upload{
			Blobs:     r.cfg.Blobs,
			Handle:    d.Source.FileHandle,
			SheetName: d.Source.SheetName,
		}, nil
	case dataset.SourceLiveSheet:
		if r.cfg.Sheets == nil {
			return nil, errors.New("sheet client is not configured")
		}
		return &source.Sheet{
			Client:       r.cfg.Sheets,
			DocumentID:   d.Source.DocumentID,
			SheetName:    d.Source.SheetName,
			ConnectionID: d.Source.ConnectionID,
		}, nil
	}
	return nil, fmt.Errorf("unknown source kind %q", d.Source.Kind)
}

func validateCommon(orgID, name string) error {
	if strings.TrimSpace(orgID) == "" {
		return dataset.Validationf("org_id", "required")
	}
	if strings.TrimSpace(name) == "" {
		return dataset.Validationf("name", "required")
	}
	if len(name) > 200 {
		return dataset.Validationf("name", "must be at most 200 characters")
	}
	return nil
}

// uploadHandle namespaces stored files by dataset id. The original filename
// is kept for operator forensics but stripped to its base name.
func uploadHandle(id uuid.UUID, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "source"
	}
	return fmt.Sprintf("uploads/%s/%s", id, base)
}
