// Package pg is the PostgreSQL dataset store. Datasets and schema columns
// live in relational tables; materialized rows are stored as JSONB so the
// value domain (number, string, bool, null) round-trips without a mapping
// layer.
package pg

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"

	"github.com/plantrack/dataplane/pkg/dataset"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Migrate runs all pending migrations against connStr.
func Migrate(connStr string) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Store implements dataset.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects a pool to connStr and verifies the connection.
func New(ctx context.Context, connStr string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewWithPool wraps an existing pool. The caller keeps ownership.
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Create(ctx context.Context, d *dataset.Dataset, gen dataset.Generation) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	sourceJSON, err := json.Marshal(d.Source)
	if err != nil {
		return fmt.Errorf("failed to encode source descriptor: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO datasets (id, org_id, name, description, source_kind, source,
			created_at, last_synced_at, sync_status, sync_error, schema_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID, d.OrgID, d.Name, d.Description, d.Source.Kind, sourceJSON,
		d.CreatedAt, d.LastSyncedAt, d.SyncStatus, d.SyncError, gen.Schema.ID)
	if err != nil {
		return fmt.Errorf("failed to insert dataset: %w", err)
	}
	if err := insertGeneration(ctx, tx, d.ID, gen); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

const datasetColumns = `id, org_id, name, description, source, created_at,
	last_synced_at, sync_status, sync_error, schema_id`

func scanDataset(row pgx.Row) (*dataset.Dataset, error) {
	var d dataset.Dataset
	var sourceJSON []byte
	err := row.Scan(&d.ID, &d.OrgID, &d.Name, &d.Description, &sourceJSON,
		&d.CreatedAt, &d.LastSyncedAt, &d.SyncStatus, &d.SyncError, &d.SchemaID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dataset.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dataset: %w", err)
	}
	if err := json.Unmarshal(sourceJSON, &d.Source); err != nil {
		return nil, fmt.Errorf("failed to decode source descriptor: %w", err)
	}
	return &d, nil
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*dataset.Dataset, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id)
	return scanDataset(row)
}

func (s *Store) List(ctx context.Context, orgID string) ([]*dataset.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE org_id = $1 ORDER BY created_at, id`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer rows.Close()
	return collectDatasets(rows)
}

func (s *Store) ListByKind(ctx context.Context, kind dataset.SourceKind) ([]*dataset.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE source_kind = $1 ORDER BY id`, kind)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets by kind: %w", err)
	}
	defer rows.Close()
	return collectDatasets(rows)
}

func collectDatasets(rows pgx.Rows) ([]*dataset.Dataset, error) {
	out := make([]*dataset.Dataset, 0)
	for rows.Next() {
		d, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate datasets: %w", err)
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	// Columns and rows go with the dataset via ON DELETE CASCADE. Zero rows
	// affected just means the dataset was already gone.
	if _, err := s.pool.Exec(ctx, `DELETE FROM datasets WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete dataset: %w", err)
	}
	return nil
}

func (s *Store) Generation(ctx context.Context, id uuid.UUID) (*dataset.Generation, error) {
	var gen dataset.Generation
	err := s.pool.QueryRow(ctx,
		`SELECT schema_id FROM datasets WHERE id = $1`, id).Scan(&gen.Schema.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dataset.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load schema id: %w", err)
	}

	colRows, err := s.pool.Query(ctx,
		`SELECT name, ordinal, inferred_type FROM dataset_columns
		 WHERE dataset_id = $1 ORDER BY ordinal`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}
	defer colRows.Close()
	for colRows.Next() {
		var c dataset.Column
		if err := colRows.Scan(&c.Name, &c.Ordinal, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		gen.Schema.Columns = append(gen.Schema.Columns, c)
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate columns: %w", err)
	}

	dataRows, err := s.pool.Query(ctx,
		`SELECT data FROM dataset_rows WHERE dataset_id = $1 ORDER BY row_index`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load rows: %w", err)
	}
	defer dataRows.Close()
	gen.Rows = make([]dataset.Row, 0)
	for dataRows.Next() {
		var data []byte
		if err := dataRows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		var r dataset.Row
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to decode row: %w", err)
		}
		gen.Rows = append(gen.Rows, r)
	}
	if err := dataRows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}
	return &gen, nil
}

func (s *Store) BeginSync(ctx context.Context, id uuid.UUID) error {
	// The WHERE clause is the compare-and-set: only one concurrent caller
	// observes a non-syncing row.
	tag, err := s.pool.Exec(ctx, `
		UPDATE datasets SET sync_status = 'syncing'
		WHERE id = $1 AND sync_status <> 'syncing'`, id)
	if err != nil {
		return fmt.Errorf("failed to begin sync: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM datasets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check dataset: %w", err)
	}
	if !exists {
		return dataset.ErrNotFound
	}
	return dataset.ErrAlreadySyncing
}

func (s *Store) CompleteSync(ctx context.Context, id uuid.UUID, gen dataset.Generation, syncedAt *time.Time) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE datasets
		SET schema_id = $2, sync_status = 'idle', sync_error = '',
			last_synced_at = COALESCE($3, last_synced_at)
		WHERE id = $1`, id, gen.Schema.ID, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to update dataset: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dataset.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM dataset_columns WHERE dataset_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear columns: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM dataset_rows WHERE dataset_id = $1`, id); err != nil {
		return fmt.Errorf("failed to clear rows: %w", err)
	}
	if err := insertGeneration(ctx, tx, id, gen); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func insertGeneration(ctx context.Context, tx pgx.Tx, id uuid.UUID, gen dataset.Generation) error {
	for _, c := range gen.Schema.Columns {
		if _, err := tx.Exec(ctx, `
			INSERT INTO dataset_columns (dataset_id, ordinal, name, inferred_type)
			VALUES ($1, $2, $3, $4)`, id, c.Ordinal, c.Name, c.Type); err != nil {
			return fmt.Errorf("failed to insert column: %w", err)
		}
	}

	if len(gen.Rows) == 0 {
		return nil
	}
	_, err := tx.CopyFrom(ctx,
		pgx.Identifier{"dataset_rows"},
		[]string{"dataset_id", "row_index", "data"},
		pgx.CopyFromSlice(len(gen.Rows), func(i int) ([]any, error) {
			data, err := json.Marshal(gen.Rows[i])
			if err != nil {
				return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
			}
			return []any{id, i, data}, nil
		}))
	if err != nil {
		return fmt.Errorf("failed to copy rows: %w", err)
	}
	return nil
}

func (s *Store) FailSync(ctx context.Context, id uuid.UUID, reason string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE datasets SET sync_status = 'error', sync_error = $2
		WHERE id = $1`, id, reason)
	if err != nil {
		return fmt.Errorf("failed to record sync failure: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return dataset.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}
