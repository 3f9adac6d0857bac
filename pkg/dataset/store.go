package dataset

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists datasets, their current schema generation, and sync state.
//
// Implementations must guarantee:
//   - Create persists the dataset and its first generation atomically.
//   - BeginSync is an atomic compare-and-set on the sync status: of two
//     concurrent callers for the same id exactly one wins, the other gets
//     ErrAlreadySyncing.
//   - CompleteSync replaces the generation and updates the dataset in one
//     atomic step, so readers never observe old rows with a new schema or
//     vice versa.
//   - Delete cascades to schema and rows and is idempotent: deleting an
//     absent id is a no-op success.
type Store interface {
	Create(ctx context.Context, d *Dataset, gen Generation) error
	Get(ctx context.Context, id uuid.UUID) (*Dataset, error)
	List(ctx context.Context, orgID string) ([]*Dataset, error)
	ListByKind(ctx context.Context, kind SourceKind) ([]*Dataset, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// Generation returns the current schema and rows for a dataset.
	Generation(ctx context.Context, id uuid.UUID) (*Generation, error)

	// BeginSync transitions idle|error -> syncing. Returns ErrAlreadySyncing
	// if the dataset is already syncing, ErrNotFound if it does not exist.
	BeginSync(ctx context.Context, id uuid.UUID) error

	// CompleteSync installs a new generation, sets status idle, and stamps
	// LastSyncedAt when syncedAt is non-nil (live sources only; static
	// uploads keep a null last-sync timestamp).
	CompleteSync(ctx context.Context, id uuid.UUID, gen Generation, syncedAt *time.Time) error

	// FailSync transitions syncing -> error(reason), leaving the previous
	// generation untouched.
	FailSync(ctx context.Context, id uuid.UUID, reason string) error

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error

	Close()
}
