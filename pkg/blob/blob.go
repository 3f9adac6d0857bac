// Package blob stores uploaded source files. Static uploads are written here
// at import time and re-read on every resync, so the store is the durable
// system of record for the original bytes.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a handle does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// Store reads and writes immutable blobs addressed by opaque handles.
type Store interface {
	// Put writes the blob under handle, replacing any existing content.
	Put(ctx context.Context, handle string, r io.Reader) error
	// Get opens the blob for reading. The caller closes the reader.
	Get(ctx context.Context, handle string) (io.ReadCloser, error)
	// Delete removes the blob. Deleting an absent handle is not an error.
	Delete(ctx context.Context, handle string) error
}
