// Package source fetches raw tabular content from dataset sources: uploaded
// spreadsheet files held in blob storage and live external sheet documents.
// Adapters return a header row plus string cell grids; typing happens later
// in the inference and materialization layers.
package source

import "context"

// Source fetches the current contents of one dataset source.
type Source interface {
	// Fetch returns the header row and data rows. Implementations classify
	// failures with the package error sentinels so callers can map them to
	// sync outcomes.
	Fetch(ctx context.Context) (headers []string, rows [][]string, err error)
}
