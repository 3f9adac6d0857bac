// Package dataset defines the domain model for imported tabular datasets:
// the Dataset aggregate, its versioned Schema, materialized rows, and the
// Store contract every persistence backend implements.
package dataset

import (
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies how a dataset's rows are obtained.
type SourceKind string

const (
	// SourceStaticUpload is a one-shot uploaded spreadsheet snapshot.
	SourceStaticUpload SourceKind = "static_upload"
	// SourceLiveSheet is a re-fetchable external sheet document.
	SourceLiveSheet SourceKind = "live_sheet"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourceStaticUpload || k == SourceLiveSheet
}

// SyncStatus is the per-dataset sync lifecycle state.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncSyncing SyncStatus = "syncing"
	SyncError   SyncStatus = "error"
)

// ColumnType is the inferred semantic type of a column.
type ColumnType string

const (
	ColumnNumeric ColumnType = "numeric"
	ColumnText    ColumnType = "text"
	ColumnDate    ColumnType = "date"
	ColumnBoolean ColumnType = "boolean"
)

// Column describes one column of a dataset schema. Names are unique within a
// schema (duplicate raw headers are disambiguated at inference time) and
// ordinals are contiguous from 0.
type Column struct {
	Name    string     `json:"name"`
	Ordinal int        `json:"ordinal"`
	Type    ColumnType `json:"inferred_type"`
}

// Schema is the ordered column set of one sync generation. The ID is stable
// across re-syncs as long as the column name set does not change, so chart
// configuration keyed by column name survives row refreshes.
type Schema struct {
	ID      uuid.UUID `json:"id"`
	Columns []Column  `json:"columns"`
}

// ColumnNames returns the schema's column names in ordinal order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// SameNameSet reports whether two column lists carry the same set of names,
// ignoring order and types. This is the schema-drift test used on resync.
func SameNameSet(a, b []Column) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, c := range a {
		set[c.Name] = struct{}{}
	}
	for _, c := range b {
		if _, ok := set[c.Name]; !ok {
			return false
		}
	}
	return true
}

// Descriptor locates a dataset's source. Exactly one of the locator field
// groups is meaningful depending on Kind: FileHandle for static uploads,
// DocumentID/SheetName/ConnectionID for live sheets.
type Descriptor struct {
	Kind         SourceKind `json:"kind"`
	FileHandle   string     `json:"file_handle,omitempty"`
	DocumentID   string     `json:"document_id,omitempty"`
	SheetName    string     `json:"sheet_name,omitempty"`
	ConnectionID string     `json:"connection_id,omitempty"`
}

// Dataset is the aggregate root for one imported source.
type Dataset struct {
	ID           uuid.UUID  `json:"id"`
	OrgID        string     `json:"org_id"`
	Name         string     `json:"name"`
	Description  string     `json:"description,omitempty"`
	Source       Descriptor `json:"source"`
	CreatedAt    time.Time  `json:"created_at"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncStatus   SyncStatus `json:"sync_status"`
	SyncError    string     `json:"sync_error,omitempty"`
	SchemaID     uuid.UUID  `json:"schema_id"`
}

// Row maps column names to scalar values: float64, string, bool, or nil.
type Row map[string]any

// Generation is the schema plus rows produced by one successful fetch/ingest
// cycle. Generations are immutable once stored; resync replaces them
// wholesale rather than mutating in place.
type Generation struct {
	Schema Schema `json:"schema"`
	Rows   []Row  `json:"rows"`
}
