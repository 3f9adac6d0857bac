package registry

import (
	"strings"

	"github.com/plantrack/dataplane/pkg/dataset"
	"github.com/plantrack/dataplane/pkg/infer"
)

// materialize converts raw string cells into typed row values keyed by
// column name. Empty cells become nil regardless of column type; cells that
// fail to coerce to the column's inferred type keep their raw string so no
// source data is silently dropped.
func materialize(cols []dataset.Column, raw [][]string) []dataset.Row {
	rows := make([]dataset.Row, len(raw))
	for i, rec := range raw {
		row := make(dataset.Row, len(cols))
		for _, col := range cols {
			var cell string
			if col.Ordinal < len(rec) {
				cell = strings.TrimSpace(rec[col.Ordinal])
			}
			row[col.Name] = coerce(col.Type, cell)
		}
		rows[i] = row
	}
	return rows
}

func coerce(t dataset.ColumnType, cell string) any {
	if cell == "" {
		return nil
	}
	switch t {
	case dataset.ColumnNumeric:
		if f, ok := infer.ParseNumber(cell); ok {
			return f
		}
	case dataset.ColumnBoolean:
		if b, ok := infer.ParseBool(cell); ok {
			return b
		}
	}
	// Dates stay as their source strings; charts format them client-side.
	return cell
}
