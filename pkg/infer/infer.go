// Package infer assigns a column type to each column of a raw string grid by
// sampling values. Inference also normalizes headers: blanks get positional
// names and duplicates get a numeric suffix so schema column names are unique.
package infer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/plantrack/dataplane/pkg/dataset"
)

// Options tunes sampling and the match threshold.
type Options struct {
	// SampleRows caps how many data rows are examined per column.
	SampleRows int
	// MatchFraction is the share of non-empty sampled values that must parse
	// as a candidate type for the column to take that type.
	MatchFraction float64
}

// DefaultOptions returns the standard sampling parameters.
func DefaultOptions() Options {
	return Options{SampleRows: 1000, MatchFraction: 0.9}
}

// Columns infers a typed column list from raw headers and rows. Candidate
// types are tried in order boolean, numeric, date; a column that matches none
// of them is text. A column whose sampled values are all empty is text.
func Columns(headers []string, rows [][]string, opts Options) []dataset.Column {
	if opts.SampleRows <= 0 {
		opts.SampleRows = DefaultOptions().SampleRows
	}
	if opts.MatchFraction <= 0 || opts.MatchFraction > 1 {
		opts.MatchFraction = DefaultOptions().MatchFraction
	}

	sample := rows
	if len(sample) > opts.SampleRows {
		sample = sample[:opts.SampleRows]
	}

	names := normalizeHeaders(headers)
	cols := make([]dataset.Column, len(names))
	for i, name := range names {
		cols[i] = dataset.Column{
			Name:    name,
			Ordinal: i,
			Type:    inferColumn(sample, i, opts.MatchFraction),
		}
	}
	return cols
}

func inferColumn(rows [][]string, idx int, fraction float64) dataset.ColumnType {
	var nonEmpty, boolHits, numHits, dateHits int
	for _, row := range rows {
		if idx >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[idx])
		if v == "" {
			continue
		}
		nonEmpty++
		if _, ok := ParseBool(v); ok {
			boolHits++
		}
		if isNumeric(v) {
			numHits++
		}
		if isDate(v) {
			dateHits++
		}
	}
	if nonEmpty == 0 {
		return dataset.ColumnText
	}

	threshold := int(float64(nonEmpty)*fraction + 0.5)
	if threshold < 1 {
		threshold = 1
	}
	switch {
	case boolHits >= threshold:
		return dataset.ColumnBoolean
	case numHits >= threshold:
		return dataset.ColumnNumeric
	case dateHits >= threshold:
		return dataset.ColumnDate
	default:
		return dataset.ColumnText
	}
}

// normalizeHeaders trims headers, substitutes positional names for blanks,
// and suffixes duplicates so every name is unique.
func normalizeHeaders(headers []string) []string {
	names := make([]string, len(headers))
	used := make(map[string]struct{}, len(headers))
	for i, h := range headers {
		name := strings.TrimSpace(h)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if _, taken := used[name]; taken {
			base := name
			for n := 2; ; n++ {
				name = fmt.Sprintf("%s_%d", base, n)
				if _, taken := used[name]; !taken {
					break
				}
			}
		}
		used[name] = struct{}{}
		names[i] = name
	}
	return names
}

// ParseBool parses the loose boolean vocabulary accepted in sheet cells.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "yes", "y":
		return true, true
	case "0", "f", "false", "no", "n":
		return false, true
	}
	return false, false
}

func isNumeric(s string) bool {
	// Thousands separators show up in exported sheets.
	s = strings.ReplaceAll(s, ",", "")
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

var dateLayouts = []string{
	"2006-01-02",
	"02.01.2006",
	"02/01/2006",
	"01/02/2006",
	time.RFC3339,
	"2006-01-02 15:04:05",
}

func isDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// ParseNumber parses a cell as a float, tolerating thousands separators.
func ParseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
