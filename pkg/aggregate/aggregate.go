// Package aggregate groups materialized dataset rows by one column and folds
// a second column with a reducer. Results preserve first-encounter group
// order so charts render rows in the order the source listed them.
package aggregate

import (
	"fmt"
	"math"
	"strconv"

	"github.com/plantrack/dataplane/pkg/dataset"
)

// Kind names a reducer.
type Kind string

const (
	Sum   Kind = "sum"
	Avg   Kind = "avg"
	Count Kind = "count"
	Min   Kind = "min"
	Max   Kind = "max"
	// None skips grouping and emits one entry per row.
	None Kind = "none"
)

// ParseKind validates a reducer name from an API request. The empty string
// maps to None.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Sum, Avg, Count, Min, Max, None:
		return Kind(s), nil
	case "":
		return None, nil
	}
	return "", dataset.Validationf("aggregation", "unknown kind %q", s)
}

// Query describes one aggregation request against a dataset generation.
type Query struct {
	GroupBy string
	Value   string
	Kind    Kind
}

// Entry is one output group.
type Entry struct {
	GroupKey string  `json:"group_key"`
	Value    float64 `json:"value"`
	Count    int     `json:"count"`
}

type group struct {
	key     string
	count   int
	sum     float64
	min     float64
	max     float64
	numeric int
}

// Run executes q over the generation's rows. GroupBy must name a schema
// column; Value must too unless the kind is count or none.
func Run(gen *dataset.Generation, q Query) ([]Entry, error) {
	if !hasColumn(gen.Schema, q.GroupBy) {
		return nil, dataset.Validationf("group_by", "unknown column %q", q.GroupBy)
	}
	needsValue := q.Kind == Sum || q.Kind == Avg || q.Kind == Min || q.Kind == Max
	if needsValue && !hasColumn(gen.Schema, q.Value) {
		return nil, dataset.Validationf("value", "unknown column %q", q.Value)
	}

	if q.Kind == None {
		return passthrough(gen, q), nil
	}

	var order []string
	groups := make(map[string]*group)
	for _, row := range gen.Rows {
		key := formatGroupKey(row[q.GroupBy])
		g, ok := groups[key]
		if !ok {
			g = &group{key: key, min: math.Inf(1), max: math.Inf(-1)}
			groups[key] = g
			order = append(order, key)
		}
		g.count++
		if !needsValue {
			continue
		}
		if v, ok := coerceNumeric(row[q.Value]); ok {
			g.numeric++
			g.sum += v
			if v < g.min {
				g.min = v
			}
			if v > g.max {
				g.max = v
			}
		}
	}

	out := make([]Entry, 0, len(order))
	for _, key := range order {
		g := groups[key]
		e := Entry{GroupKey: g.key, Count: g.count}
		switch q.Kind {
		case Sum:
			e.Value = g.sum
		case Avg:
			// Denominator is full group membership, non-numeric members
			// contribute zero to the sum.
			e.Value = g.sum / float64(g.count)
		case Min:
			if g.numeric > 0 {
				e.Value = g.min
			}
		case Max:
			if g.numeric > 0 {
				e.Value = g.max
			}
		default:
			e.Value = float64(g.count)
		}
		out = append(out, e)
	}
	return out, nil
}

// passthrough emits one entry per row in source order. The value column is
// optional; rows whose cell does not coerce report 0.
func passthrough(gen *dataset.Generation, q Query) []Entry {
	out := make([]Entry, 0, len(gen.Rows))
	useValue := q.Value != "" && hasColumn(gen.Schema, q.Value)
	for _, row := range gen.Rows {
		e := Entry{GroupKey: formatGroupKey(row[q.GroupBy]), Count: 1}
		if useValue {
			if v, ok := coerceNumeric(row[q.Value]); ok {
				e.Value = v
			}
		}
		out = append(out, e)
	}
	return out
}

func hasColumn(s dataset.Schema, name string) bool {
	for _, c := range s.Columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

// formatGroupKey renders a cell value as a stable grouping key. Nil groups
// under the empty key alongside empty strings.
func formatGroupKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// coerceNumeric extracts a finite float from a cell. Strings are parsed,
// booleans and nil do not coerce.
func coerceNumeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
