package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plantrack/dataplane/pkg/dataset"
)

func TestDataplane_Materialize_Coercion(t *testing.T) {
	t.Parallel()

	cols := []dataset.Column{
		{Name: "amount", Ordinal: 0, Type: dataset.ColumnNumeric},
		{Name: "done", Ordinal: 1, Type: dataset.ColumnBoolean},
		{Name: "due", Ordinal: 2, Type: dataset.ColumnDate},
		{Name: "note", Ordinal: 3, Type: dataset.ColumnText},
	}
	raw := [][]string{
		{"1,200.5", "yes", "2026-01-15", "ok"},
		{"n/a", "maybe", "", " padded "},
		{"", "no"},
	}
	rows := materialize(cols, raw)
	require.Len(t, rows, 3)

	require.Equal(t, 1200.5, rows[0]["amount"])
	require.Equal(t, true, rows[0]["done"])
	require.Equal(t, "2026-01-15", rows[0]["due"])
	require.Equal(t, "ok", rows[0]["note"])

	// Values that do not coerce keep their raw text.
	require.Equal(t, "n/a", rows[1]["amount"])
	require.Equal(t, "maybe", rows[1]["done"])
	require.Nil(t, rows[1]["due"])
	require.Equal(t, "padded", rows[1]["note"])

	// Empty and missing cells are nil for every type.
	require.Nil(t, rows[2]["amount"])
	require.Equal(t, false, rows[2]["done"])
	require.Nil(t, rows[2]["due"])
	require.Nil(t, rows[2]["note"])
}
