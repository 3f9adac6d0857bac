package aggregate

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/plantrack/dataplane/pkg/dataset"
)

func salesGeneration() *dataset.Generation {
	return &dataset.Generation{
		Schema: dataset.Schema{
			ID: uuid.New(),
			Columns: []dataset.Column{
				{Name: "region", Ordinal: 0, Type: dataset.ColumnText},
				{Name: "amount", Ordinal: 1, Type: dataset.ColumnNumeric},
			},
		},
		Rows: []dataset.Row{
			{"region": "East", "amount": float64(10)},
			{"region": "West", "amount": float64(7)},
			{"region": "East", "amount": "n/a"},
			{"region": "West", "amount": float64(3)},
		},
	}
}

func TestDataplane_Aggregate_Sum(t *testing.T) {
	t.Parallel()

	got, err := Run(salesGeneration(), Query{GroupBy: "region", Value: "amount", Kind: Sum})
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{GroupKey: "East", Value: 10, Count: 2},
		{GroupKey: "West", Value: 10, Count: 2},
	}, got)
}

func TestDataplane_Aggregate_AvgDividesByMembership(t *testing.T) {
	t.Parallel()

	got, err := Run(salesGeneration(), Query{GroupBy: "region", Value: "amount", Kind: Avg})
	require.NoError(t, err)
	// East has members 10 and "n/a": sum 10 over 2 members.
	require.Equal(t, 5.0, got[0].Value)
	require.Equal(t, 5.0, got[1].Value)
}

func TestDataplane_Aggregate_MinMax(t *testing.T) {
	t.Parallel()

	gen := salesGeneration()
	mins, err := Run(gen, Query{GroupBy: "region", Value: "amount", Kind: Min})
	require.NoError(t, err)
	require.Equal(t, 10.0, mins[0].Value)
	require.Equal(t, 3.0, mins[1].Value)

	maxs, err := Run(gen, Query{GroupBy: "region", Value: "amount", Kind: Max})
	require.NoError(t, err)
	require.Equal(t, 10.0, maxs[0].Value)
	require.Equal(t, 7.0, maxs[1].Value)
}

func TestDataplane_Aggregate_MinMaxNoNumericMembers(t *testing.T) {
	t.Parallel()

	gen := &dataset.Generation{
		Schema: dataset.Schema{Columns: []dataset.Column{
			{Name: "region", Type: dataset.ColumnText},
			{Name: "amount", Type: dataset.ColumnText},
		}},
		Rows: []dataset.Row{
			{"region": "East", "amount": "pending"},
		},
	}
	got, err := Run(gen, Query{GroupBy: "region", Value: "amount", Kind: Min})
	require.NoError(t, err)
	require.Equal(t, 0.0, got[0].Value)
	require.Equal(t, 1, got[0].Count)
}

func TestDataplane_Aggregate_Count(t *testing.T) {
	t.Parallel()

	got, err := Run(salesGeneration(), Query{GroupBy: "region", Kind: Count})
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{GroupKey: "East", Value: 2, Count: 2},
		{GroupKey: "West", Value: 2, Count: 2},
	}, got)
}

func TestDataplane_Aggregate_NonePassesRowsThrough(t *testing.T) {
	t.Parallel()

	got, err := Run(salesGeneration(), Query{GroupBy: "region", Value: "amount", Kind: None})
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{GroupKey: "East", Value: 10, Count: 1},
		{GroupKey: "West", Value: 7, Count: 1},
		{GroupKey: "East", Value: 0, Count: 1},
		{GroupKey: "West", Value: 3, Count: 1},
	}, got)

	// Without a value column each entry still stands for one row.
	got, err = Run(salesGeneration(), Query{GroupBy: "region", Kind: None})
	require.NoError(t, err)
	require.Len(t, got, 4)
	require.Equal(t, Entry{GroupKey: "East", Value: 0, Count: 1}, got[0])
}

func TestDataplane_Aggregate_FirstEncounterOrder(t *testing.T) {
	t.Parallel()

	gen := &dataset.Generation{
		Schema: dataset.Schema{Columns: []dataset.Column{
			{Name: "team", Type: dataset.ColumnText},
		}},
		Rows: []dataset.Row{
			{"team": "zeta"},
			{"team": "alpha"},
			{"team": "zeta"},
			{"team": "mid"},
		},
	}
	got, err := Run(gen, Query{GroupBy: "team", Kind: Count})
	require.NoError(t, err)
	require.Equal(t, "zeta", got[0].GroupKey)
	require.Equal(t, "alpha", got[1].GroupKey)
	require.Equal(t, "mid", got[2].GroupKey)
}

func TestDataplane_Aggregate_NilAndEmptyShareGroup(t *testing.T) {
	t.Parallel()

	gen := &dataset.Generation{
		Schema: dataset.Schema{Columns: []dataset.Column{
			{Name: "owner", Type: dataset.ColumnText},
		}},
		Rows: []dataset.Row{
			{"owner": nil},
			{"owner": ""},
			{"owner": "pat"},
		},
	}
	got, err := Run(gen, Query{GroupBy: "owner", Kind: Count})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "", got[0].GroupKey)
	require.Equal(t, 2, got[0].Count)
}

func TestDataplane_Aggregate_GroupByNumericAndBool(t *testing.T) {
	t.Parallel()

	gen := &dataset.Generation{
		Schema: dataset.Schema{Columns: []dataset.Column{
			{Name: "priority", Type: dataset.ColumnNumeric},
			{Name: "done", Type: dataset.ColumnBoolean},
		}},
		Rows: []dataset.Row{
			{"priority": float64(1), "done": true},
			{"priority": 1.5, "done": false},
			{"priority": float64(1), "done": true},
		},
	}
	byPriority, err := Run(gen, Query{GroupBy: "priority", Kind: Count})
	require.NoError(t, err)
	require.Equal(t, "1", byPriority[0].GroupKey)
	require.Equal(t, "1.5", byPriority[1].GroupKey)

	byDone, err := Run(gen, Query{GroupBy: "done", Kind: Count})
	require.NoError(t, err)
	require.Equal(t, "true", byDone[0].GroupKey)
	require.Equal(t, 2, byDone[0].Count)
}

func TestDataplane_Aggregate_UnknownColumns(t *testing.T) {
	t.Parallel()

	gen := salesGeneration()
	_, err := Run(gen, Query{GroupBy: "nope", Kind: Count})
	require.True(t, dataset.IsValidation(err))

	_, err = Run(gen, Query{GroupBy: "region", Value: "nope", Kind: Sum})
	require.True(t, dataset.IsValidation(err))

	// Value is not required for count.
	_, err = Run(gen, Query{GroupBy: "region", Value: "nope", Kind: Count})
	require.NoError(t, err)
}

func TestDataplane_Aggregate_EmptyRows(t *testing.T) {
	t.Parallel()

	gen := &dataset.Generation{
		Schema: dataset.Schema{Columns: []dataset.Column{{Name: "region"}}},
	}
	got, err := Run(gen, Query{GroupBy: "region", Kind: Count})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDataplane_Aggregate_ParseKind(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"sum", "avg", "count", "min", "max", "none"} {
		k, err := ParseKind(s)
		require.NoError(t, err)
		require.Equal(t, Kind(s), k)
	}
	k, err := ParseKind("")
	require.NoError(t, err)
	require.Equal(t, None, k)

	_, err = ParseKind("median")
	require.True(t, dataset.IsValidation(err))
}
