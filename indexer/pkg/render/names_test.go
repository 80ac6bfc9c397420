package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

func TestInsights_Render_Humanize(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"pickup_ntaname":   "Pickup Ntaname",
		"total_amount":     "Total Amount",
		"avg_trip_time":    "Avg Trip Time",
		"PU_location":      "PU Location",
		"tripDistance":     "TripDistance",
		"__weird__name__":  "Weird Name",
		"fare-amount.usd":  "Fare Amount Usd",
		"already Spaced":   "Already Spaced",
		"ñandú_count":      "Ñandú Count",
		"":                 "",
	}
	for in, want := range tests {
		require.Equal(t, want, Humanize(in), in)
	}
}

func TestInsights_Render_Names_Collisions(t *testing.T) {
	t.Parallel()

	n := NewNames([]string{"fare", "Fare", "fare_amount", "fare__amount", "tip"})
	require.Equal(t, "Fare (Fare)", n.Display("Fare"))
	require.Equal(t, "Fare (fare)", n.Display("fare"))
	require.Equal(t, "Fare Amount (fare_amount)", n.Display("fare_amount"))
	require.Equal(t, "Tip", n.Display("tip"))

	for _, c := range []string{"fare", "Fare", "fare_amount", "fare__amount", "tip"} {
		got, ok := n.Resolve(n.Display(c))
		require.True(t, ok, c)
		require.Equal(t, c, got)
	}

	_, ok := n.Resolve("Nope")
	require.False(t, ok)
	require.Equal(t, "Unknown Col", n.Display("unknown_col"))
}

// Every numeric column that is aggregated can be recovered from the rendered
// text through the renderer's name mapping.
func TestInsights_Render_ColumnsRoundTrip(t *testing.T) {
	t.Parallel()

	numeric := []string{"fare", "Fare", "trip_distance", "passenger_count", "tip_amount", "extra"}
	s := strategy.Strategy{
		Name:       "by_zone",
		GroupKeys:  []strategy.GroupKey{{Column: "zone"}},
		Aggregates: aggregatesFor(numeric...),
	}
	g := insight.Group{Keys: []any{"A"}, RecordCount: 20, Stats: map[string]insight.Stats{}}
	for i, c := range numeric {
		if i%2 == 0 {
			g.Stats[c] = insight.Stats{Avg: float64(i + 1), Median: 1, Min: 0, Max: 10, Count: 20}
		}
	}

	r := New(append([]string{"zone"}, numeric...))
	text, err := r.Render(s, g)
	require.NoError(t, err)

	lines := strings.Split(text, "\n")
	require.Len(t, lines, 2+len(numeric))

	var recovered []string
	for _, line := range lines[2:] {
		display, _, ok := strings.Cut(line, ": ")
		require.True(t, ok, line)
		col, ok := r.ResolveColumn(display)
		require.True(t, ok, display)
		recovered = append(recovered, col)
	}
	require.Equal(t, numeric, recovered)
}
