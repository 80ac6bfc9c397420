package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

func aggregatesFor(cols ...string) []strategy.Aggregate {
	var out []strategy.Aggregate
	for _, c := range cols {
		for _, fn := range strategy.DefaultFuncs {
			out = append(out, strategy.Aggregate{Column: c, Func: fn})
		}
	}
	return out
}

func TestInsights_Render_SingleDimension(t *testing.T) {
	t.Parallel()

	s := strategy.Strategy{
		Name:       "by_pickup_area",
		Kind:       strategy.KindSingle,
		GroupKeys:  []strategy.GroupKey{{Column: "pickup_area"}},
		Aggregates: aggregatesFor("fare", "trip_distance", "passenger_count"),
	}
	g := insight.Group{
		Keys:        []any{"Midtown"},
		RecordCount: 1234,
		Stats: map[string]insight.Stats{
			"fare":            {Avg: 12.5, Median: 11, Min: 3, Max: 52.25, Stddev: 2, Count: 1234},
			"trip_distance":   {Avg: 2.5, Median: 2.1, Min: 0.5, Max: 10, Stddev: 1.5, Count: 1234},
			"passenger_count": {Avg: 1.46, Median: 1, Min: 1, Max: 6, Stddev: 0.3, Count: 1234},
		},
	}

	r := New([]string{"pickup_area", "fare", "trip_distance", "passenger_count"})
	text, err := r.Render(s, g)
	require.NoError(t, err)
	require.Equal(t, strings.Join([]string{
		"Group: Pickup Area: Midtown",
		"Total records: 1,234",
		"Fare: avg $12.50, median $11.00, range [$3.00 - $52.25]",
		"Trip Distance: avg 2.50, median 2.10, range [0.50 - 10.00] (high variability: σ=1.50)",
		"Passenger Count: avg 1.5, median 1, range [1 - 6]",
	}, "\n"), text)

	again, err := r.Render(s, g)
	require.NoError(t, err)
	require.Equal(t, text, again)
}

func TestInsights_Render_PairAndMissingStats(t *testing.T) {
	t.Parallel()

	s := strategy.Strategy{
		Name:       "by_pickup_area_and_dropoff_area",
		Kind:       strategy.KindPair,
		GroupKeys:  []strategy.GroupKey{{Column: "pickup_area"}, {Column: "dropoff_area"}},
		Aggregates: aggregatesFor("total_amount", "distance_km"),
	}
	g := insight.Group{
		Keys:        []any{"JFK Airport", ""},
		RecordCount: 2_500_000,
		Stats: map[string]insight.Stats{
			"total_amount": {Avg: 1520.456, Median: -3, Min: -10, Max: 2000, Stddev: 100, Count: 10},
		},
	}

	text, err := New(nil).Render(s, g)
	require.NoError(t, err)
	require.Equal(t, strings.Join([]string{
		"Group: Pickup Area: JFK Airport, Dropoff Area: unknown",
		"Total records: 2,500,000",
		"Total Amount: avg $1,520.46, median -$3.00, range [-$10.00 - $2,000.00]",
		"Distance Km: no data",
	}, "\n"), text)
}

func TestInsights_Render_TemporalKeys(t *testing.T) {
	t.Parallel()

	r := New([]string{"pickup_time", "fare"})
	tests := []struct {
		transform strategy.Transform
		value     any
		want      string
	}{
		{strategy.TransformHourOfDay, uint8(8), "Group: Pickup Time (hour of day): 08:00 (morning)"},
		{strategy.TransformHourOfDay, uint8(13), "Group: Pickup Time (hour of day): 13:00 (afternoon)"},
		{strategy.TransformHourOfDay, uint8(19), "Group: Pickup Time (hour of day): 19:00 (evening)"},
		{strategy.TransformHourOfDay, uint8(23), "Group: Pickup Time (hour of day): 23:00 (night)"},
		{strategy.TransformHourOfDay, int64(4), "Group: Pickup Time (hour of day): 04:00 (night)"},
		{strategy.TransformDayOfWeek, uint8(0), "Group: Pickup Time (day of week): Monday"},
		{strategy.TransformDayOfWeek, int32(6), "Group: Pickup Time (day of week): Sunday"},
		{strategy.TransformDayOfWeek, 9, "Group: Pickup Time (day of week): 9"},
		{strategy.TransformMonth, uint8(1), "Group: Pickup Time (month): January"},
		{strategy.TransformMonth, uint8(12), "Group: Pickup Time (month): December"},
		{strategy.TransformDayOfMonth, uint8(5), "Group: Pickup Time (day of month): 5"},
		{strategy.TransformMonth, nil, "Group: Pickup Time (month): unknown"},
	}
	for _, tt := range tests {
		s := strategy.Strategy{
			Name:      "by_pickup_time_" + string(tt.transform),
			Kind:      strategy.KindTemporal,
			GroupKeys: []strategy.GroupKey{{Column: "pickup_time", Transform: tt.transform}},
		}
		text, err := r.Render(s, insight.Group{Keys: []any{tt.value}, RecordCount: 10})
		require.NoError(t, err)
		require.Equal(t, tt.want, strings.Split(text, "\n")[0], "%s %v", tt.transform, tt.value)
	}
}

func TestInsights_Render_Errors(t *testing.T) {
	t.Parallel()

	r := New(nil)
	s := strategy.Strategy{Name: "by_a", GroupKeys: []strategy.GroupKey{{Column: "a"}}}
	_, err := r.Render(s, insight.Group{Keys: []any{"x", "y"}})
	require.ErrorContains(t, err, "by_a")

	s = strategy.Strategy{Name: "by_t_hour", GroupKeys: []strategy.GroupKey{{Column: "t", Transform: strategy.TransformHourOfDay}}}
	_, err = r.Render(s, insight.Group{Keys: []any{"eight"}})
	require.ErrorContains(t, err, "not an integer")
}

func TestInsights_Render_ScalarKeys(t *testing.T) {
	t.Parallel()

	require.Equal(t, "42", formatScalar(int16(42)))
	require.Equal(t, "2.5", formatScalar(2.5))
	require.Equal(t, "true", formatScalar(true))
	require.Equal(t, "2024-03-01", formatScalar(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, "2024-03-01 08:30:00", formatScalar(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)))
	require.Equal(t, "unknown", formatScalar(nil))
}

func TestInsights_Render_FormatDecimal(t *testing.T) {
	t.Parallel()

	require.Equal(t, "0.50", formatDecimal(0.5, 2))
	require.Equal(t, "1.00", formatDecimal(0.999, 2))
	require.Equal(t, "1,234,567.89", formatDecimal(1234567.891, 2))
	require.Equal(t, "-12.3", formatDecimal(-12.34, 1))
	require.Equal(t, "0.00", formatDecimal(-0.001, 2))
	require.Equal(t, "1,000", formatDecimal(999.6, 0))
	require.Equal(t, "-$0.25", formatMoney(-0.25))
	require.Equal(t, "$0.00", formatMoney(-0.001))
	require.Equal(t, "$0.00", formatMoney(-0.004999))
	require.Equal(t, "-$0.01", formatMoney(-0.005001))
	require.Equal(t, "-$1.50", formatMoney(-1.5))
	require.Equal(t, "$1,234.57", formatMoney(1234.567))
}

func TestInsights_Render_ValueKinds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		column string
		kind   valueKind
		unit   string
	}{
		{"fare_amount", kindMoney, ""},
		{"tip", kindMoney, ""},
		{"tollsAmount", kindMoney, ""},
		{"passenger_count", kindCount, ""},
		{"num_items", kindCount, ""},
		{"trip_distance", kindDistance, ""},
		{"distance_km", kindDistance, "km"},
		{"trip_miles", kindDistance, "mi"},
		{"duration_seconds", kindPlain, ""},
		{"stipend", kindPlain, ""},
	}
	for _, tt := range tests {
		kind, unit := kindOf(tt.column)
		require.Equal(t, tt.kind, kind, tt.column)
		require.Equal(t, tt.unit, unit, tt.column)
	}

	f := formatter{kind: kindDistance, unit: "mi"}
	require.Equal(t, "2.50 mi", f.avg(2.5))
	require.Equal(t, "10.00 mi", f.point(10))
}

func TestInsights_Render_Metadata(t *testing.T) {
	t.Parallel()

	s := strategy.Strategy{
		Name:       "by_pickup_time_hour",
		Kind:       strategy.KindTemporal,
		GroupKeys:  []strategy.GroupKey{{Column: "pickup_time", Transform: strategy.TransformHourOfDay}},
		Aggregates: aggregatesFor("fare", "tip"),
	}
	g := insight.Group{
		Keys:        []any{uint8(8)},
		RecordCount: 50,
		Stats: map[string]insight.Stats{
			"fare": {Avg: 10, Median: 9, Min: 1, Max: 20, Stddev: 3, Count: 50, MedianApproximate: true},
		},
	}

	md := Metadata(s, g)
	require.Equal(t, "by_pickup_time_hour", md["strategy"])
	require.Equal(t, uint64(50), md["record_count"])
	require.Equal(t, uint8(8), md["key_pickup_time_hour"])
	require.NotContains(t, md, "pickup_time_hour")
	require.Equal(t, 10.0, md["avg_fare"])
	require.Equal(t, uint64(50), md["count_fare"])
	require.Equal(t, true, md["approximate_median"])
	require.NotContains(t, md, "avg_tip")

	md = Metadata(strategy.Strategy{Name: "by_day", GroupKeys: []strategy.GroupKey{{Column: "day"}}},
		insight.Group{Keys: []any{time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}})
	require.Equal(t, "2024-01-02T00:00:00Z", md["key_day"])
	require.Equal(t, false, md["approximate_median"])
}

func TestInsights_Render_MetadataKeysDoNotOverwrite(t *testing.T) {
	t.Parallel()

	s := strategy.Strategy{
		Name:       "by_strategy_and_record_count",
		Kind:       strategy.KindPair,
		GroupKeys:  []strategy.GroupKey{{Column: "strategy"}, {Column: "record_count"}},
		Aggregates: aggregatesFor("approximate"),
	}
	g := insight.Group{
		Keys:        []any{"backfill", "12"},
		RecordCount: 40,
		Stats: map[string]insight.Stats{
			"approximate": {Avg: 2, Median: 2.5, Min: 1, Max: 3, Count: 40, MedianApproximate: true},
		},
	}

	md := Metadata(s, g)
	require.Equal(t, "by_strategy_and_record_count", md["strategy"])
	require.Equal(t, uint64(40), md["record_count"])
	require.Equal(t, true, md["approximate_median"])
	require.Equal(t, "backfill", md["key_strategy"])
	require.Equal(t, "12", md["key_record_count"])
	require.Equal(t, 2.5, md["median_approximate"])
	require.Equal(t, "key_strategy", MetadataKey(s.GroupKeys[0]))
}
