package aggregate

import (
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/insights/indexer/pkg/schema"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

func tripsCatalog(t *testing.T) *schema.Catalog {
	t.Helper()
	cat, err := schema.Builder{Ceiling: schema.DefaultCardinalityCeiling}.Build(schema.BuildInput{
		Table: "trips",
		Columns: []schema.Column{
			{Name: "pickup_at", DeclaredType: "DateTime"},
			{Name: "vendor", DeclaredType: "LowCardinality(Nullable(String))", Nullable: true},
			{Name: "payment_type", DeclaredType: "Enum8('card' = 1, 'cash' = 2)"},
			{Name: "fare_amount", DeclaredType: "Decimal(10, 2)"},
			{Name: "tip_amount", DeclaredType: "Nullable(Float64)", Nullable: true},
		},
		Cardinality: schema.CardinalityMap{"vendor": 3},
		RowCount:    1000,
	})
	require.NoError(t, err)
	return cat
}

func generated(t *testing.T, cat *schema.Catalog, name string) strategy.Strategy {
	t.Helper()
	all, err := strategy.Generate(cat, strategy.DefaultConfig())
	require.NoError(t, err)
	for _, s := range all {
		if s.Name == name {
			return s
		}
	}
	t.Fatalf("strategy %s not generated", name)
	return strategy.Strategy{}
}

func TestInsights_Aggregate_BuildSingle(t *testing.T) {
	t.Parallel()
	cat := tripsCatalog(t)

	q, err := Build(cat, generated(t, cat, "by_vendor"))
	require.NoError(t, err)
	require.Equal(t, []string{"__insights_key_vendor"}, q.KeyAliases)
	require.Equal(t, []string{"fare_amount", "tip_amount"}, q.Numeric)
	require.Equal(t, []any{strategy.DefaultMinRecordsPerGroup}, q.Args)

	sql := q.SQL
	require.Contains(t, sql, "`vendor` AS `__insights_key_vendor`")
	require.Contains(t, sql, "count() AS `__insights_record_count`")
	require.Contains(t, sql, "avg(toFloat64(`fare_amount`)) AS `__insights_avg_fare_amount`")
	require.Contains(t, sql, "quantileTDigest(0.5)(toFloat64(`fare_amount`)) AS `__insights_median_fare_amount`")
	require.Contains(t, sql, "stddevPop(toFloat64(`tip_amount`)) AS `__insights_stddev_tip_amount`")
	require.Contains(t, sql, "count(`tip_amount`) AS `__insights_count_tip_amount`")
	require.Contains(t, sql, "FROM `trips`")
	require.Contains(t, sql, "WHERE isNotNull(`vendor`) AND `vendor` != ''")
	require.Contains(t, sql, "HAVING `__insights_record_count` >= ?")
	require.Contains(t, sql, "ORDER BY `__insights_record_count` DESC, `__insights_key_vendor`")
}

func TestInsights_Aggregate_BuildPairAndTemporal(t *testing.T) {
	t.Parallel()
	cat := tripsCatalog(t)

	q, err := Build(cat, generated(t, cat, "by_vendor_and_payment_type"))
	require.NoError(t, err)
	require.Equal(t, []string{"__insights_key_vendor", "__insights_key_payment_type"}, q.KeyAliases)
	require.Contains(t, q.SQL, "GROUP BY `__insights_key_vendor`, `__insights_key_payment_type`")
	// Enum keys cannot be empty.
	require.NotContains(t, q.SQL, "`payment_type` != ''")

	q, err = Build(cat, generated(t, cat, "by_pickup_at_day_of_week"))
	require.NoError(t, err)
	require.Equal(t, []string{"__insights_key_pickup_at_day_of_week"}, q.KeyAliases)
	require.Contains(t, q.SQL, "toDayOfWeek(`pickup_at`) - 1 AS `__insights_key_pickup_at_day_of_week`")
	require.NotContains(t, q.SQL, "WHERE")

	q, err = Build(cat, generated(t, cat, "by_pickup_at_hour"))
	require.NoError(t, err)
	require.Contains(t, q.SQL, "toHour(`pickup_at`) AS `__insights_key_pickup_at_hour`")
}

// Pre-aggregated tables often carry their own record_count and avg_* columns.
func TestInsights_Aggregate_BuildAliasesDoNotShadowColumns(t *testing.T) {
	t.Parallel()

	cat, err := schema.Builder{Ceiling: schema.DefaultCardinalityCeiling}.Build(schema.BuildInput{
		Table: "daily_rollup",
		Columns: []schema.Column{
			{Name: "region", DeclaredType: "LowCardinality(String)"},
			{Name: "record_count", DeclaredType: "UInt32"},
			{Name: "avg_fare", DeclaredType: "Float64"},
			{Name: "fare", DeclaredType: "Float64"},
		},
		Cardinality: schema.CardinalityMap{"region": 4},
		RowCount:    100,
	})
	require.NoError(t, err)

	q, err := Build(cat, generated(t, cat, "by_region"))
	require.NoError(t, err)
	require.Equal(t, []string{"avg_fare", "fare", "record_count"}, sorted(q.Numeric))

	sql := q.SQL
	require.Contains(t, sql, "avg(toFloat64(`record_count`)) AS `__insights_avg_record_count`")
	require.Contains(t, sql, "avg(toFloat64(`fare`)) AS `__insights_avg_fare`")
	require.Contains(t, sql, "avg(toFloat64(`avg_fare`)) AS `__insights_avg_avg_fare`")
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSuffix(strings.TrimSpace(line), ",")
		if _, alias, ok := strings.Cut(line, " AS "); ok {
			name := strings.Trim(alias, "`")
			require.True(t, strings.HasPrefix(name, "__insights_"), "alias %s", name)
			_, isColumn := cat.Column(name)
			require.False(t, isColumn, "alias %s shadows a source column", name)
		}
	}
	require.NotContains(t, sql, "HAVING record_count")
	require.NotContains(t, sql, "AS record_count")
}

func TestInsights_Aggregate_BuildHourOfDate(t *testing.T) {
	t.Parallel()

	cat, err := schema.Builder{Ceiling: schema.DefaultCardinalityCeiling}.Build(schema.BuildInput{
		Table: "events",
		Columns: []schema.Column{
			{Name: "event_date", DeclaredType: "Date"},
			{Name: "closed_on", DeclaredType: "Nullable(Date32)", Nullable: true},
			{Name: "seen_at", DeclaredType: "DateTime64(3, 'UTC')"},
			{Name: "amount", DeclaredType: "Float64"},
		},
		RowCount: 100,
	})
	require.NoError(t, err)

	q, err := Build(cat, generated(t, cat, "by_event_date_hour"))
	require.NoError(t, err)
	require.Contains(t, q.SQL, "toHour(toDateTime(`event_date`)) AS `__insights_key_event_date_hour`")

	q, err = Build(cat, generated(t, cat, "by_closed_on_hour"))
	require.NoError(t, err)
	require.Contains(t, q.SQL, "toHour(toDateTime(`closed_on`))")

	q, err = Build(cat, generated(t, cat, "by_seen_at_hour"))
	require.NoError(t, err)
	require.Contains(t, q.SQL, "toHour(`seen_at`) AS")

	// Other granularities accept Date directly.
	q, err = Build(cat, generated(t, cat, "by_event_date_month"))
	require.NoError(t, err)
	require.Contains(t, q.SQL, "toMonth(`event_date`) AS")
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	slices.Sort(out)
	return out
}

func TestInsights_Aggregate_BuildCount(t *testing.T) {
	t.Parallel()
	cat := tripsCatalog(t)

	q, err := BuildCount(cat, generated(t, cat, "by_vendor"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(q.SQL, "SELECT count() FROM (\nSELECT"))
	require.Len(t, q.Args, 1)
}

func TestInsights_Aggregate_BuildErrors(t *testing.T) {
	t.Parallel()
	cat := tripsCatalog(t)

	_, err := Build(nil, strategy.Strategy{})
	require.Error(t, err)

	_, err = Build(cat, strategy.Strategy{Name: "empty"})
	require.ErrorContains(t, err, "no group keys")

	_, err = Build(cat, strategy.Strategy{Name: "bad", GroupKeys: []strategy.GroupKey{{Column: "nope"}}})
	require.ErrorContains(t, err, `unknown column "nope"`)

	_, err = Build(cat, strategy.Strategy{Name: "bad", GroupKeys: []strategy.GroupKey{{Column: "pickup_at", Transform: "week"}}})
	require.ErrorContains(t, err, "unknown transform")

	_, err = Build(cat, strategy.Strategy{
		Name:       "bad",
		GroupKeys:  []strategy.GroupKey{{Column: "vendor"}},
		Aggregates: []strategy.Aggregate{{Column: "fare_amount", Func: "p99"}},
	})
	require.ErrorContains(t, err, "unknown aggregate function")

	bad := *cat
	bad.Table = "trips; DROP TABLE trips"
	_, err = Build(&bad, generated(t, cat, "by_vendor"))
	require.ErrorContains(t, err, "invalid table name")
}
