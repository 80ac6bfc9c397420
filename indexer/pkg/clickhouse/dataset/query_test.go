package dataset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
)

func createTrips(t *testing.T, conn clickhouse.Connection) {
	t.Helper()
	ctx := t.Context()

	require.NoError(t, conn.Exec(ctx, `
		CREATE TABLE trips (
			trip_id UInt64,
			vendor LowCardinality(String),
			payment_type Enum8('card' = 1, 'cash' = 2),
			pickup_at DateTime,
			fare_amount Decimal(10, 2),
			tip Nullable(Float64),
			tags Array(String)
		) ENGINE = MergeTree()
		ORDER BY trip_id
	`))
	require.NoError(t, conn.Exec(ctx, `
		INSERT INTO trips VALUES
		(1, 'acme', 'card', '2024-01-01 08:15:00', 12.50, 2.5, ['a']),
		(2, 'acme', 'cash', '2024-01-01 09:30:00', 7.25, NULL, []),
		(3, 'zoom', 'card', '2024-01-02 18:00:00', 30.00, 6, ['b', 'c'])
	`))
}

func TestInsights_Clickhouse_Dataset_Query(t *testing.T) {
	t.Parallel()
	conn := testConn(t)
	ctx := t.Context()

	require.NoError(t, conn.Exec(ctx, `
		CREATE TABLE events (
			event_ts DateTime,
			value Int32,
			label Nullable(String)
		) ENGINE = MergeTree()
		ORDER BY event_ts
	`))
	for i := 0; i < 5; i++ {
		require.NoError(t, conn.Exec(ctx, "INSERT INTO events (event_ts, value, label) VALUES (?, ?, ?)",
			time.Date(2024, 1, 1, 10, i, 0, 0, time.UTC), int32(i*10), "label"))
	}
	require.NoError(t, conn.Exec(ctx, "INSERT INTO events (event_ts, value, label) VALUES (?, ?, NULL)",
		time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC), int32(100)))

	t.Run("select with params", func(t *testing.T) {
		result, err := Query(ctx, conn, "SELECT * FROM events WHERE value >= ? ORDER BY value", []any{20})
		require.NoError(t, err)
		require.Equal(t, 4, result.Count)
		require.Equal(t, []string{"event_ts", "value", "label"}, result.Columns)
		require.Len(t, result.ColumnTypes, 3)
		require.Contains(t, result.ColumnTypes[0].DatabaseTypeName, "DateTime")
		require.Equal(t, int32(20), result.Rows[0]["value"])
		require.IsType(t, time.Time{}, result.Rows[0]["event_ts"])
	})

	t.Run("count", func(t *testing.T) {
		result, err := Query(ctx, conn, "SELECT count() AS cnt FROM events", nil)
		require.NoError(t, err)
		require.Equal(t, uint64(6), result.Rows[0]["cnt"])
	})

	t.Run("null becomes nil", func(t *testing.T) {
		result, err := Query(ctx, conn, "SELECT label FROM events WHERE value = ?", []any{100})
		require.NoError(t, err)
		require.Equal(t, 1, result.Count)
		require.Nil(t, result.Rows[0]["label"])
	})

	t.Run("no rows keeps metadata", func(t *testing.T) {
		result, err := Query(ctx, conn, "SELECT * FROM events WHERE value > ?", []any{1000})
		require.NoError(t, err)
		require.Zero(t, result.Count)
		require.Len(t, result.Columns, 3)
	})

	t.Run("invalid query", func(t *testing.T) {
		result, err := Query(ctx, conn, "SELECT * FROM nonexistent_table", nil)
		require.ErrorContains(t, err, "failed to execute query")
		require.Nil(t, result)
	})
}

func TestInsights_Clickhouse_Dataset_ScanWrappedTypes(t *testing.T) {
	t.Parallel()
	conn := testConn(t)
	ctx := t.Context()
	createTrips(t, conn)

	result, err := Query(ctx, conn, "SELECT * FROM trips ORDER BY trip_id", nil)
	require.NoError(t, err)
	require.Equal(t, 3, result.Count)

	first := result.Rows[0]
	require.Equal(t, uint64(1), first["trip_id"])
	require.Equal(t, "acme", first["vendor"])
	require.Equal(t, "card", first["payment_type"])
	require.InDelta(t, 12.5, first["fare_amount"], 1e-9)
	require.Equal(t, 2.5, first["tip"])
	require.Equal(t, []string{"a"}, first["tags"])

	require.Nil(t, result.Rows[1]["tip"])
	require.Equal(t, "cash", result.Rows[1]["payment_type"])
}

func TestInsights_Clickhouse_Dataset_QueryInto(t *testing.T) {
	t.Parallel()
	conn := testConn(t)
	createTrips(t, conn)

	type vendorStats struct {
		Vendor    string
		Trips     uint64 `ch:"n"`
		AvgFare   float64
		MaxTip    *float64
		Unmatched string
	}

	got, err := QueryInto[vendorStats](t.Context(), conn, `
		SELECT vendor, count() AS n, avg(toFloat64(fare_amount)) AS avg_fare, max(tip) AS max_tip
		FROM trips GROUP BY vendor ORDER BY vendor`)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "acme", got[0].Vendor)
	require.Equal(t, uint64(2), got[0].Trips)
	require.InDelta(t, 9.875, got[0].AvgFare, 1e-9)
	require.NotNil(t, got[0].MaxTip)
	require.Equal(t, 2.5, *got[0].MaxTip)
	require.Empty(t, got[0].Unmatched)
}
