package introspect

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	clickhousetesting "github.com/malbeclabs/insights/indexer/pkg/clickhouse/testing"
	insightstesting "github.com/malbeclabs/insights/utils/pkg/testing"
)

var sharedDB *clickhousetesting.DB

func TestMain(m *testing.M) {
	log := insightstesting.NewLogger()
	var err error
	sharedDB, err = clickhousetesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Error("failed to create shared DB", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}

func newIntrospector(t *testing.T) *Introspector {
	client, err := clickhousetesting.NewTestClient(t, sharedDB)
	require.NoError(t, err)
	conn, err := client.Conn(t.Context())
	require.NoError(t, err)

	require.NoError(t, conn.Exec(t.Context(), `
		CREATE TABLE trips (
			pickup_at DateTime,
			vendor LowCardinality(String),
			payment_type Enum8('card' = 1, 'cash' = 2),
			trip_id String,
			fare_amount Float64,
			tip_amount Nullable(Float64)
		) ENGINE = MergeTree()
		ORDER BY pickup_at
	`))
	require.NoError(t, conn.Exec(t.Context(), `
		INSERT INTO trips
		SELECT
			toDateTime('2024-01-01 00:00:00') + number * 600,
			['acme', 'zoom', 'cabco'][number % 3 + 1],
			if(number % 2 = 0, 'card', 'cash'),
			toString(generateUUIDv4()),
			10 + number % 17,
			if(number % 5 = 0, NULL, number % 4)
		FROM numbers(1000)
	`))

	in, err := New(Config{Logger: insightstesting.NewLogger(), Client: client})
	require.NoError(t, err)
	return in
}
