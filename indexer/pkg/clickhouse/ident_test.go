package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsights_Clickhouse_QuoteTable(t *testing.T) {
	t.Parallel()

	require.Equal(t, "`trips`", QuoteTable("trips"))
	require.Equal(t, "`nyc`.`trips`", QuoteTable("nyc.trips"))
	require.Equal(t, "`we``ird`", QuoteIdentifier("we`ird"))

	db, name := SplitTable("nyc.trips")
	require.Equal(t, "nyc", db)
	require.Equal(t, "trips", name)
	db, name = SplitTable("trips")
	require.Empty(t, db)
	require.Equal(t, "trips", name)
}

func TestInsights_Clickhouse_ValidateTableName(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"trips", "nyc.trips", "_t1", "a.b_2"} {
		require.NoError(t, ValidateTableName(ok), ok)
	}
	for _, bad := range []string{"", "1trips", "a.b.c", "trips; DROP TABLE x", "a b", "`x`"} {
		require.Error(t, ValidateTableName(bad), bad)
	}
}
