package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	insightstesting "github.com/malbeclabs/insights/utils/pkg/testing"
)

func tableExists(t *testing.T, client clickhouse.Client, name string) bool {
	t.Helper()
	conn, err := client.Conn(t.Context())
	require.NoError(t, err)
	defer conn.Close()

	var n uint64
	require.NoError(t, conn.QueryRow(t.Context(),
		"SELECT count() FROM system.tables WHERE database = currentDatabase() AND name = ?", name).Scan(&n))
	return n == 1
}

func TestInsights_Store_Migrations(t *testing.T) {
	t.Parallel()

	log := insightstesting.NewLogger()
	info := insightstesting.NewClientWithInfo(t, sharedDB)
	cfg := sharedDB.MigrationConfig(info.Database)

	require.True(t, tableExists(t, info.Client, DefaultTable))
	require.True(t, tableExists(t, info.Client, DefaultRunsTable))
	require.NoError(t, clickhouse.MigrationStatus(t.Context(), log, cfg))
	require.NoError(t, clickhouse.Version(t.Context(), log, cfg))

	require.NoError(t, clickhouse.DownTo(t.Context(), log, cfg, 1))
	require.True(t, tableExists(t, info.Client, DefaultTable))
	require.False(t, tableExists(t, info.Client, DefaultRunsTable))

	// Applying again is idempotent.
	require.NoError(t, clickhouse.RunMigrations(t.Context(), log, cfg))
	require.NoError(t, clickhouse.RunMigrations(t.Context(), log, cfg))
	require.True(t, tableExists(t, info.Client, DefaultRunsTable))
}
