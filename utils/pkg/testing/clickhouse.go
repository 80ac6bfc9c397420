package insightstesting

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/insights/indexer/pkg/clickhouse/testing"
)

// ClientInfo holds a test client and its database name.
type ClientInfo struct {
	Client   clickhouse.Client
	Database string
}

// NewClient returns a client on a fresh, migrated test database.
func NewClient(t *testing.T, db *clickhousetesting.DB) clickhouse.Client {
	return NewClientWithInfo(t, db).Client
}

// NewClientWithInfo creates a migrated test database and returns the client
// together with the database name.
func NewClientWithInfo(t *testing.T, db *clickhousetesting.DB) *ClientInfo {
	info, err := clickhousetesting.NewTestClientWithInfo(t, db)
	require.NoError(t, err)

	err = clickhouse.RunMigrations(t.Context(), NewLogger(), db.MigrationConfig(info.Database))
	require.NoError(t, err)

	return &ClientInfo{
		Client:   info.Client,
		Database: info.Database,
	}
}
