package dataset

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
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

func testConn(t *testing.T) clickhouse.Connection {
	conn, err := clickhousetesting.NewTestConn(t, sharedDB)
	require.NoError(t, err)
	return conn
}
