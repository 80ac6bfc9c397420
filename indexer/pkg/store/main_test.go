package store

import (
	"context"
	"os"
	"testing"

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

