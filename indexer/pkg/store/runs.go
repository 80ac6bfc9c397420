package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/clickhouse/dataset"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
)

type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
	RunStatusSkipped RunStatus = "skipped"
)

// Run is one strategy execution within a pipeline run.
type Run struct {
	RunID          uuid.UUID `ch:"run_id"`
	SourceTable    string    `ch:"source_table"`
	StrategyName   string    `ch:"strategy_name"`
	Status         RunStatus `ch:"status"`
	Groups         uint64    `ch:"groups"`
	RecordsWritten uint64    `ch:"records_written"`
	Tokens         uint64    `ch:"tokens"`
	CostUSD        float64   `ch:"cost_usd"`
	Error          string    `ch:"error"`
	StartedAt      time.Time `ch:"started_at"`
	FinishedAt     time.Time `ch:"finished_at"`
}

// RecordRun appends one run log row.
func (s *Store) RecordRun(ctx context.Context, r Run) error {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return s.wrap("record run", r.StrategyName, err)
	}
	defer conn.Close()

	start := time.Now()
	err = conn.Exec(clickhouse.ContextWithSyncInsert(ctx),
		"INSERT INTO "+clickhouse.QuoteTable(s.cfg.RunsTable)+
			" (run_id, source_table, strategy_name, status, groups, records_written, tokens, cost_usd, error, started_at, finished_at)"+
			" VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		r.RunID, r.SourceTable, r.StrategyName, string(r.Status), r.Groups, r.RecordsWritten,
		r.Tokens, r.CostUSD, r.Error, r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	metrics.ObserveQuery("record_run", start, err)
	return s.wrap("record run", r.StrategyName, err)
}

// Runs returns the most recent run log rows for a source table, newest first.
func (s *Store) Runs(ctx context.Context, sourceTable string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, s.wrap("runs", "", err)
	}
	defer conn.Close()

	start := time.Now()
	runs, err := dataset.QueryInto[Run](ctx, conn, `
		SELECT run_id, source_table, strategy_name, status, groups, records_written, tokens, cost_usd, error, started_at, finished_at
		FROM `+clickhouse.QuoteTable(s.cfg.RunsTable)+`
		WHERE source_table = ?
		ORDER BY started_at DESC, strategy_name
		LIMIT ?`, sourceTable, limit)
	metrics.ObserveQuery("runs", start, err)
	if err != nil {
		return nil, s.wrap("runs", "", err)
	}
	return runs, nil
}
