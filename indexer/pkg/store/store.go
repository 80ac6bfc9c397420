package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/clickhouse/dataset"
	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
)

const (
	DefaultTable          = "aggregate_embeddings"
	DefaultRunsTable      = "insight_runs"
	DefaultWriteBatchSize = 500
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS %s (
    id String,
    strategy_name LowCardinality(String),
    source_table LowCardinality(String),
    summary_text String,
    embedding Array(Float32),
    metadata String,
    record_count UInt64,
    model LowCardinality(String),
    created_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(created_at)
ORDER BY (source_table, strategy_name, id)`

// StorageError carries the table and strategy a ClickHouse failure belongs to.
type StorageError struct {
	Op       string
	Table    string
	Strategy string
	Err      error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "store %s on %s", e.Op, e.Table)
	if e.Strategy != "" {
		fmt.Fprintf(&b, " (strategy %s)", e.Strategy)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StorageError) Unwrap() error { return e.Err }

type Config struct {
	Logger         *slog.Logger
	Client         clickhouse.Client
	Clock          clockwork.Clock
	Table          string
	RunsTable      string
	WriteBatchSize int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if cfg.RunsTable == "" {
		cfg.RunsTable = DefaultRunsTable
	}
	if err := clickhouse.ValidateTableName(cfg.Table); err != nil {
		return err
	}
	if err := clickhouse.ValidateTableName(cfg.RunsTable); err != nil {
		return err
	}
	if cfg.WriteBatchSize <= 0 {
		cfg.WriteBatchSize = DefaultWriteBatchSize
	}
	return nil
}

// Store persists embedded records. Writes are idempotent per record id: the
// table keeps the newest row per id and every read uses FINAL.
type Store struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

func (s *Store) Table() string { return s.cfg.Table }

func (s *Store) wrap(op, strategy string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Table: s.cfg.Table, Strategy: strategy, Err: err}
}

// EnsureTable creates the embeddings table when it does not exist. The
// default table is also created by migrations; this covers custom names.
func (s *Store) EnsureTable(ctx context.Context) error {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return s.wrap("ensure table", "", err)
	}
	defer conn.Close()

	start := time.Now()
	err = conn.Exec(ctx, fmt.Sprintf(createTableSQL, clickhouse.QuoteTable(s.cfg.Table)))
	metrics.ObserveQuery("ensure_table", start, err)
	return s.wrap("ensure table", "", err)
}

// Upsert writes records in batches and returns how many were sent.
func (s *Store) Upsert(ctx context.Context, records []insight.Record) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return 0, s.wrap("upsert", records[0].StrategyName, err)
	}
	defer conn.Close()

	now := s.cfg.Clock.Now().UTC()
	written := 0
	for start := 0; start < len(records); start += s.cfg.WriteBatchSize {
		chunk := records[start:min(start+s.cfg.WriteBatchSize, len(records))]
		if err := s.writeBatch(ctx, conn, chunk, now); err != nil {
			return written, s.wrap("upsert", chunk[0].StrategyName, err)
		}
		written += len(chunk)
	}
	metrics.RecordsWrittenTotal.WithLabelValues(s.cfg.Table).Add(float64(written))
	return written, nil
}

func (s *Store) writeBatch(ctx context.Context, conn clickhouse.Connection, records []insight.Record, now time.Time) error {
	began := time.Now()
	batch, err := conn.PrepareBatch(clickhouse.ContextWithSyncInsert(ctx), "INSERT INTO "+clickhouse.QuoteTable(s.cfg.Table))
	if err != nil {
		metrics.ObserveQuery("upsert", began, err)
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	defer batch.Close()

	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("record for strategy %s has no id", r.StrategyName)
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata of %s: %w", r.ID, err)
		}
		created := r.CreatedAt
		if created.IsZero() {
			created = now
		}
		if err := batch.Append(
			r.ID,
			r.StrategyName,
			r.SourceTable,
			r.SummaryText,
			r.Embedding,
			string(meta),
			r.RecordCount,
			r.Model,
			created,
		); err != nil {
			return fmt.Errorf("failed to append %s: %w", r.ID, err)
		}
	}
	err = batch.Send()
	metrics.ObserveQuery("upsert", began, err)
	if err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

type recordRow struct {
	ID           string    `ch:"id"`
	StrategyName string    `ch:"strategy_name"`
	SourceTable  string    `ch:"source_table"`
	SummaryText  string    `ch:"summary_text"`
	Embedding    []float32 `ch:"embedding"`
	Metadata     string    `ch:"metadata"`
	RecordCount  uint64    `ch:"record_count"`
	Model        string    `ch:"model"`
	CreatedAt    time.Time `ch:"created_at"`
}

// Filter narrows reads and deletes. Empty fields match everything.
type Filter struct {
	SourceTable string
	Strategy    string
}

func (f Filter) where() (string, []any) {
	var conds []string
	var args []any
	if f.SourceTable != "" {
		conds = append(conds, "source_table = ?")
		args = append(args, f.SourceTable)
	}
	if f.Strategy != "" {
		conds = append(conds, "strategy_name = ?")
		args = append(args, f.Strategy)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Corpus loads the deduplicated records matching f, ordered by strategy then id.
func (s *Store) Corpus(ctx context.Context, f Filter) ([]insight.Record, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, s.wrap("corpus", f.Strategy, err)
	}
	defer conn.Close()

	where, args := f.where()
	query := `SELECT id, strategy_name, source_table, summary_text, embedding, metadata, record_count, model, created_at
		FROM ` + clickhouse.QuoteTable(s.cfg.Table) + ` FINAL` + where + `
		ORDER BY strategy_name, id`

	start := time.Now()
	rows, err := dataset.QueryInto[recordRow](ctx, conn, query, args...)
	metrics.ObserveQuery("corpus", start, err)
	if err != nil {
		return nil, s.wrap("corpus", f.Strategy, err)
	}

	out := make([]insight.Record, len(rows))
	for i, r := range rows {
		var meta map[string]any
		if r.Metadata != "" {
			if err := json.Unmarshal([]byte(r.Metadata), &meta); err != nil {
				return nil, s.wrap("corpus", r.StrategyName, fmt.Errorf("record %s: bad metadata: %w", r.ID, err))
			}
		}
		out[i] = insight.Record{
			ID:           r.ID,
			StrategyName: r.StrategyName,
			SourceTable:  r.SourceTable,
			SummaryText:  r.SummaryText,
			Embedding:    r.Embedding,
			Metadata:     meta,
			RecordCount:  r.RecordCount,
			Model:        r.Model,
			CreatedAt:    r.CreatedAt,
		}
	}
	return out, nil
}

// CountByStrategy returns the number of stored records per strategy for a
// source table.
func (s *Store) CountByStrategy(ctx context.Context, sourceTable string) (map[string]uint64, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, s.wrap("count", "", err)
	}
	defer conn.Close()

	type countRow struct {
		StrategyName string
		N            uint64
	}
	start := time.Now()
	rows, err := dataset.QueryInto[countRow](ctx, conn,
		`SELECT strategy_name, count() AS n FROM `+clickhouse.QuoteTable(s.cfg.Table)+` FINAL
		WHERE source_table = ? GROUP BY strategy_name`, sourceTable)
	metrics.ObserveQuery("count_by_strategy", start, err)
	if err != nil {
		return nil, s.wrap("count", "", err)
	}
	out := make(map[string]uint64, len(rows))
	for _, r := range rows {
		out[r.StrategyName] = r.N
	}
	return out, nil
}

// SummaryRow describes the stored records of one strategy on one table.
type SummaryRow struct {
	SourceTable        string    `json:"source_table"`
	StrategyName       string    `json:"strategy_name"`
	Records            uint64    `json:"records"`
	RecordsRepresented uint64    `json:"records_represented"`
	Model              string    `json:"model"`
	FirstCreated       time.Time `json:"first_created"`
	LastCreated        time.Time `json:"last_created"`
}

func (s *Store) Summary(ctx context.Context, f Filter) ([]SummaryRow, error) {
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, s.wrap("summary", "", err)
	}
	defer conn.Close()

	where, args := f.where()
	start := time.Now()
	rows, err := dataset.QueryInto[SummaryRow](ctx, conn, `
		SELECT
			source_table,
			strategy_name,
			count() AS records,
			sum(record_count) AS records_represented,
			any(model) AS model,
			min(created_at) AS first_created,
			max(created_at) AS last_created
		FROM `+clickhouse.QuoteTable(s.cfg.Table)+` FINAL`+where+`
		GROUP BY source_table, strategy_name
		ORDER BY source_table, strategy_name`, args...)
	metrics.ObserveQuery("summary", start, err)
	if err != nil {
		return nil, s.wrap("summary", "", err)
	}
	return rows, nil
}

// Delete removes the records matching f and returns how many there were.
// Deleting with an empty filter is refused.
func (s *Store) Delete(ctx context.Context, f Filter) (uint64, error) {
	where, args := f.where()
	if where == "" {
		return 0, s.wrap("delete", "", errors.New("refusing to delete without a strategy or source table"))
	}
	conn, err := s.cfg.Client.Conn(ctx)
	if err != nil {
		return 0, s.wrap("delete", f.Strategy, err)
	}
	defer conn.Close()

	table := clickhouse.QuoteTable(s.cfg.Table)
	var n uint64
	if err := conn.QueryRow(ctx, "SELECT count() FROM "+table+" FINAL"+where, args...).Scan(&n); err != nil {
		return 0, s.wrap("delete", f.Strategy, err)
	}
	if n == 0 {
		return 0, nil
	}

	start := time.Now()
	err = conn.Exec(ctx, "ALTER TABLE "+table+" DELETE"+where+" SETTINGS mutations_sync = 2", args...)
	metrics.ObserveQuery("delete", start, err)
	if err != nil {
		return 0, s.wrap("delete", f.Strategy, err)
	}
	s.log.Info("store: deleted embeddings", "table", s.cfg.Table, "source_table", f.SourceTable, "strategy", f.Strategy, "records", n)
	return n, nil
}
