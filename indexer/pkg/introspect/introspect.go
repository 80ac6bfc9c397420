package introspect

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/clickhouse/dataset"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
	"github.com/malbeclabs/insights/indexer/pkg/schema"
)

const DefaultProbeConcurrency = 4

var ErrTableNotFound = errors.New("table not found")

type Config struct {
	Logger *slog.Logger
	Client clickhouse.Client

	// ProbeConcurrency bounds the number of uniq() queries in flight.
	ProbeConcurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.ProbeConcurrency <= 0 {
		cfg.ProbeConcurrency = DefaultProbeConcurrency
	}
	return nil
}

// Introspector reads table shape and value statistics from ClickHouse.
type Introspector struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Introspector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Introspector{log: cfg.Logger, cfg: cfg}, nil
}

// Snapshot is everything the catalog builder needs about one table.
type Snapshot struct {
	Table       string
	Columns     []schema.Column
	RowCount    uint64
	Cardinality schema.CardinalityMap
}

func (s *Snapshot) BuildInput() schema.BuildInput {
	return schema.BuildInput{
		Table:       s.Table,
		Columns:     s.Columns,
		Cardinality: s.Cardinality,
		RowCount:    s.RowCount,
	}
}

// Snapshot collects columns, row count and probed cardinalities for table.
func (i *Introspector) Snapshot(ctx context.Context, table string) (*Snapshot, error) {
	cols, err := i.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := i.RowCount(ctx, table)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		Table:       table,
		Columns:     cols,
		RowCount:    rows,
		Cardinality: i.ProbeCardinality(ctx, table, cols),
	}, nil
}

// Columns returns the table's columns in declaration order.
func (i *Introspector) Columns(ctx context.Context, table string) ([]schema.Column, error) {
	if err := clickhouse.ValidateTableName(table); err != nil {
		return nil, err
	}
	conn, err := i.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	database, name := clickhouse.SplitTable(table)
	if database == "" {
		database = i.cfg.Client.Database()
	}

	start := time.Now()
	type columnRow struct {
		Name string
		Type string
	}
	rows, err := dataset.QueryInto[columnRow](ctx, conn, `
		SELECT name, type
		FROM system.columns
		WHERE database = ? AND table = ?
		ORDER BY position
	`, database, name)
	metrics.ObserveQuery("columns", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to list columns of %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, name)
	}

	cols := make([]schema.Column, len(rows))
	for j, r := range rows {
		cols[j] = schema.Column{
			Name:         r.Name,
			DeclaredType: r.Type,
			Nullable:     schema.IsNullableType(r.Type),
		}
	}
	return cols, nil
}

// RowCount returns count() over the whole table.
func (i *Introspector) RowCount(ctx context.Context, table string) (uint64, error) {
	conn, err := i.cfg.Client.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	var n uint64
	err = conn.QueryRow(ctx, "SELECT count() FROM "+clickhouse.QuoteTable(table)).Scan(&n)
	metrics.ObserveQuery("row_count", start, err)
	if err != nil {
		return 0, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	return n, nil
}

// ProbeCardinality estimates distinct counts for the free-text columns. A
// column whose probe fails is left out, so the classifier sees its
// cardinality as unknown.
func (i *Introspector) ProbeCardinality(ctx context.Context, table string, cols []schema.Column) schema.CardinalityMap {
	var probe []string
	for _, c := range cols {
		if schema.IsStringLikeType(c.DeclaredType) {
			probe = append(probe, c.Name)
		}
	}

	results := make([]struct {
		n  uint64
		ok bool
	}, len(probe))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.cfg.ProbeConcurrency)
	for j, name := range probe {
		g.Go(func() error {
			n, err := i.distinct(gctx, table, name)
			if err != nil {
				i.log.Warn("introspect: cardinality probe failed", "table", table, "column", name, "error", err)
				return nil
			}
			results[j].n, results[j].ok = n, true
			return nil
		})
	}
	_ = g.Wait()

	out := make(schema.CardinalityMap, len(probe))
	for j, name := range probe {
		if results[j].ok {
			out[name] = results[j].n
		}
	}
	i.log.Debug("introspect: probed cardinality", "table", table, "columns", len(probe), "known", len(out))
	return out
}

func (i *Introspector) distinct(ctx context.Context, table, column string) (uint64, error) {
	conn, err := i.cfg.Client.Conn(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	start := time.Now()
	var n uint64
	query := fmt.Sprintf("SELECT uniq(%s) FROM %s", clickhouse.QuoteIdentifier(column), clickhouse.QuoteTable(table))
	err = conn.QueryRow(ctx, query).Scan(&n)
	metrics.ObserveQuery("cardinality", start, err)
	return n, err
}

// SampleRows returns up to limit rows for display.
func (i *Introspector) SampleRows(ctx context.Context, table string, limit int) (*dataset.QueryResult, error) {
	if err := clickhouse.ValidateTableName(table); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	conn, err := i.cfg.Client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	res, err := dataset.Query(ctx, conn, fmt.Sprintf("SELECT * FROM %s LIMIT %d", clickhouse.QuoteTable(table), limit), nil)
	metrics.ObserveQuery("sample", start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s: %w", table, err)
	}
	return res, nil
}
