package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/clickhouse/dataset"
	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
	"github.com/malbeclabs/insights/indexer/pkg/schema"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

// Executor runs strategies against ClickHouse.
type Executor struct {
	log    *slog.Logger
	client clickhouse.Client
}

func NewExecutor(log *slog.Logger, client clickhouse.Client) (*Executor, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if client == nil {
		return nil, errors.New("clickhouse client is required")
	}
	return &Executor{log: log, client: client}, nil
}

// Run executes s and returns its groups, largest first.
func (e *Executor) Run(ctx context.Context, cat *schema.Catalog, s strategy.Strategy) ([]insight.Group, error) {
	q, err := Build(cat, s)
	if err != nil {
		return nil, err
	}
	conn, err := e.client.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	res, err := dataset.Query(ctx, conn, q.SQL, q.Args)
	metrics.ObserveQuery("aggregate", start, err)
	if err != nil {
		return nil, fmt.Errorf("strategy %s: %w", s.Name, err)
	}

	groups := make([]insight.Group, 0, res.Count)
	for _, row := range res.Rows {
		groups = append(groups, toGroup(row, q, s))
	}
	e.log.Debug("aggregate: strategy executed", "strategy", s.Name, "groups", len(groups), "duration", time.Since(start))
	return groups, nil
}

// CountGroups returns how many groups Run would produce.
func (e *Executor) CountGroups(ctx context.Context, cat *schema.Catalog, s strategy.Strategy) (uint64, error) {
	q, err := BuildCount(cat, s)
	if err != nil {
		return 0, err
	}
	conn, err := e.client.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	start := time.Now()
	var n uint64
	err = conn.QueryRow(ctx, q.SQL, q.Args...).Scan(&n)
	metrics.ObserveQuery("count_groups", start, err)
	if err != nil {
		return 0, fmt.Errorf("strategy %s: %w", s.Name, err)
	}
	return n, nil
}

func toGroup(row map[string]any, q Query, s strategy.Strategy) insight.Group {
	g := insight.Group{
		Keys:  make([]any, len(q.KeyAliases)),
		Stats: make(map[string]insight.Stats, len(q.Numeric)),
	}
	for i, alias := range q.KeyAliases {
		g.Keys[i] = row[alias]
	}
	g.RecordCount, _ = toUint(row[recordCountAlias])

	for _, col := range q.Numeric {
		var st insight.Stats
		st.Count, _ = toUint(row[aggAlias(strategy.Aggregate{Column: col, Func: strategy.FuncCount})])
		if st.Count == 0 {
			g.Stats[col] = st
			continue
		}
		for _, a := range s.Aggregates {
			if a.Column != col {
				continue
			}
			v := toFloat(row[aggAlias(a)])
			switch a.Func {
			case strategy.FuncAvg:
				st.Avg = v
			case strategy.FuncMedian:
				st.Median = v
				st.MedianApproximate = true
			case strategy.FuncMin:
				st.Min = v
			case strategy.FuncMax:
				st.Max = v
			case strategy.FuncStddev:
				st.Stddev = v
			}
		}
		g.Stats[col] = st
	}
	return g
}

func toFloat(v any) float64 {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case float32:
		f = float64(x)
	case int64:
		f = float64(x)
	case uint64:
		f = float64(x)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func toUint(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint32:
		return uint64(x), true
	case int64:
		if x >= 0 {
			return uint64(x), true
		}
	}
	return 0, false
}
