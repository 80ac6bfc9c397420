package indexer

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/insights/indexer/pkg/embedding"
	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/introspect"
	"github.com/malbeclabs/insights/indexer/pkg/schema"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

const (
	DefaultMaxConcurrency       = 2
	DefaultCostConfirmThreshold = 1.00
)

type SchemaSource interface {
	Snapshot(ctx context.Context, table string) (*introspect.Snapshot, error)
}

type Executor interface {
	Run(ctx context.Context, cat *schema.Catalog, s strategy.Strategy) ([]insight.Group, error)
	CountGroups(ctx context.Context, cat *schema.Catalog, s strategy.Strategy) (uint64, error)
}

type Embedder interface {
	EmbedWithTokens(ctx context.Context, texts []string) ([][]float32, int64, error)
	Usage() embedding.Usage
}

type Store interface {
	Upsert(ctx context.Context, records []insight.Record) (int, error)
	CountByStrategy(ctx context.Context, sourceTable string) (map[string]uint64, error)
	RecordRun(ctx context.Context, r store.Run) error
}

// ConfirmFunc is asked before a run whose estimated cost is above the
// threshold. Returning false cancels the run.
type ConfirmFunc func(ctx context.Context, plan *Plan) (bool, error)

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	Schema   SchemaSource
	Executor Executor
	// Embedder and Store are only needed for runs that are not dry runs.
	Embedder Embedder
	Store    Store

	Model    embedding.Model
	Builder  schema.Builder
	Strategy strategy.Config

	MaxConcurrency       int
	CostConfirmThreshold float64
	Confirm              ConfirmFunc
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Schema == nil {
		return errors.New("schema source is required")
	}
	if cfg.Executor == nil {
		return errors.New("executor is required")
	}
	if cfg.Model.Name == "" {
		return errors.New("embedding model is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.CostConfirmThreshold < 0 {
		return errors.New("cost confirm threshold must be non-negative")
	}
	return cfg.Strategy.Validate()
}
