package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse/dataset"
	"github.com/malbeclabs/insights/indexer/pkg/embedding"
	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
	"github.com/malbeclabs/insights/indexer/pkg/render"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

// ErrNotConfirmed is returned when a run above the cost threshold is not
// confirmed.
var ErrNotConfirmed = errors.New("run not confirmed")

type Indexer struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Indexer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Indexer{log: cfg.Logger, cfg: cfg}, nil
}

type RunOptions struct {
	PlanOptions

	DryRun bool
	// Yes skips the cost confirmation.
	Yes bool
	// SkipExisting leaves strategies that already have stored records alone.
	SkipExisting bool
}

// StrategyResult is the outcome of one strategy within a run.
type StrategyResult struct {
	Strategy string
	Status   store.RunStatus
	Groups   int
	Records  int
	Tokens   int64
	CostUSD  float64
	Duration time.Duration
	Err      error
}

type Summary struct {
	RunID   uuid.UUID
	Plan    *Plan
	DryRun  bool
	Results []StrategyResult
	Usage   embedding.Usage
}

// Err joins the failures of every strategy, nil when all succeeded.
func (s *Summary) Err() error {
	var errs []error
	for _, r := range s.Results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("strategy %s: %w", r.Strategy, r.Err))
		}
	}
	return errors.Join(errs...)
}

func (s *Summary) Count(status store.RunStatus) int {
	n := 0
	for _, r := range s.Results {
		if r.Status == status {
			n++
		}
	}
	return n
}

func (s *Summary) RecordsWritten() int {
	n := 0
	for _, r := range s.Results {
		n += r.Records
	}
	return n
}

// Run plans the table and, unless this is a dry run, executes every planned
// strategy. A failing strategy is recorded in the summary and does not stop
// the others; the returned error is reserved for failures that stop the
// whole run.
func (i *Indexer) Run(ctx context.Context, opts RunOptions) (*Summary, error) {
	plan, err := i.Plan(ctx, opts.PlanOptions)
	if err != nil {
		return nil, err
	}
	sum := &Summary{RunID: uuid.New(), Plan: plan, DryRun: opts.DryRun}
	if opts.DryRun || len(plan.Strategies) == 0 {
		return sum, nil
	}
	if i.cfg.Embedder == nil || i.cfg.Store == nil {
		return nil, errors.New("embedder and store are required to execute strategies")
	}

	if cost := plan.Estimates.TotalCostUSD; cost > i.cfg.CostConfirmThreshold && !opts.Yes {
		if i.cfg.Confirm == nil {
			return nil, fmt.Errorf("%w: estimated cost $%.4f exceeds $%.2f", ErrNotConfirmed, cost, i.cfg.CostConfirmThreshold)
		}
		ok, err := i.cfg.Confirm(ctx, plan)
		if err != nil {
			return nil, fmt.Errorf("failed to confirm run: %w", err)
		}
		if !ok {
			return nil, ErrNotConfirmed
		}
	}

	existing := map[string]uint64{}
	if opts.SkipExisting {
		existing, err = i.cfg.Store.CountByStrategy(ctx, plan.Table)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing embeddings: %w", err)
		}
	}

	renderer := render.New(plan.Columns())
	results := make([]StrategyResult, len(plan.Strategies))

	var g errgroup.Group
	g.SetLimit(i.cfg.MaxConcurrency)
	for idx, s := range plan.Strategies {
		if n := existing[s.Name]; n > 0 {
			i.log.Info("indexer: skipping strategy with existing embeddings", "strategy", s.Name, "records", n)
			results[idx] = StrategyResult{Strategy: s.Name, Status: store.RunStatusSkipped}
			i.recordRun(ctx, sum.RunID, plan.Table, results[idx], i.cfg.Clock.Now())
			continue
		}
		g.Go(func() error {
			results[idx] = i.runStrategy(ctx, sum.RunID, plan, renderer, s)
			return nil
		})
	}
	_ = g.Wait()

	sum.Results = results
	sum.Usage = i.cfg.Embedder.Usage()
	i.log.Info("indexer: run complete",
		"table", plan.Table,
		"run_id", sum.RunID,
		"succeeded", sum.Count(store.RunStatusSuccess),
		"failed", sum.Count(store.RunStatusFailed),
		"skipped", sum.Count(store.RunStatusSkipped),
		"records", sum.RecordsWritten(),
		"tokens", sum.Usage.Tokens,
		"cost_usd", sum.Usage.CostUSD,
	)
	return sum, nil
}

func (i *Indexer) runStrategy(ctx context.Context, runID uuid.UUID, plan *Plan, renderer *render.Renderer, s strategy.Strategy) StrategyResult {
	started := i.cfg.Clock.Now()
	res := StrategyResult{Strategy: s.Name, Status: store.RunStatusSuccess}
	log := i.log.With("strategy", s.Name)
	log.Info("indexer: running strategy", "description", s.Description())

	err := i.execute(ctx, plan, renderer, s, &res)
	res.Duration = i.cfg.Clock.Since(started)

	metrics.StrategyRunDuration.WithLabelValues(s.Name).Observe(res.Duration.Seconds())
	metrics.GroupsProcessedTotal.WithLabelValues(s.Name).Add(float64(res.Groups))
	if err != nil {
		res.Status = store.RunStatusFailed
		res.Err = err
		metrics.StrategyRunsTotal.WithLabelValues(s.Name, "error").Inc()
		sentry.CaptureException(fmt.Errorf("strategy %s on %s: %w", s.Name, plan.Table, err))
		log.Error("indexer: strategy failed", "error", err, "duration", res.Duration)
	} else {
		metrics.StrategyRunsTotal.WithLabelValues(s.Name, "success").Inc()
		log.Info("indexer: strategy complete", "groups", res.Groups, "records", res.Records, "tokens", res.Tokens, "duration", res.Duration)
	}

	i.recordRun(ctx, runID, plan.Table, res, started)
	return res
}

func (i *Indexer) execute(ctx context.Context, plan *Plan, renderer *render.Renderer, s strategy.Strategy, res *StrategyResult) error {
	groups, err := i.cfg.Executor.Run(ctx, plan.Catalog, s)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	res.Groups = len(groups)
	if len(groups) == 0 {
		return nil
	}

	texts := make([]string, len(groups))
	for idx, g := range groups {
		texts[idx], err = renderer.Render(s, g)
		if err != nil {
			return fmt.Errorf("render: %w", err)
		}
	}

	vectors, tokens, err := i.cfg.Embedder.EmbedWithTokens(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	res.Tokens = tokens
	res.CostUSD = i.cfg.Model.Cost(tokens)

	now := i.cfg.Clock.Now().UTC()
	records := make([]insight.Record, len(groups))
	for idx, g := range groups {
		records[idx] = insight.Record{
			ID:           RecordID(plan.Table, s.Name, g.Keys),
			StrategyName: s.Name,
			SummaryText:  texts[idx],
			Embedding:    vectors[idx],
			Metadata:     render.Metadata(s, g),
			SourceTable:  plan.Table,
			RecordCount:  g.RecordCount,
			Model:        i.cfg.Model.Name,
			CreatedAt:    now,
		}
	}

	n, err := i.cfg.Store.Upsert(ctx, records)
	res.Records = n
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

func (i *Indexer) recordRun(ctx context.Context, runID uuid.UUID, table string, res StrategyResult, started time.Time) {
	run := store.Run{
		RunID:          runID,
		SourceTable:    table,
		StrategyName:   res.Strategy,
		Status:         res.Status,
		Groups:         uint64(res.Groups),
		RecordsWritten: uint64(res.Records),
		Tokens:         uint64(res.Tokens),
		CostUSD:        res.CostUSD,
		StartedAt:      started,
		FinishedAt:     i.cfg.Clock.Now(),
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	if err := i.cfg.Store.RecordRun(ctx, run); err != nil {
		i.log.Warn("indexer: failed to record run", "strategy", res.Strategy, "error", err)
	}
}

// RecordID is the stable id of a group's record. Re-running a strategy over
// the same table produces the same ids, so stored records are replaced
// rather than duplicated.
func RecordID(sourceTable, strategyName string, keys []any) string {
	values := make([]any, 0, len(keys)+2)
	values = append(values, sourceTable, strategyName)
	values = append(values, keys...)
	return dataset.NewNaturalKey(values...).ToSurrogate().String()
}
