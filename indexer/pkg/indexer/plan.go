package indexer

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/insights/indexer/pkg/introspect"
	"github.com/malbeclabs/insights/indexer/pkg/schema"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

// Plan is everything decided about a table before any aggregation runs.
type Plan struct {
	Table      string
	Snapshot   *introspect.Snapshot
	Catalog    *schema.Catalog
	Strategies []strategy.Strategy
	// Unknown lists requested strategy names that were not generated.
	Unknown   []string
	Estimates strategy.Summary

	// CatalogErr is set when the table has nothing to group on. The plan
	// then carries zero strategies.
	CatalogErr error
}

// Columns returns every source column name in table order.
func (p *Plan) Columns() []string {
	names := make([]string, 0, len(p.Snapshot.Columns))
	for _, c := range p.Snapshot.Columns {
		names = append(names, c.Name)
	}
	return names
}

type PlanOptions struct {
	Table string
	// Strategies restricts the plan to these names when non-empty.
	Strategies []string
	// ExactEstimates replaces heuristic group counts with COUNT queries.
	ExactEstimates bool
}

// Plan introspects the table, builds its catalog, generates and filters the
// strategies and estimates their size and cost.
func (i *Indexer) Plan(ctx context.Context, opts PlanOptions) (*Plan, error) {
	snap, err := i.cfg.Schema.Snapshot(ctx, opts.Table)
	if err != nil {
		return nil, fmt.Errorf("failed to introspect %s: %w", opts.Table, err)
	}

	cat, err := i.cfg.Builder.Build(snap.BuildInput())
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog for %s: %w", opts.Table, err)
	}

	plan := &Plan{Table: opts.Table, Snapshot: snap, Catalog: cat}
	if err := cat.Validate(); err != nil {
		if !errors.Is(err, schema.ErrEmptyCatalog) {
			return nil, err
		}
		i.log.Warn("indexer: nothing to group on", "table", opts.Table, "error", err)
		plan.CatalogErr = err
		return plan, nil
	}

	all, err := strategy.Generate(cat, i.cfg.Strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to generate strategies: %w", err)
	}
	plan.Strategies = all
	if len(opts.Strategies) > 0 {
		plan.Strategies, plan.Unknown = strategy.Filter(all, opts.Strategies)
		if len(plan.Unknown) > 0 {
			i.log.Warn("indexer: unknown strategies requested", "names", plan.Unknown)
		}
		if len(plan.Strategies) == 0 {
			return nil, fmt.Errorf("no generated strategy matches %v", opts.Strategies)
		}
	}

	estimator := strategy.Estimator{PricePer1KTokens: i.cfg.Model.PricePer1KTokens}
	if opts.ExactEstimates {
		plan.Estimates = i.exactEstimates(ctx, estimator, cat, plan.Strategies)
	} else {
		plan.Estimates = estimator.EstimateAll(plan.Strategies, cat)
	}

	i.log.Info("indexer: planned",
		"table", opts.Table,
		"categorical", len(cat.Categorical),
		"temporal", len(cat.Temporal),
		"numeric", len(cat.Numeric),
		"strategies", len(plan.Strategies),
		"estimated_groups", plan.Estimates.TotalGroups,
		"estimated_cost_usd", plan.Estimates.TotalCostUSD,
	)
	return plan, nil
}

func (i *Indexer) exactEstimates(ctx context.Context, e strategy.Estimator, cat *schema.Catalog, strategies []strategy.Strategy) strategy.Summary {
	counts := make([]uint64, len(strategies))
	errs := make([]error, len(strategies))

	var g errgroup.Group
	g.SetLimit(i.cfg.MaxConcurrency)
	for idx, s := range strategies {
		g.Go(func() error {
			counts[idx], errs[idx] = i.cfg.Executor.CountGroups(ctx, cat, s)
			return nil
		})
	}
	_ = g.Wait()

	var sum strategy.Summary
	for idx, s := range strategies {
		if errs[idx] != nil {
			sum.Failures = append(sum.Failures, &strategy.StrategyError{Strategy: s.Name, Err: errs[idx]})
			continue
		}
		sum.Add(e.FromGroups(s, counts[idx], strategy.BasisExact))
	}
	return sum
}
