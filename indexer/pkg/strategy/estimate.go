package strategy

import (
	"fmt"
	"math"

	"github.com/malbeclabs/insights/indexer/pkg/schema"
)

const (
	DefaultGroupOverheadTokens    = 40
	DefaultTokensPerNumericColumn = 20
	DefaultFallbackGroups         = 100
	DefaultMaxGroupsWarning       = 10_000
)

// Basis records how an estimated group count was derived.
type Basis string

const (
	BasisDistinct Basis = "distinct"
	BasisFallback Basis = "fallback"
	BasisProduct  Basis = "product"
	BasisCapped   Basis = "capped"
	BasisBuckets  Basis = "buckets"
	BasisExact    Basis = "exact"
)

// Estimate is advisory work sizing for one strategy. It is never used to
// skip execution.
type Estimate struct {
	StrategyName string
	Groups       uint64
	Tokens       uint64
	CostUSD      float64
	Basis        Basis
	Warnings     []string
}

type Estimator struct {
	// PricePer1KTokens is the embedding model's published rate.
	PricePer1KTokens       float64
	GroupOverheadTokens    uint64
	TokensPerNumericColumn uint64
	// FallbackGroups stands in for a distinct count that is not known.
	FallbackGroups   uint64
	MaxGroupsWarning uint64
}

func (e Estimator) withDefaults() Estimator {
	if e.GroupOverheadTokens == 0 {
		e.GroupOverheadTokens = DefaultGroupOverheadTokens
	}
	if e.TokensPerNumericColumn == 0 {
		e.TokensPerNumericColumn = DefaultTokensPerNumericColumn
	}
	if e.FallbackGroups == 0 {
		e.FallbackGroups = DefaultFallbackGroups
	}
	if e.MaxGroupsWarning == 0 {
		e.MaxGroupsWarning = DefaultMaxGroupsWarning
	}
	return e
}

// Estimate sizes one strategy from catalog statistics alone.
func (e Estimator) Estimate(s Strategy, cat *schema.Catalog) (Estimate, error) {
	if cat == nil {
		return Estimate{}, fmt.Errorf("strategy %s: catalog is required", s.Name)
	}
	if len(s.GroupKeys) == 0 {
		return Estimate{}, fmt.Errorf("strategy %s: no group keys", s.Name)
	}

	var groups uint64 = 1
	basis := BasisDistinct
	for _, k := range s.GroupKeys {
		if _, ok := cat.Column(k.Column); !ok {
			return Estimate{}, fmt.Errorf("strategy %s: column %q is not in the catalog", s.Name, k.Column)
		}
		if !k.Transform.Valid() {
			return Estimate{}, fmt.Errorf("strategy %s: unknown transform %q on column %q", s.Name, k.Transform, k.Column)
		}

		var n uint64
		switch {
		case k.Transform != TransformNone:
			n = uint64(k.Transform.Buckets())
			basis = BasisBuckets
		default:
			d, ok := cat.DistinctCount(k.Column)
			if ok {
				n = d
			} else {
				n = e.withDefaults().FallbackGroups
				basis = BasisFallback
			}
		}
		groups = saturatingMul(groups, n)
	}

	if len(s.GroupKeys) > 1 && basis == BasisDistinct {
		basis = BasisProduct
	}
	if len(s.GroupKeys) > 1 && cat.RowCount > 0 && groups > cat.RowCount {
		groups = cat.RowCount
		basis = BasisCapped
	}

	return e.FromGroups(s, groups, basis), nil
}

// FromGroups builds an estimate for a known group count, e.g. one obtained by
// running a COUNT over the grouping.
func (e Estimator) FromGroups(s Strategy, groups uint64, basis Basis) Estimate {
	e = e.withDefaults()
	perGroup := e.GroupOverheadTokens + e.TokensPerNumericColumn*uint64(len(s.NumericColumns()))
	tokens := saturatingMul(groups, perGroup)

	est := Estimate{
		StrategyName: s.Name,
		Groups:       groups,
		Tokens:       tokens,
		CostUSD:      float64(tokens) / 1000 * e.PricePer1KTokens,
		Basis:        basis,
	}
	if groups > e.MaxGroupsWarning {
		est.Warnings = append(est.Warnings, fmt.Sprintf("too many groups: %d exceeds %d", groups, e.MaxGroupsWarning))
	}
	if groups < 2 {
		est.Warnings = append(est.Warnings, fmt.Sprintf("too few groups: %d", groups))
	}
	return est
}

// StrategyError ties an estimation failure to its strategy.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return e.Err.Error()
}

func (e *StrategyError) Unwrap() error {
	return e.Err
}

type Summary struct {
	Estimates    []Estimate
	Failures     []*StrategyError
	TotalGroups  uint64
	TotalTokens  uint64
	TotalCostUSD float64
}

// EstimateAll estimates every strategy independently; a failure for one
// strategy is recorded and does not affect the others.
func (e Estimator) EstimateAll(strategies []Strategy, cat *schema.Catalog) Summary {
	var sum Summary
	for _, s := range strategies {
		est, err := e.Estimate(s, cat)
		if err != nil {
			sum.Failures = append(sum.Failures, &StrategyError{Strategy: s.Name, Err: err})
			continue
		}
		sum.Add(est)
	}
	return sum
}

// Add appends an estimate and updates the totals.
func (sum *Summary) Add(est Estimate) {
	sum.Estimates = append(sum.Estimates, est)
	sum.TotalGroups = saturatingAdd(sum.TotalGroups, est.Groups)
	sum.TotalTokens = saturatingAdd(sum.TotalTokens, est.Tokens)
	sum.TotalCostUSD += est.CostUSD
}

func saturatingMul(a, b uint64) uint64 {
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxUint64/b {
		return math.MaxUint64
	}
	return a * b
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
