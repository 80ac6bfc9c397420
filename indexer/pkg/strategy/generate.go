package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/insights/indexer/pkg/schema"
)

const (
	DefaultMinRecordsPerGroup = 10
	DefaultMaxDimensionPairs  = 10
)

// DefaultGranularities are the temporal strategies generated per temporal column.
var DefaultGranularities = []Transform{TransformHourOfDay, TransformDayOfWeek, TransformMonth}

type Config struct {
	MinRecordsPerGroup int
	// MaxDimensionPairs caps the number of pair strategies. Zero disables pairs.
	MaxDimensionPairs int
	Granularities     []Transform
	Funcs             []Func
}

func DefaultConfig() Config {
	return Config{
		MinRecordsPerGroup: DefaultMinRecordsPerGroup,
		MaxDimensionPairs:  DefaultMaxDimensionPairs,
		Granularities:      DefaultGranularities,
		Funcs:              DefaultFuncs,
	}
}

func (cfg *Config) Validate() error {
	if cfg.MinRecordsPerGroup < 0 {
		return errors.New("min records per group must be non-negative")
	}
	if cfg.MaxDimensionPairs < 0 {
		return errors.New("max dimension pairs must be non-negative")
	}
	if len(cfg.Granularities) == 0 {
		cfg.Granularities = DefaultGranularities
	}
	if len(cfg.Funcs) == 0 {
		cfg.Funcs = DefaultFuncs
	}
	for _, g := range cfg.Granularities {
		if g == TransformNone || !g.Valid() {
			return fmt.Errorf("invalid granularity %q", g)
		}
	}
	return nil
}

// Generate derives the strategy list for a catalog: one per categorical
// column, then categorical pairs in declaration order up to the cap, then
// one per temporal column and granularity. The output is identical for
// identical inputs.
func Generate(cat *schema.Catalog, cfg Config) ([]Strategy, error) {
	if cat == nil {
		return nil, errors.New("catalog is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	aggregates := make([]Aggregate, 0, len(cat.Numeric)*len(cfg.Funcs))
	for _, col := range cat.Numeric {
		for _, fn := range cfg.Funcs {
			aggregates = append(aggregates, Aggregate{Column: col.Name, Func: fn})
		}
	}

	var out []Strategy
	origins := make(map[string]string)
	add := func(s Strategy, origin string) error {
		if prev, ok := origins[s.Name]; ok {
			return &NameCollisionError{Name: s.Name, First: prev, Second: origin}
		}
		origins[s.Name] = origin
		s.Aggregates = append([]Aggregate(nil), aggregates...)
		s.MinRecordsPerGroup = cfg.MinRecordsPerGroup
		out = append(out, s)
		return nil
	}

	for _, col := range cat.Categorical {
		s := Strategy{
			Name:      "by_" + col.Name,
			Kind:      KindSingle,
			GroupKeys: []GroupKey{{Column: col.Name}},
		}
		if err := add(s, fmt.Sprintf("column %q", col.Name)); err != nil {
			return nil, err
		}
	}

	pairs := 0
pairLoop:
	for i := 0; i < len(cat.Categorical); i++ {
		for j := i + 1; j < len(cat.Categorical); j++ {
			if pairs >= cfg.MaxDimensionPairs {
				break pairLoop
			}
			a, b := cat.Categorical[i].Name, cat.Categorical[j].Name
			s := Strategy{
				Name:      "by_" + a + "_and_" + b,
				Kind:      KindPair,
				GroupKeys: []GroupKey{{Column: a}, {Column: b}},
			}
			if err := add(s, fmt.Sprintf("pair %q and %q", a, b)); err != nil {
				return nil, err
			}
			pairs++
		}
	}

	for _, col := range cat.Temporal {
		for _, g := range cfg.Granularities {
			s := Strategy{
				Name:      "by_" + col.Name + "_" + string(g),
				Kind:      KindTemporal,
				GroupKeys: []GroupKey{{Column: col.Name, Transform: g}},
			}
			if err := add(s, fmt.Sprintf("column %q by %s", col.Name, g.Label())); err != nil {
				return nil, err
			}
		}
	}

	return out, nil
}

// Filter keeps the strategies whose names are listed, in generated order,
// and returns the requested names that matched nothing. An empty names list
// keeps everything.
func Filter(strategies []Strategy, names []string) ([]Strategy, []string) {
	if len(names) == 0 {
		return strategies, nil
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			want[n] = true
		}
	}
	var kept []Strategy
	for _, s := range strategies {
		if want[s.Name] {
			kept = append(kept, s)
			delete(want, s.Name)
		}
	}
	var unknown []string
	for _, n := range names {
		n = strings.TrimSpace(n)
		if want[n] {
			unknown = append(unknown, n)
			delete(want, n)
		}
	}
	return kept, unknown
}

// ParseNames splits a comma separated strategy list.
func ParseNames(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
