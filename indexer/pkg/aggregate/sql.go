package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/schema"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

// Result columns live under a reserved prefix: a ClickHouse alias shadows any
// source column of the same name.
const aliasPrefix = "__insights_"

const recordCountAlias = aliasPrefix + "record_count"

func keyAlias(k strategy.GroupKey) string { return aliasPrefix + "key_" + k.Alias() }

func aggAlias(a strategy.Aggregate) string { return aliasPrefix + a.Alias() }

// Query is a built aggregation statement plus what is needed to read it back.
type Query struct {
	SQL        string
	Args       []any
	KeyAliases []string
	Numeric    []string
}

// Build renders the GROUP BY statement for s over the catalog's table. Rows
// whose group key is NULL or empty are left out.
func Build(cat *schema.Catalog, s strategy.Strategy) (Query, error) {
	if cat == nil {
		return Query{}, errors.New("catalog is required")
	}
	if err := clickhouse.ValidateTableName(cat.Table); err != nil {
		return Query{}, err
	}
	if len(s.GroupKeys) == 0 {
		return Query{}, fmt.Errorf("strategy %s has no group keys", s.Name)
	}

	var (
		selects []string
		groupBy []string
		where   []string
		aliases []string
	)
	for _, k := range s.GroupKeys {
		col, ok := cat.Column(k.Column)
		if !ok {
			return Query{}, fmt.Errorf("strategy %s: unknown column %q", s.Name, k.Column)
		}
		expr, err := keyExpr(k, col)
		if err != nil {
			return Query{}, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		alias := clickhouse.QuoteIdentifier(keyAlias(k))
		selects = append(selects, expr+" AS "+alias)
		groupBy = append(groupBy, alias)
		aliases = append(aliases, keyAlias(k))
		where = append(where, keyFilters(col)...)
	}

	selects = append(selects, "count() AS "+clickhouse.QuoteIdentifier(recordCountAlias))

	numeric := s.NumericColumns()
	for _, name := range numeric {
		if _, ok := cat.Column(name); !ok {
			return Query{}, fmt.Errorf("strategy %s: unknown column %q", s.Name, name)
		}
	}
	for _, a := range withCounts(s.Aggregates, numeric) {
		expr, err := aggExpr(a)
		if err != nil {
			return Query{}, fmt.Errorf("strategy %s: %w", s.Name, err)
		}
		selects = append(selects, expr+" AS "+clickhouse.QuoteIdentifier(aggAlias(a)))
	}

	var b strings.Builder
	b.WriteString("SELECT\n\t")
	b.WriteString(strings.Join(selects, ",\n\t"))
	b.WriteString("\nFROM ")
	b.WriteString(clickhouse.QuoteTable(cat.Table))
	if len(where) > 0 {
		b.WriteString("\nWHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString("\nGROUP BY ")
	b.WriteString(strings.Join(groupBy, ", "))
	b.WriteString("\nHAVING " + clickhouse.QuoteIdentifier(recordCountAlias) + " >= ?")
	b.WriteString("\nORDER BY " + clickhouse.QuoteIdentifier(recordCountAlias) + " DESC, ")
	b.WriteString(strings.Join(groupBy, ", "))

	return Query{
		SQL:        b.String(),
		Args:       []any{max(s.MinRecordsPerGroup, 0)},
		KeyAliases: aliases,
		Numeric:    numeric,
	}, nil
}

// BuildCount wraps the aggregation so only the number of surviving groups is
// returned.
func BuildCount(cat *schema.Catalog, s strategy.Strategy) (Query, error) {
	q, err := Build(cat, s)
	if err != nil {
		return Query{}, err
	}
	q.SQL = "SELECT count() FROM (\n" + q.SQL + "\n)"
	return q, nil
}

func keyExpr(k strategy.GroupKey, c schema.Column) (string, error) {
	col := clickhouse.QuoteIdentifier(k.Column)
	switch k.Transform {
	case strategy.TransformNone:
		return col, nil
	case strategy.TransformHourOfDay:
		// toHour only takes DateTime; a Date lands in the 00:00 bucket.
		if isDateOnly(c.DeclaredType) {
			return "toHour(toDateTime(" + col + "))", nil
		}
		return "toHour(" + col + ")", nil
	case strategy.TransformDayOfWeek:
		// Monday is 0.
		return "toDayOfWeek(" + col + ") - 1", nil
	case strategy.TransformMonth:
		return "toMonth(" + col + ")", nil
	case strategy.TransformDayOfMonth:
		return "toDayOfMonth(" + col + ")", nil
	default:
		return "", fmt.Errorf("unknown transform %q", k.Transform)
	}
}

func isDateOnly(declared string) bool {
	switch strings.ToLower(schema.BaseType(declared)) {
	case "date", "date32":
		return true
	}
	return false
}

func keyFilters(col schema.Column) []string {
	q := clickhouse.QuoteIdentifier(col.Name)
	var out []string
	if col.Nullable || schema.IsNullableType(col.DeclaredType) {
		out = append(out, "isNotNull("+q+")")
	}
	if schema.IsStringLikeType(col.DeclaredType) {
		out = append(out, q+" != ''")
	}
	return out
}

func aggExpr(a strategy.Aggregate) (string, error) {
	v := "toFloat64(" + clickhouse.QuoteIdentifier(a.Column) + ")"
	switch a.Func {
	case strategy.FuncAvg:
		return "avg(" + v + ")", nil
	case strategy.FuncMedian:
		return "quantileTDigest(0.5)(" + v + ")", nil
	case strategy.FuncMin:
		return "min(" + v + ")", nil
	case strategy.FuncMax:
		return "max(" + v + ")", nil
	case strategy.FuncCount:
		return "count(" + clickhouse.QuoteIdentifier(a.Column) + ")", nil
	case strategy.FuncStddev:
		return "stddevPop(" + v + ")", nil
	default:
		return "", fmt.Errorf("unknown aggregate function %q", a.Func)
	}
}

// withCounts makes sure every numeric column has a count aggregate, which is
// how an all-NULL column is told apart from a real zero.
func withCounts(aggs []strategy.Aggregate, numeric []string) []strategy.Aggregate {
	has := make(map[string]bool)
	for _, a := range aggs {
		if a.Func == strategy.FuncCount {
			has[a.Column] = true
		}
	}
	out := append([]strategy.Aggregate(nil), aggs...)
	for _, col := range numeric {
		if !has[col] {
			out = append(out, strategy.Aggregate{Column: col, Func: strategy.FuncCount})
		}
	}
	return out
}
