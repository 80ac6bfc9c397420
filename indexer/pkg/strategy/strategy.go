package strategy

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindSingle   Kind = "single"
	KindPair     Kind = "pair"
	KindTemporal Kind = "temporal"
)

// Transform is applied to a group key column before grouping.
type Transform string

const (
	TransformNone       Transform = ""
	TransformHourOfDay  Transform = "hour"
	TransformDayOfWeek  Transform = "day_of_week"
	TransformMonth      Transform = "month"
	TransformDayOfMonth Transform = "day_of_month"
)

// Buckets is the fixed number of distinct values a temporal transform can
// produce, or zero for TransformNone.
func (t Transform) Buckets() int {
	switch t {
	case TransformHourOfDay:
		return 24
	case TransformDayOfWeek:
		return 7
	case TransformMonth:
		return 12
	case TransformDayOfMonth:
		return 31
	default:
		return 0
	}
}

func (t Transform) Valid() bool {
	return t == TransformNone || t.Buckets() > 0
}

// Label is the human readable granularity used in rendered text.
func (t Transform) Label() string {
	switch t {
	case TransformHourOfDay:
		return "hour of day"
	case TransformDayOfWeek:
		return "day of week"
	case TransformMonth:
		return "month"
	case TransformDayOfMonth:
		return "day of month"
	default:
		return ""
	}
}

type GroupKey struct {
	Column    string
	Transform Transform
}

// Alias is the result column name the key is selected as.
func (k GroupKey) Alias() string {
	if k.Transform == TransformNone {
		return k.Column
	}
	return k.Column + "_" + string(k.Transform)
}

type Func string

const (
	FuncAvg    Func = "avg"
	FuncMedian Func = "median"
	FuncMin    Func = "min"
	FuncMax    Func = "max"
	FuncCount  Func = "count"
	FuncStddev Func = "stddev"
)

// DefaultFuncs is the aggregate set computed for every numeric column. The
// median is approximate.
var DefaultFuncs = []Func{FuncAvg, FuncMedian, FuncMin, FuncMax, FuncCount, FuncStddev}

type Aggregate struct {
	Column string
	Func   Func
}

// Alias is the result column name the aggregate is selected as.
func (a Aggregate) Alias() string {
	return string(a.Func) + "_" + a.Column
}

// Strategy is a declarative GROUP BY plus aggregates. Strategies are value
// objects regenerated on every run; only Name identifies them.
type Strategy struct {
	Name               string
	Kind               Kind
	GroupKeys          []GroupKey
	Aggregates         []Aggregate
	MinRecordsPerGroup int
}

// NumericColumns returns the aggregated columns in first-seen order.
func (s Strategy) NumericColumns() []string {
	var cols []string
	seen := make(map[string]bool)
	for _, a := range s.Aggregates {
		if !seen[a.Column] {
			seen[a.Column] = true
			cols = append(cols, a.Column)
		}
	}
	return cols
}

// Description is a one line summary for strategy listings.
func (s Strategy) Description() string {
	keys := make([]string, len(s.GroupKeys))
	for i, k := range s.GroupKeys {
		if k.Transform == TransformNone {
			keys[i] = k.Column
		} else {
			keys[i] = fmt.Sprintf("%s (%s)", k.Column, k.Transform.Label())
		}
	}
	return fmt.Sprintf("group by %s, %d numeric column(s), min %d records per group",
		strings.Join(keys, " and "), len(s.NumericColumns()), s.MinRecordsPerGroup)
}

// NameCollisionError is returned when two generated strategies share a name.
type NameCollisionError struct {
	Name   string
	First  string
	Second string
}

func (e *NameCollisionError) Error() string {
	return fmt.Sprintf("strategy name collision: %q is produced by both %s and %s", e.Name, e.First, e.Second)
}
