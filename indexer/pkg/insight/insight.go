package insight

import "time"

// Stats holds the aggregates computed for one numeric column within a group.
type Stats struct {
	Avg    float64
	Median float64
	Min    float64
	Max    float64
	Stddev float64
	Count  uint64

	// MedianApproximate is set when Median came from a streaming quantile
	// estimator rather than an exact sort.
	MedianApproximate bool
}

// HasData reports whether at least one non-null value contributed to the stats.
func (s Stats) HasData() bool {
	return s.Count > 0
}

// Group is one row produced by executing a strategy: the group key values in
// strategy key order, the per-numeric-column stats, and the number of source
// rows that fell into the group.
type Group struct {
	Keys        []any
	Stats       map[string]Stats
	RecordCount uint64
}

// Record is a stored, embedded group summary.
type Record struct {
	ID           string
	StrategyName string
	SummaryText  string
	Embedding    []float32
	Metadata     map[string]any
	SourceTable  string
	RecordCount  uint64
	Model        string
	CreatedAt    time.Time
}
