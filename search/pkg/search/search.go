package search

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/malbeclabs/insights/indexer/pkg/insight"
)

var ErrInvalidQuery = errors.New("invalid query")

// DimensionMismatchError is returned when the query vector and a corpus
// vector have different lengths.
type DimensionMismatchError struct {
	RecordID string
	Query    int
	Record   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: query has %d dimensions, record %s has %d", e.Query, e.RecordID, e.Record)
}

type Options struct {
	TopK          int
	MinSimilarity float64
	// SourceTable restricts the search to records from one table when set.
	SourceTable string
}

type Result struct {
	Record     insight.Record
	Similarity float64
	Distance   float64
}

// Search ranks the corpus against the query by cosine similarity. Ties keep
// corpus order. Fewer than TopK results is not an error.
func Search(query []float32, corpus []insight.Record, opts Options) ([]Result, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidQuery)
	}
	if opts.TopK <= 0 {
		return nil, fmt.Errorf("%w: top k must be positive, got %d", ErrInvalidQuery, opts.TopK)
	}

	qnorm := norm(query)
	results := make([]Result, 0, len(corpus))
	for _, rec := range corpus {
		if opts.SourceTable != "" && rec.SourceTable != opts.SourceTable {
			continue
		}
		if len(rec.Embedding) != len(query) {
			return nil, &DimensionMismatchError{RecordID: rec.ID, Query: len(query), Record: len(rec.Embedding)}
		}
		sim := cosine(query, qnorm, rec.Embedding)
		if sim < opts.MinSimilarity {
			continue
		}
		results = append(results, Result{Record: rec, Similarity: sim, Distance: 1 - sim})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}
	return results, nil
}

// CosineSimilarity returns the cosine similarity of two equal-length vectors,
// or 0 when either has zero magnitude.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Query: len(a), Record: len(b)}
	}
	return cosine(a, norm(a), b), nil
}

func cosine(a []float32, anorm float64, b []float32) float64 {
	bnorm := norm(b)
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (anorm * bnorm)
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
