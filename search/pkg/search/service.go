package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/malbeclabs/insights/indexer/pkg/embedding"
	"github.com/malbeclabs/insights/indexer/pkg/insight"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
	"github.com/malbeclabs/insights/indexer/pkg/store"
)

const (
	DefaultTopK = 5
	MaxTopK     = 100
)

type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
	Usage() embedding.Usage
}

type Corpus interface {
	Corpus(ctx context.Context, f store.Filter) ([]insight.Record, error)
}

type ServiceConfig struct {
	Logger   *slog.Logger
	Embedder QueryEmbedder
	Corpus   Corpus
}

func (cfg *ServiceConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Embedder == nil {
		return errors.New("embedder is required")
	}
	if cfg.Corpus == nil {
		return errors.New("corpus is required")
	}
	return nil
}

// Service answers natural-language questions against the stored records.
type Service struct {
	log *slog.Logger
	cfg ServiceConfig
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{log: cfg.Logger, cfg: cfg}, nil
}

type Query struct {
	Text          string
	TopK          int
	MinSimilarity float64
	SourceTable   string
	Strategy      string
}

// Query embeds the question, loads the matching corpus and ranks it.
func (s *Service) Query(ctx context.Context, q Query) (results []Result, err error) {
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SearchRequestsTotal.WithLabelValues(status).Inc()
		metrics.SearchDuration.Observe(time.Since(start).Seconds())
	}()

	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" {
		return nil, fmt.Errorf("%w: empty query text", ErrInvalidQuery)
	}
	if q.TopK == 0 {
		q.TopK = DefaultTopK
	}
	if q.TopK < 0 || q.TopK > MaxTopK {
		return nil, fmt.Errorf("%w: top k must be between 1 and %d", ErrInvalidQuery, MaxTopK)
	}

	corpus, err := s.cfg.Corpus.Corpus(ctx, store.Filter{SourceTable: q.SourceTable, Strategy: q.Strategy})
	if err != nil {
		return nil, err
	}
	if len(corpus) == 0 {
		s.log.Debug("search: empty corpus", "table", q.SourceTable, "strategy", q.Strategy)
		return nil, nil
	}

	vec, err := s.cfg.Embedder.EmbedOne(ctx, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err = Search(vec, corpus, Options{TopK: q.TopK, MinSimilarity: q.MinSimilarity, SourceTable: q.SourceTable})
	if err != nil {
		return nil, err
	}
	s.log.Debug("search: ranked", "corpus", len(corpus), "results", len(results))
	return results, nil
}

func (s *Service) Usage() embedding.Usage {
	return s.cfg.Embedder.Usage()
}
