package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/malbeclabs/insights/indexer/pkg/metrics"
	"github.com/malbeclabs/insights/utils/pkg/retry"
)

const (
	DefaultBatchSize   = 100
	DefaultMaxInFlight = 4
)

var ErrEmptyText = errors.New("cannot embed empty text")

type Config struct {
	Logger   *slog.Logger
	Provider Provider
	Model    Model

	BatchSize   int
	MaxInFlight int
	// RequestsPerSecond caps provider calls across all batches. Zero means
	// unlimited.
	RequestsPerSecond float64
	Retry             retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Provider == nil {
		return errors.New("embedding provider is required")
	}
	if cfg.Model.Name == "" || cfg.Model.Dimensions <= 0 {
		return errors.New("embedding model with dimensions is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Usage accumulates what the client has spent so far.
type Usage struct {
	Model      string
	Dimensions int
	Requests   int64
	Retries    int64
	Texts      int64
	Tokens     int64
	CostUSD    float64
}

// DimensionError reports a vector whose length does not match the model.
type DimensionError struct {
	Model string
	Want  int
	Got   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("model %s returned a %d-dimensional vector, expected %d", e.Model, e.Got, e.Want)
}

// Client batches texts over a Provider, keeping output order equal to input
// order. It is safe for concurrent use.
type Client struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter

	mu    sync.Mutex
	usage Usage
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		usage:   Usage{Model: cfg.Model.Name, Dimensions: cfg.Model.Dimensions},
	}, nil
}

func (c *Client) Model() Model { return c.cfg.Model }

func (c *Client) Usage() Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.usage
}

// EmbedOne embeds a single text.
func (c *Client) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	out, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// Embed returns one vector per text. The first failing batch cancels the rest.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out, _, err := c.EmbedWithTokens(ctx, texts)
	return out, err
}

// EmbedWithTokens is Embed that also reports the tokens billed for this call.
func (c *Client) EmbedWithTokens(ctx context.Context, texts []string) ([][]float32, int64, error) {
	if len(texts) == 0 {
		return nil, 0, nil
	}
	for i, t := range texts {
		if t == "" {
			return nil, 0, fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
	}

	out := make([][]float32, len(texts))
	var tokens atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.MaxInFlight)
	for batch, start := 0, 0; start < len(texts); batch, start = batch+1, start+c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(texts))
		g.Go(func() error {
			vecs, n, err := c.embedBatch(gctx, batch, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			tokens.Add(n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return out, tokens.Load(), nil
}

func (c *Client) embedBatch(ctx context.Context, batch int, texts []string) ([][]float32, int64, error) {
	provider, model := c.cfg.Provider.Name(), c.cfg.Model

	span := sentry.StartSpan(ctx, "gen_ai.embeddings", sentry.WithDescription(fmt.Sprintf("embeddings %s", model.Name)))
	span.SetData("gen_ai.operation.name", "embeddings")
	span.SetData("gen_ai.request.model", model.Name)
	span.SetData("gen_ai.system", provider)
	span.SetData("batch.size", len(texts))
	ctx = span.Context()
	defer span.Finish()

	retryCfg := c.cfg.Retry
	retryCfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.mu.Lock()
		c.usage.Retries++
		c.mu.Unlock()
		metrics.EmbeddingRetriesTotal.WithLabelValues(provider, model.Name).Inc()
		c.log.Warn("embedding: retrying batch", "batch", batch, "attempt", attempt, "wait", wait, "error", err)
	}

	var resp *Response
	err := retry.Do(ctx, retryCfg, func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		r, err := c.cfg.Provider.Embed(ctx, model, texts)
		metrics.EmbeddingRequestDuration.WithLabelValues(provider, model.Name).Observe(time.Since(start).Seconds())
		c.mu.Lock()
		c.usage.Requests++
		c.mu.Unlock()
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model.Name, "error").Inc()
			var pe *ProviderError
			if errors.As(err, &pe) {
				pe.Batch = batch
			}
			return err
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues(provider, model.Name, "success").Inc()
		resp = r
		return nil
	})
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, 0, fmt.Errorf("embedding batch %d: %w", batch, err)
	}

	if len(resp.Vectors) != len(texts) {
		span.Status = sentry.SpanStatusInternalError
		return nil, 0, fmt.Errorf("embedding batch %d: provider returned %d vectors for %d texts", batch, len(resp.Vectors), len(texts))
	}
	for _, v := range resp.Vectors {
		if len(v) != model.Dimensions {
			span.Status = sentry.SpanStatusInternalError
			return nil, 0, &DimensionError{Model: model.Name, Want: model.Dimensions, Got: len(v)}
		}
	}

	c.mu.Lock()
	c.usage.Texts += int64(len(texts))
	c.usage.Tokens += resp.Tokens
	c.usage.CostUSD += model.Cost(resp.Tokens)
	c.mu.Unlock()
	metrics.EmbeddingTokensTotal.WithLabelValues(provider, model.Name).Add(float64(resp.Tokens))
	span.SetData("gen_ai.usage.input_tokens", resp.Tokens)

	return resp.Vectors, resp.Tokens, nil
}
