package embedding

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Provider turns a batch of texts into vectors, one per text in input order.
type Provider interface {
	Name() string
	Embed(ctx context.Context, model Model, texts []string) (*Response, error)
}

type Response struct {
	Vectors [][]float32
	// Tokens is what the provider billed for the batch, or an estimate when
	// the provider does not report usage.
	Tokens int64
}

// ProviderError wraps a provider failure with the batch it belongs to.
type ProviderError struct {
	Provider string
	Model    string
	Batch    int
	Status   int
	Wait     time.Duration
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s %s batch %d: status %d: %v", e.Provider, e.Model, e.Batch, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s batch %d: %v", e.Provider, e.Model, e.Batch, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StatusCode is zero when the failure happened before an HTTP response.
func (e *ProviderError) StatusCode() int { return e.Status }

// RetryAfter is the server-requested wait, if any.
func (e *ProviderError) RetryAfter() time.Duration { return e.Wait }

func parseRetryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// estimateTokens approximates four characters per token.
func estimateTokens(texts []string) int64 {
	var chars int
	for _, t := range texts {
		chars += len(t)
	}
	return int64((chars + 3) / 4)
}
