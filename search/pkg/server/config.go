package server

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/search/pkg/search"
)

const (
	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
	DefaultRateLimit         = rate.Limit(100.0 / 60.0)
	DefaultRateBurst         = 20
)

// VersionInfo contains build-time version information.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

type Searcher interface {
	Query(ctx context.Context, q search.Query) ([]search.Result, error)
}

type Summarizer interface {
	Summary(ctx context.Context, f store.Filter) ([]store.SummaryRow, error)
}

type Config struct {
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
	VersionInfo       VersionInfo

	Searcher   Searcher
	Summarizer Summarizer
	// Ready reports whether the backing store is reachable. Nil means always ready.
	Ready func(ctx context.Context) error

	AllowedOrigins []string
	// RateLimit and RateBurst apply per client IP to /api routes.
	RateLimit rate.Limit
	RateBurst int
}

func (cfg *Config) Validate() error {
	if cfg.ListenAddr == "" {
		return errors.New("listen addr is required")
	}
	if cfg.Searcher == nil {
		return errors.New("searcher is required")
	}
	if cfg.Summarizer == nil {
		return errors.New("summarizer is required")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = DefaultReadHeaderTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = DefaultRateBurst
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return nil
}
