package config

import (
	"fmt"
	"time"

	flag "github.com/spf13/pflag"
)

// Loader binds configuration flags to a FlagSet and resolves the final
// Config as: defaults < YAML file < explicitly set flags < environment.
type Loader struct {
	fs      *flag.FlagSet
	flags   Config
	copies  map[string]func(dst *Config)
	path    string
	envFile string
}

func NewLoader(fs *flag.FlagSet) *Loader {
	l := &Loader{fs: fs, flags: Default(), copies: make(map[string]func(*Config))}
	fs.StringVar(&l.path, "config", "", "YAML config file")
	fs.StringVar(&l.envFile, "env-file", "", "env file to read (default .env when present)")
	return l
}

func bind[T any](l *Loader, name string, register func(p *T, name string, value T, usage string), field func(*Config) *T, usage string) {
	p := field(&l.flags)
	register(p, name, *p, usage)
	l.copies[name] = func(dst *Config) { *field(dst) = *field(&l.flags) }
}

func (l *Loader) ClickHouseFlags() *Loader {
	bind(l, "clickhouse-addr", l.fs.StringVar, func(c *Config) *string { return &c.ClickHouse.Addr },
		"ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	bind(l, "clickhouse-database", l.fs.StringVar, func(c *Config) *string { return &c.ClickHouse.Database },
		"ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	bind(l, "clickhouse-username", l.fs.StringVar, func(c *Config) *string { return &c.ClickHouse.Username },
		"ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	bind(l, "clickhouse-password", l.fs.StringVar, func(c *Config) *string { return &c.ClickHouse.Password },
		"ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	bind(l, "clickhouse-secure", l.fs.BoolVar, func(c *Config) *bool { return &c.ClickHouse.Secure },
		"Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE env var)")
	bind(l, "clickhouse-max-execution-time", l.fs.DurationVar, func(c *Config) *time.Duration { return &c.ClickHouse.MaxExecutionTime },
		"server-side query time limit")
	bind(l, "embeddings-table", l.fs.StringVar, func(c *Config) *string { return &c.Storage.Table },
		"table holding embedded records (or set EMBEDDINGS_TABLE env var)")
	bind(l, "runs-table", l.fs.StringVar, func(c *Config) *string { return &c.Storage.RunsTable },
		"table holding the pipeline run log")
	return l
}

func (l *Loader) EmbeddingFlags() *Loader {
	bind(l, "embedding-model", l.fs.StringVar, func(c *Config) *string { return &c.Embedding.Model },
		"embedding model (or set EMBEDDING_MODEL env var)")
	bind(l, "embedding-batch-size", l.fs.IntVar, func(c *Config) *int { return &c.Embedding.BatchSize },
		"texts per embedding request (or set EMBEDDING_BATCH_SIZE env var)")
	bind(l, "embedding-max-in-flight", l.fs.IntVar, func(c *Config) *int { return &c.Embedding.MaxInFlight },
		"concurrent embedding requests")
	bind(l, "embedding-rps", l.fs.Float64Var, func(c *Config) *float64 { return &c.Embedding.RequestsPerSecond },
		"embedding requests per second, 0 for unlimited")
	bind(l, "embedding-max-attempts", l.fs.IntVar, func(c *Config) *int { return &c.Embedding.MaxAttempts },
		"attempts per embedding batch before giving up")
	bind(l, "openai-base-url", l.fs.StringVar, func(c *Config) *string { return &c.Embedding.OpenAIBaseURL },
		"OpenAI-compatible API base URL (or set OPENAI_BASE_URL env var)")
	return l
}

func (l *Loader) PipelineFlags() *Loader {
	bind(l, "min-records", l.fs.IntVar, func(c *Config) *int { return &c.Pipeline.MinRecordsPerGroup },
		"minimum records per group (or set MIN_RECORDS_PER_GROUP env var)")
	bind(l, "max-dimension-pairs", l.fs.IntVar, func(c *Config) *int { return &c.Pipeline.MaxDimensionPairs },
		"maximum pair strategies, 0 disables pairs (or set MAX_DIMENSION_PAIRS env var)")
	bind(l, "cardinality-ceiling", l.fs.Uint64Var, func(c *Config) *uint64 { return &c.Pipeline.CardinalityCeiling },
		"largest distinct count for a categorical column")
	bind(l, "granularities", l.fs.StringSliceVar, func(c *Config) *[]string { return &c.Pipeline.Granularities },
		"temporal granularities (hour, day_of_week, month, day_of_month)")
	bind(l, "exclude-columns", l.fs.StringSliceVar, func(c *Config) *[]string { return &c.Pipeline.ExcludeColumns },
		"columns never used as dimensions or measures")
	bind(l, "max-concurrency", l.fs.IntVar, func(c *Config) *int { return &c.Pipeline.MaxConcurrency },
		"strategies executed in parallel")
	bind(l, "probe-concurrency", l.fs.IntVar, func(c *Config) *int { return &c.Pipeline.ProbeConcurrency },
		"concurrent cardinality probes")
	bind(l, "cost-confirm-threshold", l.fs.Float64Var, func(c *Config) *float64 { return &c.Pipeline.CostConfirmThreshold },
		"estimated USD cost above which the run asks for confirmation")
	bind(l, "write-batch-size", l.fs.IntVar, func(c *Config) *int { return &c.Storage.WriteBatchSize },
		"records per ClickHouse insert batch")
	bind(l, "sentry-dsn", l.fs.StringVar, func(c *Config) *string { return &c.SentryDSN },
		"Sentry DSN (or set SENTRY_DSN env var)")
	bind(l, "metrics-addr", l.fs.StringVar, func(c *Config) *string { return &c.MetricsAddr },
		"address to serve Prometheus metrics on (or set METRICS_ADDR env var)")
	return l
}

// Load resolves the configuration. Call it after the FlagSet is parsed.
func (l *Loader) Load() (*Config, error) {
	return l.load(nil)
}

func (l *Loader) load(getenv func(string) string) (*Config, error) {
	cfg := Default()
	if l.path != "" {
		if err := LoadFile(l.path, &cfg); err != nil {
			return nil, err
		}
	}

	l.fs.Visit(func(f *flag.Flag) {
		if apply, ok := l.copies[f.Name]; ok {
			apply(&cfg)
		}
	})

	if getenv == nil {
		dotenv, err := ReadDotEnv(l.envFile)
		if err != nil {
			return nil, err
		}
		getenv = Getenv(dotenv)
	}
	if err := ApplyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
