package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/embedding"
	"github.com/malbeclabs/insights/indexer/pkg/indexer"
	"github.com/malbeclabs/insights/indexer/pkg/schema"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
)

type ClickHouse struct {
	Addr             string        `yaml:"addr"`
	Database         string        `yaml:"database"`
	Username         string        `yaml:"username"`
	Password         string        `yaml:"-"`
	Secure           bool          `yaml:"secure"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
}

type Embedding struct {
	Model             string  `yaml:"model"`
	BatchSize         int     `yaml:"batch_size"`
	MaxInFlight       int     `yaml:"max_in_flight"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	MaxAttempts       int     `yaml:"max_attempts"`
	OpenAIBaseURL     string  `yaml:"openai_base_url"`

	// Credentials only come from the environment.
	OpenAIAPIKey string `yaml:"-"`
	GeminiAPIKey string `yaml:"-"`
}

type Pipeline struct {
	MinRecordsPerGroup   int      `yaml:"min_records_per_group"`
	MaxDimensionPairs    int      `yaml:"max_dimension_pairs"`
	CardinalityCeiling   uint64   `yaml:"cardinality_ceiling"`
	Granularities        []string `yaml:"granularities"`
	ExcludeColumns       []string `yaml:"exclude_columns"`
	MaxConcurrency       int      `yaml:"max_concurrency"`
	ProbeConcurrency     int      `yaml:"probe_concurrency"`
	CostConfirmThreshold float64  `yaml:"cost_confirm_threshold"`
}

type Storage struct {
	Table          string `yaml:"table"`
	RunsTable      string `yaml:"runs_table"`
	WriteBatchSize int    `yaml:"write_batch_size"`
}

type Config struct {
	ClickHouse  ClickHouse `yaml:"clickhouse"`
	Embedding   Embedding  `yaml:"embedding"`
	Pipeline    Pipeline   `yaml:"pipeline"`
	Storage     Storage    `yaml:"storage"`
	SentryDSN   string     `yaml:"sentry_dsn"`
	MetricsAddr string     `yaml:"metrics_addr"`
}

func Default() Config {
	granularities := make([]string, 0, len(strategy.DefaultGranularities))
	for _, g := range strategy.DefaultGranularities {
		granularities = append(granularities, string(g))
	}
	return Config{
		ClickHouse: ClickHouse{
			Database:         clickhouse.DefaultDatabase,
			Username:         "default",
			Secure:           true,
			MaxExecutionTime: clickhouse.DefaultMaxExecutionTime,
		},
		Embedding: Embedding{
			Model:       embedding.DefaultModel,
			BatchSize:   embedding.DefaultBatchSize,
			MaxInFlight: embedding.DefaultMaxInFlight,
			MaxAttempts: 5,
		},
		Pipeline: Pipeline{
			MinRecordsPerGroup:   strategy.DefaultMinRecordsPerGroup,
			MaxDimensionPairs:    strategy.DefaultMaxDimensionPairs,
			CardinalityCeiling:   schema.DefaultCardinalityCeiling,
			Granularities:        granularities,
			MaxConcurrency:       indexer.DefaultMaxConcurrency,
			CostConfirmThreshold: indexer.DefaultCostConfirmThreshold,
		},
		Storage: Storage{
			Table:          store.DefaultTable,
			RunsTable:      store.DefaultRunsTable,
			WriteBatchSize: store.DefaultWriteBatchSize,
		},
	}
}

// LoadFile overlays a YAML file onto cfg. Keys missing from the file keep
// their current values.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// ReadDotEnv reads a .env file without touching the process environment.
// A missing default file is not an error.
func ReadDotEnv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}
	return vars, nil
}

// Getenv looks a key up in the process environment first and in the .env
// values second, matching godotenv's no-override behaviour.
func Getenv(dotenv map[string]string) func(string) string {
	return func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return dotenv[key]
	}
}

// ApplyEnv overrides cfg with any of the known environment variables that
// are set. The first non-empty name in each list wins.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	var errs []error
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	parsed := func(key string, parse func(string) error) {
		v := getenv(key)
		if v == "" {
			return
		}
		if err := parse(v); err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", key, v, err))
		}
	}
	integer := func(dst *int, key string) {
		parsed(key, func(v string) error {
			n, err := strconv.Atoi(v)
			*dst = n
			return err
		})
	}

	str(&cfg.ClickHouse.Addr, "CLICKHOUSE_ADDR_TCP", "CLICKHOUSE_HOST")
	str(&cfg.ClickHouse.Database, "CLICKHOUSE_DATABASE")
	str(&cfg.ClickHouse.Username, "CLICKHOUSE_USERNAME", "CLICKHOUSE_USER")
	str(&cfg.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	parsed("CLICKHOUSE_SECURE", func(v string) error {
		b, err := strconv.ParseBool(v)
		cfg.ClickHouse.Secure = b
		return err
	})

	str(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	integer(&cfg.Embedding.BatchSize, "EMBEDDING_BATCH_SIZE")
	str(&cfg.Embedding.OpenAIAPIKey, "OPENAI_API_KEY")
	str(&cfg.Embedding.OpenAIBaseURL, "OPENAI_BASE_URL")
	str(&cfg.Embedding.GeminiAPIKey, "GEMINI_API_KEY", "GOOGLE_API_KEY")

	integer(&cfg.Pipeline.MinRecordsPerGroup, "MIN_RECORDS_PER_GROUP")
	integer(&cfg.Pipeline.MaxDimensionPairs, "MAX_DIMENSION_PAIRS")
	str(&cfg.Storage.Table, "EMBEDDINGS_TABLE")

	str(&cfg.SentryDSN, "SENTRY_DSN")
	str(&cfg.MetricsAddr, "METRICS_ADDR")

	return errors.Join(errs...)
}

func (cfg *Config) Validate() error {
	if cfg.Embedding.BatchSize <= 0 {
		return errors.New("embedding batch size must be positive")
	}
	if cfg.Embedding.MaxInFlight <= 0 {
		return errors.New("embedding max in flight must be positive")
	}
	if cfg.Embedding.RequestsPerSecond < 0 {
		return errors.New("embedding requests per second must be non-negative")
	}
	if cfg.Pipeline.MaxConcurrency <= 0 {
		return errors.New("pipeline max concurrency must be positive")
	}
	if cfg.Pipeline.CostConfirmThreshold < 0 {
		return errors.New("cost confirm threshold must be non-negative")
	}
	if cfg.Storage.WriteBatchSize <= 0 {
		return errors.New("write batch size must be positive")
	}
	if _, err := cfg.Model(); err != nil {
		return err
	}
	if _, err := cfg.StrategyConfig(); err != nil {
		return err
	}
	for _, name := range []string{cfg.Storage.Table, cfg.Storage.RunsTable} {
		if err := clickhouse.ValidateTableName(name); err != nil {
			return err
		}
	}
	return nil
}

func (cfg *Config) ClickHouseConfig() clickhouse.Config {
	return clickhouse.Config{
		Addr:             cfg.ClickHouse.Addr,
		Database:         cfg.ClickHouse.Database,
		Username:         cfg.ClickHouse.Username,
		Password:         cfg.ClickHouse.Password,
		Secure:           cfg.ClickHouse.Secure,
		MaxExecutionTime: cfg.ClickHouse.MaxExecutionTime,
	}
}

func (cfg *Config) Model() (embedding.Model, error) {
	return embedding.LookupModel(cfg.Embedding.Model)
}

func (cfg *Config) ProviderConfig(forQueries bool) embedding.ProviderConfig {
	return embedding.ProviderConfig{
		OpenAIAPIKey:  cfg.Embedding.OpenAIAPIKey,
		OpenAIBaseURL: cfg.Embedding.OpenAIBaseURL,
		GeminiAPIKey:  cfg.Embedding.GeminiAPIKey,
		ForQueries:    forQueries,
	}
}

func (cfg *Config) StrategyConfig() (strategy.Config, error) {
	sc := strategy.Config{
		MinRecordsPerGroup: cfg.Pipeline.MinRecordsPerGroup,
		MaxDimensionPairs:  cfg.Pipeline.MaxDimensionPairs,
	}
	for _, g := range cfg.Pipeline.Granularities {
		t := strategy.Transform(strings.TrimSpace(g))
		if t == strategy.TransformNone || !t.Valid() {
			return strategy.Config{}, fmt.Errorf("invalid granularity %q", g)
		}
		sc.Granularities = append(sc.Granularities, t)
	}
	if err := sc.Validate(); err != nil {
		return strategy.Config{}, err
	}
	return sc, nil
}

func (cfg *Config) CatalogBuilder() schema.Builder {
	return schema.Builder{
		Ceiling:        cfg.Pipeline.CardinalityCeiling,
		ExcludeColumns: cfg.Pipeline.ExcludeColumns,
	}
}
