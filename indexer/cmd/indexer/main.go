package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/insights/indexer/pkg/aggregate"
	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/config"
	"github.com/malbeclabs/insights/indexer/pkg/embedding"
	"github.com/malbeclabs/insights/indexer/pkg/indexer"
	"github.com/malbeclabs/insights/indexer/pkg/introspect"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/indexer/pkg/strategy"
	"github.com/malbeclabs/insights/utils/pkg/logger"
	"github.com/malbeclabs/insights/utils/pkg/prompt"
	"github.com/malbeclabs/insights/utils/pkg/retry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	dryRunFlag := flag.Bool("dry-run", false, "plan and estimate without aggregating, embedding or storing")
	listStrategiesFlag := flag.Bool("list-strategies", false, "list detected dimensions and generated strategies, then exit")
	strategiesFlag := flag.String("strategies", "", "comma-separated strategy names to run (default all)")
	testConnectionFlag := flag.Bool("test-connection", false, "check the ClickHouse connection and exit")
	yesFlag := flag.Bool("yes", false, "skip the cost confirmation prompt")
	skipExistingFlag := flag.Bool("skip-existing", false, "skip strategies that already have stored embeddings")
	exactEstimatesFlag := flag.Bool("exact-estimates", false, "count groups in ClickHouse instead of estimating them")
	sampleRowsFlag := flag.Int("sample-rows", 0, "with --list-strategies, also print this many sample rows")
	loader := config.NewLoader(flag.CommandLine).ClickHouseFlags().EmbeddingFlags().PipelineFlags()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <table>\n\nGenerates aggregate insight embeddings for a ClickHouse table.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	log := logger.New(*verboseFlag)

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if cfg.ClickHouse.Addr == "" {
		return errors.New("--clickhouse-addr is required (or set CLICKHOUSE_ADDR_TCP)")
	}

	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Release:          version,
			TracesSampleRate: 1.0,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	if cfg.MetricsAddr != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		if _, err := metrics.StartServer(log, cfg.MetricsAddr); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := clickhouse.NewClient(ctx, log, cfg.ClickHouseConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer client.Close()

	if *testConnectionFlag {
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("connection test failed: %w", err)
		}
		fmt.Printf("Connected to ClickHouse at %s (database %s)\n", cfg.ClickHouse.Addr, client.Database())
		return nil
	}

	if flag.NArg() != 1 {
		flag.Usage()
		return errors.New("exactly one table argument is required")
	}
	table := flag.Arg(0)
	if err := clickhouse.ValidateTableName(table); err != nil {
		return err
	}

	model, err := cfg.Model()
	if err != nil {
		return err
	}
	strategyCfg, err := cfg.StrategyConfig()
	if err != nil {
		return err
	}
	intro, err := introspect.New(introspect.Config{Logger: log, Client: client, ProbeConcurrency: cfg.Pipeline.ProbeConcurrency})
	if err != nil {
		return err
	}
	exec, err := aggregate.NewExecutor(log, client)
	if err != nil {
		return err
	}

	ixCfg := indexer.Config{
		Logger:               log,
		Schema:               intro,
		Executor:             exec,
		Model:                model,
		Builder:              cfg.CatalogBuilder(),
		Strategy:             strategyCfg,
		MaxConcurrency:       cfg.Pipeline.MaxConcurrency,
		CostConfirmThreshold: cfg.Pipeline.CostConfirmThreshold,
		Confirm: func(ctx context.Context, plan *indexer.Plan) (bool, error) {
			printEstimates(os.Stdout, plan)
			return prompt.Confirm(os.Stdin, os.Stdout, fmt.Sprintf(
				"\nEstimated embedding cost $%.4f is above the $%.2f threshold.",
				plan.Estimates.TotalCostUSD, cfg.Pipeline.CostConfirmThreshold))
		},
	}

	executing := !*dryRunFlag && !*listStrategiesFlag
	var embedder *embedding.Client
	if executing {
		provider, err := embedding.NewProvider(ctx, model, cfg.ProviderConfig(false))
		if err != nil {
			return err
		}
		retryCfg := retry.DefaultConfig()
		retryCfg.MaxAttempts = cfg.Embedding.MaxAttempts
		embedder, err = embedding.NewClient(embedding.Config{
			Logger:            log,
			Provider:          provider,
			Model:             model,
			BatchSize:         cfg.Embedding.BatchSize,
			MaxInFlight:       cfg.Embedding.MaxInFlight,
			RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
			Retry:             retryCfg,
		})
		if err != nil {
			return err
		}
		st, err := store.New(store.Config{
			Logger:         log,
			Client:         client,
			Table:          cfg.Storage.Table,
			RunsTable:      cfg.Storage.RunsTable,
			WriteBatchSize: cfg.Storage.WriteBatchSize,
		})
		if err != nil {
			return err
		}
		if err := st.EnsureTable(ctx); err != nil {
			return err
		}
		ixCfg.Embedder = embedder
		ixCfg.Store = st
	}

	ix, err := indexer.New(ixCfg)
	if err != nil {
		return err
	}

	planOpts := indexer.PlanOptions{
		Table:          table,
		Strategies:     strategy.ParseNames(*strategiesFlag),
		ExactEstimates: *exactEstimatesFlag,
	}

	if *listStrategiesFlag {
		plan, err := ix.Plan(ctx, planOpts)
		if err != nil {
			return err
		}
		printCatalog(os.Stdout, plan)
		if *sampleRowsFlag > 0 {
			sample, err := intro.SampleRows(ctx, table, *sampleRowsFlag)
			if err != nil {
				return err
			}
			printSample(os.Stdout, sample)
		}
		printStrategies(os.Stdout, plan)
		return nil
	}

	sum, err := ix.Run(ctx, indexer.RunOptions{
		PlanOptions:  planOpts,
		DryRun:       *dryRunFlag,
		Yes:          *yesFlag,
		SkipExisting: *skipExistingFlag,
	})
	if errors.Is(err, indexer.ErrNotConfirmed) {
		fmt.Println("Run cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	printCatalog(os.Stdout, sum.Plan)
	printEstimates(os.Stdout, sum.Plan)
	if !sum.DryRun {
		printSummary(os.Stdout, sum)
	}
	return sum.Err()
}
