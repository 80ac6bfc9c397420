package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/config"
	"github.com/malbeclabs/insights/indexer/pkg/embedding"
	"github.com/malbeclabs/insights/indexer/pkg/metrics"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/search/pkg/search"
	"github.com/malbeclabs/insights/search/pkg/server"
	"github.com/malbeclabs/insights/utils/pkg/logger"
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
	topKFlag := flag.Int("top-k", search.DefaultTopK, "number of results to return")
	minSimilarityFlag := flag.Float64("min-similarity", 0, "drop results below this cosine similarity")
	tableFlag := flag.String("table", "", "only search records built from this source table")
	strategyFlag := flag.String("strategy", "", "only search records from this strategy")
	listenAddrFlag := flag.String("listen-addr", "", "serve the HTTP search API on this address instead of answering one query")
	allowedOriginsFlag := flag.StringSlice("allowed-origins", nil, "CORS origins for the HTTP API (default any)")
	loader := config.NewLoader(flag.CommandLine).ClickHouseFlags().EmbeddingFlags()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <question...>\n       %s [flags] --listen-addr :8080\n\nSearches stored insight embeddings.\n\n", os.Args[0], os.Args[0])
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
	question := strings.TrimSpace(strings.Join(flag.Args(), " "))
	if question == "" && *listenAddrFlag == "" {
		flag.Usage()
		return errors.New("a question or --listen-addr is required")
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

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := clickhouse.NewClient(ctx, log, cfg.ClickHouseConfig())
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	defer client.Close()

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

	model, err := cfg.Model()
	if err != nil {
		return err
	}
	provider, err := embedding.NewProvider(ctx, model, cfg.ProviderConfig(true))
	if err != nil {
		return err
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Embedding.MaxAttempts
	embedder, err := embedding.NewClient(embedding.Config{
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

	svc, err := search.NewService(search.ServiceConfig{Logger: log, Embedder: embedder, Corpus: st})
	if err != nil {
		return err
	}

	if *listenAddrFlag != "" {
		metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)
		srv, err := server.New(ctx, log, server.Config{
			ListenAddr:     *listenAddrFlag,
			VersionInfo:    server.VersionInfo{Version: version, Commit: commit, Date: date},
			Searcher:       svc,
			Summarizer:     st,
			Ready:          client.Ping,
			AllowedOrigins: *allowedOriginsFlag,
		})
		if err != nil {
			return err
		}
		return srv.Run(ctx)
	}

	results, err := svc.Query(ctx, search.Query{
		Text:          question,
		TopK:          *topKFlag,
		MinSimilarity: *minSimilarityFlag,
		SourceTable:   *tableFlag,
		Strategy:      *strategyFlag,
	})
	if err != nil {
		return err
	}
	printResults(os.Stdout, question, results)
	printUsage(os.Stdout, svc.Usage())
	return nil
}
