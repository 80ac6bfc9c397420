package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/insights/admin/internal/admin"
	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
	"github.com/malbeclabs/insights/indexer/pkg/config"
	"github.com/malbeclabs/insights/indexer/pkg/store"
	"github.com/malbeclabs/insights/utils/pkg/logger"
	"github.com/malbeclabs/insights/utils/pkg/prompt"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	loader := config.NewLoader(flag.CommandLine).ClickHouseFlags()

	// Commands
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run ClickHouse database migrations using goose")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show ClickHouse database migration status")
	clickhouseMigrateVersionFlag := flag.Bool("clickhouse-migrate-version", false, "Show the current ClickHouse migration version")
	clickhouseMigrateDownToFlag := flag.Int64("clickhouse-migrate-down-to", -1, "Roll ClickHouse migrations back to this version")
	summaryFlag := flag.Bool("summary", false, "Show stored embeddings per source table and strategy")
	runsFlag := flag.Bool("runs", false, "Show the recent run log for --table")
	deleteEmbeddingsFlag := flag.Bool("delete-embeddings", false, "Delete stored embeddings matching --table and/or --strategy")

	// Options
	tableFlag := flag.String("table", "", "Source table filter")
	strategyFlag := flag.String("strategy", "", "Strategy name filter")
	limitFlag := flag.Int("limit", 50, "Maximum run log rows for --runs")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if cfg.ClickHouse.Addr == "" {
		return errors.New("--clickhouse-addr is required (or set CLICKHOUSE_ADDR_TCP)")
	}
	chCfg := cfg.ClickHouseConfig()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *clickhouseMigrateFlag {
		return clickhouse.RunMigrations(ctx, log, chCfg.MigrationConfig())
	}
	if *clickhouseMigrateStatusFlag {
		return clickhouse.MigrationStatus(ctx, log, chCfg.MigrationConfig())
	}
	if *clickhouseMigrateVersionFlag {
		return clickhouse.Version(ctx, log, chCfg.MigrationConfig())
	}
	if *clickhouseMigrateDownToFlag >= 0 {
		if !*yesFlag {
			ok, err := prompt.Confirm(os.Stdin, os.Stdout, fmt.Sprintf("Roll back ClickHouse migrations in %s to version %d?", chCfg.Database, *clickhouseMigrateDownToFlag))
			if err != nil || !ok {
				return err
			}
		}
		return clickhouse.DownTo(ctx, log, chCfg.MigrationConfig(), *clickhouseMigrateDownToFlag)
	}
	if !*summaryFlag && !*runsFlag && !*deleteEmbeddingsFlag {
		flag.Usage()
		return nil
	}

	client, err := clickhouse.NewClient(ctx, log, chCfg)
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
	filter := store.Filter{SourceTable: *tableFlag, Strategy: *strategyFlag}

	switch {
	case *summaryFlag:
		return admin.PrintSummary(ctx, st, filter, os.Stdout)
	case *runsFlag:
		if *tableFlag == "" {
			return errors.New("--table is required for --runs")
		}
		return admin.PrintRuns(ctx, st, *tableFlag, *limitFlag, os.Stdout)
	default:
		return admin.DeleteEmbeddings(ctx, st, admin.DeleteEmbeddingsConfig{
			Filter:      filter,
			DryRun:      *dryRunFlag,
			SkipConfirm: *yesFlag,
			In:          os.Stdin,
			Out:         os.Stdout,
		})
	}
}
