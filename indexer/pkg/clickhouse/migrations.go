package clickhouse

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/insights/indexer"
)

const migrationsDir = "db/clickhouse/migrations"

type MigrationConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

// slogGooseLogger routes goose output to slog.
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// RunMigrations applies every pending migration.
func RunMigrations(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	return Up(ctx, log, cfg)
}

func Up(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	log.Info("clickhouse: applying migrations", "database", cfg.Database)
	return migrate(log, cfg, "apply migrations", func(db *sql.DB) error {
		return goose.UpContext(ctx, db, migrationsDir)
	})
}

// DownTo rolls the schema back so that version is the newest applied migration.
func DownTo(ctx context.Context, log *slog.Logger, cfg MigrationConfig, version int64) error {
	log.Info("clickhouse: rolling back migrations", "database", cfg.Database, "version", version)
	return migrate(log, cfg, "roll back migrations", func(db *sql.DB) error {
		return goose.DownToContext(ctx, db, migrationsDir, version)
	})
}

// Version logs the current schema version through goose's logger.
func Version(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	return migrate(log, cfg, "read migration version", func(db *sql.DB) error {
		return goose.VersionContext(ctx, db, migrationsDir)
	})
}

// MigrationStatus logs every migration and whether it has been applied.
func MigrationStatus(ctx context.Context, log *slog.Logger, cfg MigrationConfig) error {
	return migrate(log, cfg, "read migration status", func(db *sql.DB) error {
		return goose.StatusContext(ctx, db, migrationsDir)
	})
}

func migrate(log *slog.Logger, cfg MigrationConfig, action string, fn func(db *sql.DB) error) error {
	if err := withGoose(log, cfg, fn); err != nil {
		return fmt.Errorf("failed to %s: %w", action, err)
	}
	return nil
}

// withGoose opens a database/sql handle and configures goose for the
// embedded ClickHouse migrations before running fn.
func withGoose(log *slog.Logger, cfg MigrationConfig, fn func(db *sql.DB) error) error {
	db := newSQLDB(cfg)
	defer db.Close()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(indexer.ClickHouseMigrationsFS)

	if err := goose.SetDialect("clickhouse"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	return fn(db)
}

func newSQLDB(cfg MigrationConfig) *sql.DB {
	options := &clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	}

	if cfg.Secure {
		options.TLS = &tls.Config{}
	}

	return clickhouse.OpenDB(options)
}
