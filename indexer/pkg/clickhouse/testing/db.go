package clickhousetesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"

	"github.com/malbeclabs/insights/indexer/pkg/clickhouse"
)

const startAttempts = 3

type DBConfig struct {
	Database       string
	Username       string
	Password       string
	Port           string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	defaults := []struct {
		field *string
		value string
	}{
		{&cfg.Database, "test"},
		{&cfg.Username, "default"},
		{&cfg.Password, "password"},
		{&cfg.Port, "9000"},
		{&cfg.ContainerImage, "clickhouse/clickhouse-server:latest"},
	}
	for _, d := range defaults {
		if *d.field == "" {
			*d.field = d.value
		}
	}
	return nil
}

// DB is a ClickHouse container shared by the tests of one package. Each test
// gets its own randomly named database on it.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	addr      string
	container *tcch.ClickHouseContainer
}

func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate DB config: %w", err)
	}

	container, err := withRetries(containerStartErrors, 750*time.Millisecond, func() (*tcch.ClickHouseContainer, error) {
		return tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}
	port, err := container.MappedPort(ctx, nat.Port(cfg.Port+"/tcp"))
	if err != nil {
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &DB{log: log, cfg: cfg, addr: host + ":" + port.Port(), container: container}, nil
}

// Addr returns the ClickHouse native protocol address (host:port).
func (db *DB) Addr() string {
	return db.addr
}

// ClientConfig returns a plaintext client config for the given database.
func (db *DB) ClientConfig(database string) clickhouse.Config {
	return clickhouse.Config{
		Addr:     db.addr,
		Database: database,
		Username: db.cfg.Username,
		Password: db.cfg.Password,
	}
}

func (db *DB) MigrationConfig(database string) clickhouse.MigrationConfig {
	return db.ClientConfig(database).MigrationConfig()
}

func (db *DB) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(ctx); err != nil {
		db.log.Error("failed to terminate ClickHouse container", "error", err)
	}
}

func (db *DB) connect(ctx context.Context, database string) (clickhouse.Client, error) {
	return withRetries(connectionErrors, 500*time.Millisecond, func() (clickhouse.Client, error) {
		return clickhouse.NewClient(ctx, db.log, db.ClientConfig(database))
	})
}

type TestClientInfo struct {
	Client   clickhouse.Client
	Database string
}

// NewTestClientWithInfo connects to a fresh database that is dropped when the
// test ends.
func NewTestClientWithInfo(t *testing.T, db *DB) (*TestClientInfo, error) {
	admin, err := db.connect(t.Context(), db.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create ClickHouse admin client: %w", err)
	}
	adminConn, err := admin.Conn(t.Context())
	require.NoError(t, err)

	name := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, adminConn.Exec(t.Context(), "CREATE DATABASE IF NOT EXISTS "+name))

	client, err := db.connect(t.Context(), name)
	if err != nil {
		return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		require.NoError(t, adminConn.Exec(ctx, "DROP DATABASE IF EXISTS "+name))
		client.Close()
		admin.Close()
	})
	return &TestClientInfo{Client: client, Database: name}, nil
}

func NewTestClient(t *testing.T, db *DB) (clickhouse.Client, error) {
	info, err := NewTestClientWithInfo(t, db)
	if err != nil {
		return nil, err
	}
	return info.Client, nil
}

func NewTestConn(t *testing.T, db *DB) (clickhouse.Connection, error) {
	client, err := NewTestClient(t, db)
	require.NoError(t, err)
	conn, err := client.Conn(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, nil
}

// Docker and a freshly started server both report transient failures for a
// moment after the container claims to be ready.
var (
	containerStartErrors = []string{
		"wait until ready", "mapped port", "timeout", "context deadline exceeded", "docker.sock",
	}
	connectionErrors = []string{
		"handshake", "packet", "failed to ping", "connection refused", "connection reset",
		"timeout", "context deadline exceeded", "dial tcp",
	}
)

func withRetries[T any](transient []string, backoff time.Duration, fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= startAttempts; attempt++ {
		v, err = fn()
		if err == nil || !matchesAny(err, transient) {
			return v, err
		}
		if attempt < startAttempts {
			time.Sleep(time.Duration(attempt) * backoff)
		}
	}
	return v, err
}

func matchesAny(err error, patterns []string) bool {
	s := err.Error()
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
