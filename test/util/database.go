// Package util provides shared database helpers for integration tests.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wardenlabs/warden/pkg/config"
	"github.com/wardenlabs/warden/pkg/database"
)

var (
	sharedCfg  config.DatabaseConfig
	sharedOnce sync.Once
	sharedErr  error
)

// SetupTestDatabase returns a client against a dedicated per-test
// database with migrations applied. Skips in -short mode. CI provides
// the server through CI_DATABASE_URL; local runs share one
// testcontainer per package, one database per test for isolation.
func SetupTestDatabase(t *testing.T) *database.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping database integration test in short mode")
	}
	ctx := context.Background()

	base := baseDatabaseConfig(t)
	dbName := uniqueDatabaseName(t)

	admin, err := stdsql.Open("pgx", connString(base))
	require.NoError(t, err)
	_, err = admin.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	require.NoError(t, err)

	cfg := base
	cfg.DBName = dbName
	client, err := database.NewClient(ctx, cfg)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		_, derr := admin.ExecContext(context.Background(),
			fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", dbName))
		if derr != nil {
			t.Logf("drop test database %s: %v", dbName, derr)
		}
		_ = admin.Close()
	})
	return client
}

// baseDatabaseConfig points at the shared PostgreSQL server: the CI
// service container when CI_DATABASE_URL is set, a local testcontainer
// otherwise.
func baseDatabaseConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()

	if raw := os.Getenv("CI_DATABASE_URL"); raw != "" {
		return parseDatabaseURL(t, raw)
	}

	sharedOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("warden"),
			postgres.WithUsername("warden"),
			postgres.WithPassword("warden"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			sharedErr = fmt.Errorf("start postgres container: %w", err)
			return
		}

		host, err := pgContainer.Host(ctx)
		if err != nil {
			sharedErr = fmt.Errorf("container host: %w", err)
			return
		}
		port, err := pgContainer.MappedPort(ctx, "5432/tcp")
		if err != nil {
			sharedErr = fmt.Errorf("container port: %w", err)
			return
		}

		sharedCfg = config.DatabaseConfig{
			Host:         host,
			Port:         port.Int(),
			User:         "warden",
			Password:     "warden",
			DBName:       "warden",
			SSLMode:      "disable",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		}
	})
	require.NoError(t, sharedErr, "shared test container")
	return sharedCfg
}

func parseDatabaseURL(t *testing.T, raw string) config.DatabaseConfig {
	t.Helper()

	u, err := url.Parse(raw)
	require.NoError(t, err)

	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	password, _ := u.User.Password()
	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return config.DatabaseConfig{
		Host:         host,
		Port:         port,
		User:         u.User.Username(),
		Password:     password,
		DBName:       strings.TrimPrefix(u.Path, "/"),
		SSLMode:      sslMode,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
	}
}

func connString(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode)
}

// uniqueDatabaseName derives a PostgreSQL-safe database name from the
// test name plus a random suffix.
func uniqueDatabaseName(t *testing.T) string {
	name := strings.ToLower(t.Name())
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, name)
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	_, err := rand.Read(suffix)
	require.NoError(t, err)
	return fmt.Sprintf("warden_%s_%s", name, hex.EncodeToString(suffix))
}
