package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// RETRIEVER_TEST_DATABASE_URL points the tests at an existing, disposable
// database instead of starting a container. Every table in it is truncated.
const testDatabaseEnv = "RETRIEVER_TEST_DATABASE_URL"

const sharedContainerName = "retriever-storage-db"

// Tables the registry migrations own, truncated between tests. River's
// tables are left alone; nothing here enqueues jobs.
var registryTables = []string{"audit_log", "export_records", "search_sessions", "users", "data_sources"}

var (
	sharedOnce    sync.Once
	sharedInitErr error
	sharedPool    *pgxpool.Pool
	sharedDBURL   string
)

func TestMain(m *testing.M) {
	code := m.Run()
	if sharedPool != nil {
		sharedPool.Close()
	}
	// A reusable container is left running for the next run.
	os.Exit(code)
}

// setupPostgres returns a migrated, empty registry database. Tests using it
// are skipped under -short.
func setupPostgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	sharedOnce.Do(func() {
		sharedDBURL, sharedPool, sharedInitErr = initShared()
	})
	require.NoError(t, sharedInitErr)

	resetDatabase(t, sharedPool)
	return sharedPool, sharedDBURL
}

func initShared() (string, *pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	dbURL := os.Getenv(testDatabaseEnv)
	if dbURL == "" {
		_ = os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
		container, err := tcpostgres.Run(
			ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("retriever"),
			tcpostgres.WithUsername("retriever"),
			tcpostgres.WithPassword("retriever_dev"),
			tcpostgres.BasicWaitStrategies(),
			testcontainers.WithReuseByName(sharedContainerName),
		)
		if err != nil {
			return "", nil, fmt.Errorf("start postgres container: %w", err)
		}
		if dbURL, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
			return "", nil, err
		}
	}

	if err := migrateWithRetry(dbURL, 10*time.Second); err != nil {
		return "", nil, fmt.Errorf("migrate: %w", err)
	}
	pool, err := NewPool(ctx, dbURL, 5)
	if err != nil {
		return "", nil, err
	}
	if err := MigrateRiver(ctx, pool); err != nil {
		pool.Close()
		return "", nil, fmt.Errorf("migrate river: %w", err)
	}
	return dbURL, pool, nil
}

func resetDatabase(t *testing.T, pool *pgxpool.Pool) {
	t.Helper()
	require.NotNil(t, pool, "shared pool is nil")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	quoted := make([]string, 0, len(registryTables))
	for _, table := range registryTables {
		quoted = append(quoted, pgx.Identifier{"public", table}.Sanitize())
	}
	_, err := pool.Exec(ctx, "TRUNCATE TABLE "+strings.Join(quoted, ", ")+" RESTART IDENTITY CASCADE")
	require.NoError(t, err)
}

// migrateWithRetry retries while the container finishes accepting
// connections.
func migrateWithRetry(databaseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := MigrateUp(databaseURL, "")
		if err == nil || time.Now().After(deadline) {
			return err
		}
		time.Sleep(500 * time.Millisecond)
	}
}
