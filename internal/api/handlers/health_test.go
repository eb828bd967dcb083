package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

type stubRegistry struct {
	active []sources.Descriptor
	err    error
}

func (s stubRegistry) ListActive(context.Context) ([]sources.Descriptor, error) {
	return s.active, s.err
}

func decodeHealthResponse(t *testing.T, w *httptest.ResponseRecorder) HealthCheck {
	t.Helper()
	hc, err := DecodeHealth(w.Body.Bytes())
	require.NoError(t, err)
	return hc
}

func TestHealthCheck_NoDatabase(t *testing.T) {
	checker := NewHealthChecker(nil, nil, stubRegistry{active: []sources.Descriptor{{Name: "crm"}}}, "0.1.0", "abc123")

	w := httptest.NewRecorder()
	checker.Health().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	hc := decodeHealthResponse(t, w)
	assert.Equal(t, "unhealthy", hc.Status)
	assert.Equal(t, "0.1.0", hc.Version)
	assert.Equal(t, "abc123", hc.GitCommit)
	assert.Equal(t, "fail", hc.Checks["database"].Status)
	assert.Equal(t, "fail", hc.Checks["migrations"].Status)
	assert.Equal(t, "warn", hc.Checks["job_queue"].Status)
	assert.Equal(t, "pass", hc.Checks["sources"].Status)

	_, err := time.Parse(time.RFC3339, hc.Timestamp)
	assert.NoError(t, err)
}

func TestHealthCheck_SourcesCheck(t *testing.T) {
	tests := []struct {
		name     string
		registry ActiveSourceLister
		want     string
	}{
		{name: "active sources", registry: stubRegistry{active: []sources.Descriptor{{Name: "a"}, {Name: "b"}}}, want: "pass"},
		{name: "no active sources", registry: stubRegistry{}, want: "warn"},
		{name: "registry error", registry: stubRegistry{err: errors.New("db down")}, want: "fail"},
		{name: "no registry", registry: nil, want: "fail"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewHealthChecker(nil, nil, tt.registry, "dev", "unknown")
			result := checker.checkSources(context.Background())
			assert.Equal(t, tt.want, result.Status)
			assert.NotEmpty(t, result.Message)
		})
	}
}

func TestHealthCheck_CancelledRequest(t *testing.T) {
	checker := NewHealthChecker(nil, nil, stubRegistry{}, "dev", "unknown")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := httptest.NewRecorder()
	checker.Health().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "shutting_down")
}

func TestHealthz(t *testing.T) {
	w := httptest.NewRecorder()
	Healthz().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestHealthCheck_WithDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping database-backed health test in short mode")
	}
	ctx := context.Background()
	pool, cleanup := setupTestDB(t, ctx)
	defer cleanup()

	_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS schema_migrations`)
	require.NoError(t, err)

	checker := NewHealthChecker(pool, nil, stubRegistry{active: []sources.Descriptor{{Name: "crm"}}}, "0.1.0", "test")

	t.Run("missing migrations table", func(t *testing.T) {
		result := checker.checkMigrations(ctx)
		assert.Equal(t, "fail", result.Status)
		assert.Equal(t, "Migrations not applied", result.Message)
	})

	_, err = pool.Exec(ctx, `CREATE TABLE schema_migrations (version BIGINT PRIMARY KEY, dirty BOOLEAN NOT NULL)`)
	require.NoError(t, err)

	t.Run("dirty migration", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (3, true)`)
		require.NoError(t, err)
		defer func() { _, _ = pool.Exec(ctx, `DELETE FROM schema_migrations`) }()

		result := checker.checkMigrations(ctx)
		assert.Equal(t, "fail", result.Status)
		assert.Contains(t, result.Message, "dirty")
	})

	t.Run("healthy", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (3, false)`)
		require.NoError(t, err)

		w := httptest.NewRecorder()
		checker.Health().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		// Jobs are disabled, so the overall status is degraded but ready.
		assert.Equal(t, http.StatusOK, w.Code)
		hc := decodeHealthResponse(t, w)
		assert.Equal(t, "degraded", hc.Status)
		assert.Equal(t, "pass", hc.Checks["database"].Status)
		assert.Equal(t, "pass", hc.Checks["migrations"].Status)
		assert.Contains(t, hc.Checks["migrations"].Message, "version 3")
	})
}

// setupTestDB prefers DATABASE_URL and falls back to a throwaway container.
func setupTestDB(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err == nil && pool.Ping(ctx) == nil {
			return pool, func() { pool.Close() }
		}
		t.Logf("DATABASE_URL set but connection failed, using testcontainer")
	}

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("retriever_test"),
		tcpostgres.WithUsername("retriever"),
		tcpostgres.WithPassword("retriever-test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	dbURL, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	return pool, func() {
		pool.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
}
