package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
)

// HealthCheck represents the health status of the server
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ActiveSourceLister is the registry view the readiness check needs.
type ActiveSourceLister interface {
	ListActive(ctx context.Context) ([]sources.Descriptor, error)
}

// HealthChecker runs the readiness checks behind /readyz.
type HealthChecker struct {
	pool        *pgxpool.Pool
	riverClient *river.Client[pgx.Tx]
	registry    ActiveSourceLister
	version     string
	gitCommit   string
}

func NewHealthChecker(pool *pgxpool.Pool, riverClient *river.Client[pgx.Tx], registry ActiveSourceLister, version, gitCommit string) *HealthChecker {
	return &HealthChecker{
		pool:        pool,
		riverClient: riverClient,
		registry:    registry,
		version:     version,
		gitCommit:   gitCommit,
	}
}

// Health reports every check. Any failing check makes the response 503.
func (h *HealthChecker) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		default:
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]CheckResult{
			"database":   h.checkDatabase(ctx),
			"migrations": h.checkMigrations(ctx),
			"job_queue":  h.checkJobQueue(ctx),
			"sources":    h.checkSources(ctx),
		}

		overallStatus := "healthy"
		statusCode := http.StatusOK
		for name, check := range checks {
			metrics.HealthCheckStatus.WithLabelValues(name).Set(metrics.HealthValue(check.Status))
			metrics.HealthCheckLatency.WithLabelValues(name).Set(float64(check.LatencyMs))
			if check.Status == "fail" {
				overallStatus = "unhealthy"
				statusCode = http.StatusServiceUnavailable
			} else if check.Status == "warn" && overallStatus == "healthy" {
				overallStatus = "degraded"
			}
		}
		metrics.HealthStatus.Set(metrics.HealthValue(overallStatus))

		writeJSON(w, statusCode, HealthCheck{
			Status:    overallStatus,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    checks,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func poolMissing() CheckResult {
	return CheckResult{
		Status:  "fail",
		Message: "Database pool not initialized",
		Details: map[string]interface{}{
			"remediation": "Check that DATABASE_URL is set correctly and PostgreSQL is running",
		},
	}
}

// checkDatabase verifies PostgreSQL connection and query execution
func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	if h.pool == nil {
		return poolMissing()
	}
	start := time.Now()

	dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var result int
	err := h.pool.QueryRow(dbCtx, "SELECT 1").Scan(&result)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		message := "Database query failed"
		details := map[string]interface{}{"error": err.Error()}
		switch {
		case errors.Is(dbCtx.Err(), context.DeadlineExceeded):
			message = "Database query timed out after 2 seconds"
			details["remediation"] = "Check PostgreSQL performance or network latency"
		case strings.Contains(err.Error(), "connection refused"):
			message = "Database connection refused"
			details["remediation"] = "Verify PostgreSQL is running and DATABASE_URL host/port are correct"
		case strings.Contains(err.Error(), "authentication failed"):
			message = "Database authentication failed"
			details["remediation"] = "Verify DATABASE_URL username and password"
		default:
			details["remediation"] = "Check DATABASE_URL and PostgreSQL service status"
		}
		return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
	}

	stats := h.pool.Stat()
	return CheckResult{
		Status:    "pass",
		Message:   "PostgreSQL connection successful",
		LatencyMs: latency,
		Details: map[string]interface{}{
			"max_connections":      stats.MaxConns(),
			"total_connections":    stats.TotalConns(),
			"idle_connections":     stats.IdleConns(),
			"acquired_connections": stats.AcquiredConns(),
		},
	}
}

// checkMigrations reads golang-migrate's schema_migrations table.
func (h *HealthChecker) checkMigrations(ctx context.Context) CheckResult {
	if h.pool == nil {
		return poolMissing()
	}
	start := time.Now()

	migCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var version int64
	var dirty bool
	err := h.pool.QueryRow(migCtx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		message := "Failed to query migration version"
		details := map[string]interface{}{"error": err.Error()}
		if strings.Contains(err.Error(), "does not exist") || errors.Is(err, pgx.ErrNoRows) {
			message = "Migrations not applied"
			details["remediation"] = "Run: server migrate up"
		}
		return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
	}

	if dirty {
		return CheckResult{
			Status:    "fail",
			Message:   "Database in dirty migration state - manual intervention required",
			LatencyMs: latency,
			Details: map[string]interface{}{
				"version":     version,
				"dirty":       dirty,
				"remediation": "Fix the failed migration, then force the version with the migrate CLI",
			},
		}
	}

	return CheckResult{
		Status:    "pass",
		Message:   fmt.Sprintf("Migrations applied successfully (version %d)", version),
		LatencyMs: latency,
		Details:   map[string]interface{}{"version": version, "dirty": false},
	}
}

// checkJobQueue verifies River job queue is operational
func (h *HealthChecker) checkJobQueue(ctx context.Context) CheckResult {
	if h.riverClient == nil || h.pool == nil {
		return CheckResult{Status: "warn", Message: "Job queue not running (JOBS_ENABLED=false)"}
	}
	start := time.Now()

	jobCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var activeJobs int64
	err := h.pool.QueryRow(jobCtx, `SELECT COUNT(*) FROM river_job WHERE state = ANY($1)`, []string{"available", "running"}).Scan(&activeJobs)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		details := map[string]interface{}{"error": err.Error()}
		if strings.Contains(err.Error(), "does not exist") {
			details["remediation"] = "Run: server migrate up (applies River migrations)"
		}
		return CheckResult{Status: "fail", Message: "Failed to query job queue", LatencyMs: latency, Details: details}
	}

	return CheckResult{
		Status:    "pass",
		Message:   "River job queue operational",
		LatencyMs: latency,
		Details:   map[string]interface{}{"active_jobs": activeJobs},
	}
}

// checkSources warns when no data source is active: searches would return
// nothing.
func (h *HealthChecker) checkSources(ctx context.Context) CheckResult {
	if h.registry == nil {
		return CheckResult{Status: "fail", Message: "Data source registry not initialized"}
	}
	start := time.Now()
	active, err := h.registry.ListActive(ctx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{
			Status:    "fail",
			Message:   "Failed to list data sources",
			LatencyMs: latency,
			Details:   map[string]interface{}{"error": err.Error()},
		}
	}
	if len(active) == 0 {
		return CheckResult{
			Status:    "warn",
			Message:   "No active data sources",
			LatencyMs: latency,
			Details:   map[string]interface{}{"remediation": "Register sources via the admin API or: server sources sync"},
		}
	}
	return CheckResult{
		Status:    "pass",
		Message:   fmt.Sprintf("%d active data sources", len(active)),
		LatencyMs: latency,
		Details:   map[string]interface{}{"active": len(active)},
	}
}

// Healthz is the liveness probe; it never touches dependencies.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondHealth(w, http.StatusOK, "ok")
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

func respondHealth(w http.ResponseWriter, status int, value string) {
	writeJSON(w, status, healthResponse{Status: value})
}

// DecodeHealth is shared by the healthcheck CLI command.
func DecodeHealth(body []byte) (HealthCheck, error) {
	var hc HealthCheck
	err := json.Unmarshal(body, &hc)
	return hc, err
}
