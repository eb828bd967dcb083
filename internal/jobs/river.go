package jobs

import (
	"log/slog"
	"math"
	"time"

	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
)

const (
	JobKindSchemaRefresh = "schema_refresh"
	JobKindExportCleanup = "export_cleanup"
)

const (
	SchemaRefreshMaxAttempts = 3
	ExportCleanupMaxAttempts = 1
	defaultMaxAttempts       = 3
)

const (
	defaultSchemaRefreshEvery = 6 * time.Hour
	defaultExportCleanupEvery = 24 * time.Hour
)

// RetryConfig controls per-kind retry behavior.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// RetryPolicy implements River's ClientRetryPolicy with per-kind exponential backoff.
type RetryPolicy struct {
	Default RetryConfig
	ByKind  map[string]RetryConfig
}

// NewRetryPolicy returns the default retry policy configuration.
func NewRetryPolicy() *RetryPolicy {
	return NewRetryPolicyFromConfig(config.JobsConfig{})
}

// NewRetryPolicyFromConfig applies the configured attempt counts, falling
// back to the package defaults for zero values.
func NewRetryPolicyFromConfig(cfg config.JobsConfig) *RetryPolicy {
	schemaAttempts := cfg.RetrySchemaRefresh
	if schemaAttempts <= 0 {
		schemaAttempts = SchemaRefreshMaxAttempts
	}
	cleanupAttempts := cfg.RetryExportRetention
	if cleanupAttempts <= 0 {
		cleanupAttempts = ExportCleanupMaxAttempts
	}
	return &RetryPolicy{
		Default: RetryConfig{
			MaxAttempts: defaultMaxAttempts,
			BaseDelay:   30 * time.Second,
			MaxDelay:    30 * time.Minute,
		},
		ByKind: map[string]RetryConfig{
			JobKindSchemaRefresh: {
				MaxAttempts: schemaAttempts,
				BaseDelay:   1 * time.Minute,
				MaxDelay:    30 * time.Minute,
			},
			// A failed sweep is picked up by the next scheduled run.
			JobKindExportCleanup: {
				MaxAttempts: cleanupAttempts,
				BaseDelay:   0,
				MaxDelay:    0,
			},
		},
	}
}

// NextRetry determines the next retry time for a failed job.
func (p *RetryPolicy) NextRetry(job *rivertype.JobRow) time.Time {
	rc := p.configFor(job.Kind)
	if rc.BaseDelay == 0 {
		return time.Now()
	}

	attempt := job.Attempt
	if attempt < 1 {
		attempt = 1
	}

	delay := time.Duration(float64(rc.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if job.AttemptedAt != nil {
		return job.AttemptedAt.Add(delay)
	}

	return time.Now().Add(delay)
}

// InsertOptsForKind returns default insert options for a job kind.
func InsertOptsForKind(kind string) river.InsertOpts {
	rc := NewRetryPolicy().configFor(kind)
	return river.InsertOpts{MaxAttempts: rc.MaxAttempts}
}

// ClientOptions bundles what the River client needs beyond the pool.
type ClientOptions struct {
	Workers      *river.Workers
	Logger       *slog.Logger
	Hooks        []rivertype.Hook
	PeriodicJobs []*river.PeriodicJob
	Retry        *RetryPolicy
	Alert        AlertFunc
}

// NewClientConfig builds a River client configuration with retry policy.
func NewClientConfig(opts ClientOptions) *river.Config {
	policy := opts.Retry
	if policy == nil {
		policy = NewRetryPolicy()
	}
	cfg := &river.Config{
		Workers:      opts.Workers,
		RetryPolicy:  policy,
		MaxAttempts:  policy.Default.MaxAttempts,
		PeriodicJobs: opts.PeriodicJobs,
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 2},
		},
		Hooks: opts.Hooks,
	}
	if opts.Logger != nil {
		cfg.Logger = opts.Logger
		cfg.ErrorHandler = NewAlertingErrorHandler(opts.Logger, opts.Alert)
	}
	return cfg
}

// NewClient creates a River client using pgx v5.
func NewClient(pool *pgxpool.Pool, opts ClientOptions) (*river.Client[pgx.Tx], error) {
	return river.NewClient(riverpgxv5.New(pool), NewClientConfig(opts))
}

// NewPeriodicJobs schedules schema refresh and export cleanup at the
// configured intervals. A non-positive interval disables that job.
func NewPeriodicJobs(cfg config.JobsConfig) []*river.PeriodicJob {
	var jobs []*river.PeriodicJob
	if every := intervalOr(cfg.SchemaRefreshEvery, defaultSchemaRefreshEvery); every > 0 {
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(every),
			func() (river.JobArgs, *river.InsertOpts) {
				opts := InsertOptsForKind(JobKindSchemaRefresh)
				return SchemaRefreshArgs{}, &opts
			},
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}
	if every := intervalOr(cfg.ExportCleanupEvery, defaultExportCleanupEvery); every > 0 {
		jobs = append(jobs, river.NewPeriodicJob(
			river.PeriodicInterval(every),
			func() (river.JobArgs, *river.InsertOpts) {
				opts := InsertOptsForKind(JobKindExportCleanup)
				return ExportCleanupArgs{}, &opts
			},
			&river.PeriodicJobOpts{RunOnStart: false},
		))
	}
	return jobs
}

func intervalOr(d, fallback time.Duration) time.Duration {
	if d == 0 {
		return fallback
	}
	return d
}

func (p *RetryPolicy) configFor(kind string) RetryConfig {
	if p == nil {
		return RetryConfig{MaxAttempts: defaultMaxAttempts, BaseDelay: 1 * time.Minute, MaxDelay: 1 * time.Hour}
	}
	if rc, ok := p.ByKind[kind]; ok {
		return rc
	}
	return p.Default
}
