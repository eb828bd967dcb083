package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry database metrics. Source databases are measured per query by
// SourceQueryDuration instead; their connections are short-lived.
var (
	DBConnectionsOpen = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Open connections to the registry database",
		},
	)

	DBConnectionsInUse = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_in_use",
			Help:      "Registry database connections currently acquired",
		},
	)

	DBConnectionsIdle = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Idle registry database connections",
		},
	)

	DBConnectionsMaxOpen = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_max_open",
			Help:      "Maximum registry database connections allowed (DATABASE_MAX_CONNECTIONS)",
		},
	)

	// DBAcquireWait is cumulative; rate() over it shows pool contention.
	DBAcquireWait = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_acquire_wait_seconds",
			Help:      "Cumulative time spent waiting for a registry database connection",
		},
	)

	DBQueryDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "db_query_duration_seconds",
			Help:      "Registry database query duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBErrors = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_errors_total",
			Help:      "Registry database errors by operation and kind",
		},
		[]string{"operation", "error_type"},
	)
)

// PoolStats is the subset of *pgxpool.Stat the collector reads.
type PoolStats interface {
	TotalConns() int32
	AcquiredConns() int32
	IdleConns() int32
	MaxConns() int32
	AcquireDuration() time.Duration
}

// DBCollector copies registry pool statistics into gauges on an interval.
type DBCollector struct {
	stat     func() PoolStats
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewDBCollector collects from pool; a nil pool makes the collector a no-op.
func NewDBCollector(pool *pgxpool.Pool) *DBCollector {
	var stat func() PoolStats
	if pool != nil {
		stat = func() PoolStats { return pool.Stat() }
	}
	return newDBCollector(stat)
}

func newDBCollector(stat func() PoolStats) *DBCollector {
	return &DBCollector{stat: stat, stopChan: make(chan struct{})}
}

// Start collects immediately and then every interval until ctx ends or Stop
// is called.
func (c *DBCollector) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.collect()
	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop is safe to call more than once.
func (c *DBCollector) Stop() {
	c.stopOnce.Do(func() { close(c.stopChan) })
}

func (c *DBCollector) collect() {
	if c.stat == nil {
		return
	}
	stat := c.stat()
	DBConnectionsOpen.Set(float64(stat.TotalConns()))
	DBConnectionsInUse.Set(float64(stat.AcquiredConns()))
	DBConnectionsIdle.Set(float64(stat.IdleConns()))
	DBConnectionsMaxOpen.Set(float64(stat.MaxConns()))
	DBAcquireWait.Set(stat.AcquireDuration().Seconds())
}

// RecordQuery records latency and, when err is set, an error for one
// registry query.
func RecordQuery(operation string, start time.Time, err error) {
	DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	if err != nil {
		DBErrors.WithLabelValues(operation, classify(err)).Inc()
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "query_error"
	}
}
