package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// Job outcomes recorded by JobHook.
const (
	JobOK        = "ok"
	JobRetry     = "retry"
	JobDiscarded = "discarded"
)

// Background job metrics (schema refresh, export cleanup).
var (
	JobsEnqueued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_enqueued_total",
			Help:      "Background jobs enqueued, by kind",
		},
		[]string{"kind"},
	)

	JobsRunning = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Background jobs currently executing, by kind",
		},
		[]string{"kind"},
	)

	JobDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Background job run time in seconds",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 300},
		},
		[]string{"kind"},
	)

	JobsFinished = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Background job runs by kind and outcome (ok, retry, discarded)",
		},
		[]string{"kind", "outcome"},
	)
)

// JobHook records queue metrics from River's insert and work hooks.
type JobHook struct {
	river.HookDefaults
	mu      sync.Mutex
	started map[int64]time.Time
	now     func() time.Time
}

func NewJobHook() *JobHook {
	return &JobHook{started: make(map[int64]time.Time), now: time.Now}
}

func (h *JobHook) InsertBegin(_ context.Context, params *rivertype.JobInsertParams) error {
	JobsEnqueued.WithLabelValues(params.Kind).Inc()
	return nil
}

func (h *JobHook) WorkBegin(_ context.Context, job *rivertype.JobRow) error {
	JobsRunning.WithLabelValues(job.Kind).Inc()
	h.mu.Lock()
	h.started[job.ID] = h.now()
	h.mu.Unlock()
	return nil
}

func (h *JobHook) WorkEnd(_ context.Context, job *rivertype.JobRow, err error) error {
	JobsRunning.WithLabelValues(job.Kind).Dec()

	h.mu.Lock()
	start, ok := h.started[job.ID]
	delete(h.started, job.ID)
	h.mu.Unlock()
	if ok {
		JobDuration.WithLabelValues(job.Kind).Observe(h.now().Sub(start).Seconds())
	}

	JobsFinished.WithLabelValues(job.Kind, jobOutcome(job, err)).Inc()
	return nil
}

// jobOutcome distinguishes a failure River will retry from the final attempt.
func jobOutcome(job *rivertype.JobRow, err error) string {
	switch {
	case err == nil:
		return JobOK
	case job.Attempt < job.MaxAttempts:
		return JobRetry
	default:
		return JobDiscarded
	}
}
