package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobOutcome(t *testing.T) {
	job := &rivertype.JobRow{Attempt: 1, MaxAttempts: 3}
	assert.Equal(t, JobOK, jobOutcome(job, nil))
	assert.Equal(t, JobRetry, jobOutcome(job, errors.New("boom")))

	job.Attempt = 3
	assert.Equal(t, JobDiscarded, jobOutcome(job, errors.New("boom")))
}

func TestJobHook_RecordsRun(t *testing.T) {
	hook := NewJobHook()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	hook.now = func() time.Time { return clock }

	kind := "test_job_hook"
	ctx := context.Background()
	require.NoError(t, hook.InsertBegin(ctx, &rivertype.JobInsertParams{Kind: kind}))
	assert.Equal(t, 1.0, testutil.ToFloat64(JobsEnqueued.WithLabelValues(kind)))

	job := &rivertype.JobRow{ID: 42, Kind: kind, Attempt: 1, MaxAttempts: 1}
	require.NoError(t, hook.WorkBegin(ctx, job))
	assert.Equal(t, 1.0, testutil.ToFloat64(JobsRunning.WithLabelValues(kind)))

	clock = clock.Add(2 * time.Second)
	require.NoError(t, hook.WorkEnd(ctx, job, errors.New("boom")))
	assert.Equal(t, 0.0, testutil.ToFloat64(JobsRunning.WithLabelValues(kind)))
	assert.Equal(t, 1.0, testutil.ToFloat64(JobsFinished.WithLabelValues(kind, JobDiscarded)))
	assert.Empty(t, hook.started)
}
