package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/sanitize"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// maxAlertErrorRunes bounds the error text copied into the audit log. A
// failed schema refresh can quote driver output, so the text is also
// stripped of markup and control characters.
const maxAlertErrorRunes = 300

// Failure describes a job run that returned an error or panicked.
type Failure struct {
	Job      *rivertype.JobRow
	Err      error
	Panicked bool
}

// Final reports whether River will not run the job again.
func (f Failure) Final() bool {
	return f.Job.Attempt >= f.Job.MaxAttempts
}

// AlertFunc is invoked for every failed job run.
type AlertFunc func(ctx context.Context, f Failure)

// AuditAlert records job failures in the audit log under the "system" actor.
func AuditAlert(recorder audit.Recorder) AlertFunc {
	if recorder == nil {
		recorder = audit.Discard
	}
	return func(_ context.Context, f Failure) {
		action := "job.failed"
		if f.Panicked {
			action = "job.panicked"
		}
		recorder.Record(audit.Event{
			Actor:        "system",
			Action:       action,
			ResourceType: "job",
			ResourceID:   strconv.FormatInt(f.Job.ID, 10),
			Status:       audit.StatusFailure,
			Details: map[string]string{
				"kind":    f.Job.Kind,
				"attempt": strconv.Itoa(f.Job.Attempt),
				"final":   strconv.FormatBool(f.Final()),
				"error":   sanitize.Label(f.Err.Error(), maxAlertErrorRunes),
			},
		})
	}
}

// AlertingErrorHandler logs job failures and forwards them to Notify. It
// never overrides River's retry decision.
type AlertingErrorHandler struct {
	Logger *slog.Logger
	Notify AlertFunc
}

func NewAlertingErrorHandler(logger *slog.Logger, notify AlertFunc) *AlertingErrorHandler {
	return &AlertingErrorHandler{Logger: logger, Notify: notify}
}

func (h *AlertingErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	h.report(ctx, Failure{Job: job, Err: err})
	return nil
}

func (h *AlertingErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	if h.Logger != nil {
		h.Logger.Debug("job panic trace", "job_id", job.ID, "trace", trace)
	}
	h.report(ctx, Failure{Job: job, Err: fmt.Errorf("panic: %v", panicVal), Panicked: true})
	return nil
}

func (h *AlertingErrorHandler) report(ctx context.Context, f Failure) {
	if h.Logger != nil {
		level := slog.LevelWarn
		if f.Final() || f.Panicked {
			level = slog.LevelError
		}
		h.Logger.Log(ctx, level, "job failed",
			"job_id", f.Job.ID,
			"kind", f.Job.Kind,
			"attempt", f.Job.Attempt,
			"max_attempts", f.Job.MaxAttempts,
			"panic", f.Panicked,
			"error", f.Err,
		)
	}
	if h.Notify != nil {
		h.Notify(ctx, f)
	}
}
