package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/history"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/export"
	"github.com/riverqueue/river"
)

type SchemaRefreshArgs struct {
	// Source limits the refresh to one descriptor. Empty refreshes every
	// active source.
	Source string `json:"source,omitempty"`
}

func (SchemaRefreshArgs) Kind() string { return JobKindSchemaRefresh }

type ExportCleanupArgs struct {
	DryRun bool `json:"dry_run,omitempty"`
}

func (ExportCleanupArgs) Kind() string { return JobKindExportCleanup }

// SchemaRefresher is the part of sources.Service the refresh job needs.
type SchemaRefresher interface {
	ListActive(ctx context.Context) ([]sources.Descriptor, error)
	RefreshSchema(ctx context.Context, name string) ([]sources.FieldDescriptor, error)
}

// SchemaRefreshWorker re-introspects active sources and stores the
// captured schema on each descriptor. Offline sources are logged and
// skipped; the job fails only when every source failed.
type SchemaRefreshWorker struct {
	river.WorkerDefaults[SchemaRefreshArgs]
	Sources SchemaRefresher
	Logger  *slog.Logger
}

func (SchemaRefreshWorker) Kind() string { return JobKindSchemaRefresh }

func (w SchemaRefreshWorker) Timeout(*river.Job[SchemaRefreshArgs]) time.Duration {
	return 10 * time.Minute
}

func (w SchemaRefreshWorker) Work(ctx context.Context, job *river.Job[SchemaRefreshArgs]) error {
	if job == nil {
		return fmt.Errorf("schema refresh job missing")
	}
	if w.Sources == nil {
		return fmt.Errorf("schema refresh: no source service configured")
	}
	logger := loggerOr(w.Logger)

	var names []string
	if job.Args.Source != "" {
		names = []string{job.Args.Source}
	} else {
		active, err := w.Sources.ListActive(ctx)
		if err != nil {
			return fmt.Errorf("list active sources: %w", err)
		}
		for _, d := range active {
			names = append(names, d.Name)
		}
	}

	logger.InfoContext(ctx, "starting schema refresh", "sources", len(names))

	var errs []error
	refreshed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields, err := w.Sources.RefreshSchema(ctx, name)
		if err != nil {
			logger.WarnContext(ctx, "schema refresh failed", "source", name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		refreshed++
		logger.DebugContext(ctx, "schema refreshed", "source", name, "fields", len(fields))
	}

	logger.InfoContext(ctx, "schema refresh completed", "refreshed", refreshed, "failed", len(errs))
	if len(names) > 0 && refreshed == 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ExportExpirer is the part of history.Service the cleanup job needs.
type ExportExpirer interface {
	ExpireExports(ctx context.Context, cutoff time.Time) ([]history.ExportRecord, error)
}

// ExportCleanupWorker deletes export files and their history records once
// they are older than Retention.
type ExportCleanupWorker struct {
	river.WorkerDefaults[ExportCleanupArgs]
	Dir       string
	Retention time.Duration
	History   ExportExpirer
	Logger    *slog.Logger
	Now       func() time.Time
}

func (ExportCleanupWorker) Kind() string { return JobKindExportCleanup }

func (w ExportCleanupWorker) Work(ctx context.Context, job *river.Job[ExportCleanupArgs]) error {
	if job == nil {
		return fmt.Errorf("export cleanup job missing")
	}
	if w.Retention <= 0 {
		return nil
	}
	logger := loggerOr(w.Logger)
	now := time.Now().UTC()
	if w.Now != nil {
		now = w.Now()
	}

	logger.InfoContext(ctx, "starting export cleanup", "dir", w.Dir, "retention", w.Retention.String(), "dry_run", job.Args.DryRun)

	deleted, err := export.Cleanup(w.Dir, w.Retention, now, job.Args.DryRun)
	if err != nil {
		return fmt.Errorf("clean export dir: %w", err)
	}

	expired := 0
	if w.History != nil && !job.Args.DryRun {
		records, err := w.History.ExpireExports(ctx, now.Add(-w.Retention))
		if err != nil {
			return fmt.Errorf("expire export records: %w", err)
		}
		expired = len(records)
	}

	logger.InfoContext(ctx, "export cleanup completed", "files", len(deleted), "records", expired)
	return nil
}

// Dependencies holds what the workers need.
type Dependencies struct {
	Sources         SchemaRefresher
	History         ExportExpirer
	ExportDir       string
	ExportRetention time.Duration
	Logger          *slog.Logger
}

// NewWorkers registers every worker the server runs.
func NewWorkers(deps Dependencies) *river.Workers {
	workers := river.NewWorkers()
	river.AddWorker[SchemaRefreshArgs](workers, SchemaRefreshWorker{
		Sources: deps.Sources,
		Logger:  deps.Logger,
	})
	river.AddWorker[ExportCleanupArgs](workers, ExportCleanupWorker{
		Dir:       deps.ExportDir,
		Retention: deps.ExportRetention,
		History:   deps.History,
		Logger:    deps.Logger,
	})
	return workers
}

func loggerOr(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
