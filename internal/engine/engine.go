// Package engine assembles the search engine from configuration: the
// source registry, connectors, redaction policy, history and exports.
// The HTTP server, the MCP server and the CLI all build on it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/connectors/builtin"
	"github.com/Togather-Foundation/retriever/internal/connectors/filesource"
	"github.com/Togather-Foundation/retriever/internal/domain/history"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/export"
	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/Togather-Foundation/retriever/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SystemActor is recorded for changes made by the process itself.
const SystemActor = "system"

// Options selects the storage backing. With a nil Pool the registry and
// history live in memory and the registry is seeded from
// Config.Search.SourcesDir.
type Options struct {
	Config  config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Auditor audit.Recorder
}

type Engine struct {
	Factory  *connectors.Factory
	Sources  *sources.Service
	History  *history.Service
	Policy   *redact.Store
	Search   *search.Aggregator
	Exporter *export.Service
}

func New(ctx context.Context, opts Options) (*Engine, error) {
	cfg := opts.Config
	logger := opts.Logger
	auditor := opts.Auditor
	if auditor == nil {
		auditor = audit.Discard
	}

	policy, err := OpenPolicy(cfg.Search.RedactionPolicyFile, logger)
	if err != nil {
		return nil, err
	}

	var (
		sourceRepo  sources.Repository
		historyRepo history.Repository
	)
	if opts.Pool != nil {
		repo, err := postgres.NewRepository(opts.Pool)
		if err != nil {
			return nil, fmt.Errorf("repository initialization failed: %w", err)
		}
		sourceRepo = repo.Sources()
		historyRepo = repo.History()
	} else {
		sourceRepo = sources.NewMemoryRepository()
		historyRepo = history.NewMemoryRepository()
	}

	factory := builtin.NewFactory(filesource.NewCache(), cfg.Search.SampleSize)
	sourceSvc := sources.NewService(sourceRepo, factory, auditor, logger)
	historySvc := history.NewService(historyRepo)

	if opts.Pool == nil && cfg.Search.SourcesDir != "" {
		result, err := sourceSvc.SyncDir(ctx, SystemActor, cfg.Search.SourcesDir)
		if err != nil {
			if len(result.Created) == 0 {
				return nil, fmt.Errorf("load sources from %s: %w", cfg.Search.SourcesDir, err)
			}
			logger.Warn().Err(err).Int("loaded", len(result.Created)).Msg("some source descriptors were rejected")
		}
	}

	aggregator := search.New(search.Config{
		Registry:      sourceSvc,
		Querier:       factory,
		Policy:        policy,
		Auditor:       auditor,
		History:       historySvc,
		MaxInFlight:   cfg.Search.MaxInFlight,
		SourceTimeout: cfg.Search.SourceTimeout,
		Logger:        logger,
	})

	exporter := export.NewService(export.Config{
		Dir:        cfg.Export.Dir,
		MaxPDFRows: cfg.Export.MaxPDFRows,
		History:    historySvc,
		Auditor:    auditor,
		Logger:     logger,
	})

	return &Engine{
		Factory:  factory,
		Sources:  sourceSvc,
		History:  historySvc,
		Policy:   policy,
		Search:   aggregator,
		Exporter: exporter,
	}, nil
}

// OpenPolicy loads the redaction policy file, writing the default policy
// there first when the file does not exist yet. An empty path keeps the
// default policy in memory.
func OpenPolicy(path string, logger zerolog.Logger) (*redact.Store, error) {
	if path != "" {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			if err := redact.WriteFile(path, redact.Default()); err != nil {
				return nil, fmt.Errorf("write default redaction policy: %w", err)
			}
			logger.Info().Str("path", path).Msg("wrote default redaction policy")
		}
	}
	store, err := redact.OpenStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("load redaction policy: %w", err)
	}
	return store, nil
}

// Audit is the running audit pipeline and the store admins query.
type Audit struct {
	Emitter *audit.Emitter
	Store   audit.Store
}

// NewAudit starts an emitter writing to the application log, the audit
// file when configured, and Postgres when pool is set. Queries go to
// Postgres when available, otherwise to the file.
func NewAudit(cfg config.AuditConfig, logger zerolog.Logger, pool *pgxpool.Pool) (*Audit, error) {
	sinks := []audit.Sink{audit.NewLogSink(logger)}
	var store audit.Store = audit.FileStore{Path: cfg.LogFile}

	if cfg.LogFile != "" {
		fileSink, err := audit.OpenFileSink(cfg.LogFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
	}
	if pool != nil {
		repo := postgres.NewAuditRepository(pool)
		sinks = append(sinks, repo)
		store = repo
	}

	return &Audit{
		Emitter: audit.NewEmitter(logger, cfg.QueueSize, sinks...),
		Store:   store,
	}, nil
}

// Close drains the emitter within the configured flush timeout.
func (a *Audit) Close(ctx context.Context) error {
	if a == nil || a.Emitter == nil {
		return nil
	}
	return a.Emitter.Close(ctx)
}
