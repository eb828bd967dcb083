package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/engine"
	"github.com/Togather-Foundation/retriever/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// cliRuntime is what the offline commands share: the engine, the audit
// pipeline and the pool when one was opened.
type cliRuntime struct {
	cfg    config.Config
	logger zerolog.Logger
	pool   *pgxpool.Pool
	audit  *engine.Audit
	engine *engine.Engine
}

// openRuntime builds the engine for a CLI command. With SOURCES_DIR set
// it runs entirely in memory from the descriptor files; otherwise it uses
// the registry in DATABASE_URL.
func openRuntime(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*cliRuntime, error) {
	rt := &cliRuntime{cfg: cfg, logger: logger}

	if cfg.Search.SourcesDir == "" {
		if cfg.Database.URL == "" {
			return nil, fmt.Errorf("set SOURCES_DIR or DATABASE_URL")
		}
		pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.pool = pool
	}

	auditPipeline, err := engine.NewAudit(cfg.Audit, logger, rt.pool)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("audit init failed: %w", err)
	}
	rt.audit = auditPipeline

	eng, err := engine.New(ctx, engine.Options{
		Config:  cfg,
		Logger:  logger,
		Pool:    rt.pool,
		Auditor: auditPipeline.Emitter,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.engine = eng
	return rt, nil
}

// close drains the audit trail before releasing the pool.
func (rt *cliRuntime) close() {
	if rt.audit != nil {
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Audit.FlushTimeout)
		if err := rt.audit.Close(ctx); err != nil {
			rt.logger.Error().Err(err).Msg("audit flush incomplete")
		}
		cancel()
	}
	if rt.pool != nil {
		rt.pool.Close()
	}
}

// openOutput returns stdout for an empty path.
func openOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, f.Close, nil
}
