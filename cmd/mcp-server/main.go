package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/engine"
	"github.com/Togather-Foundation/retriever/internal/mcp"
	"github.com/Togather-Foundation/retriever/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// shutdownTimeout is the maximum time to wait for graceful shutdown.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is separated from main() so deferred cleanup runs before os.Exit.
func run() error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// stdout carries the stdio protocol, so logs always go to stderr.
	logger := config.NewLoggerTo(os.Stderr, cfg.Base.Logging)

	log.Info().
		Str("transport", string(cfg.Transport.Type)).
		Str("mcp_name", cfg.MCP.Name).
		Str("mcp_version", cfg.MCP.Version).
		Str("environment", cfg.Base.Environment).
		Msg("Starting MCP server")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	tokens, err := auth.NewJWTManager(cfg.Base.Auth.JWTSecret, cfg.Base.Auth.JWTExpiry, auth.PurposeMCP)
	if err != nil {
		return fmt.Errorf("jwt init failed: %w", err)
	}
	var claims *auth.Claims
	if cfg.Transport.Type == mcp.TransportStdio {
		claims, err = tokens.Validate(cfg.Token)
		if err != nil {
			return fmt.Errorf("invalid MCP_TOKEN: %w", err)
		}
	}

	// Descriptor files take precedence; the database registry is used
	// otherwise.
	var pool *pgxpool.Pool
	if cfg.Base.Search.SourcesDir == "" {
		pool, err = postgres.NewPool(ctx, cfg.Base.Database.URL, cfg.Base.Database.MaxConnections)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()
		log.Info().Msg("Database connection established")
	}

	auditPipeline, err := engine.NewAudit(cfg.Base.Audit, logger, pool)
	if err != nil {
		return fmt.Errorf("audit init failed: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.Base.Audit.FlushTimeout)
		defer flushCancel()
		if err := auditPipeline.Close(flushCtx); err != nil {
			log.Warn().Err(err).Msg("audit flush incomplete")
		}
	}()

	eng, err := engine.New(ctx, engine.Options{
		Config:  cfg.Base,
		Logger:  logger,
		Pool:    pool,
		Auditor: auditPipeline.Emitter,
	})
	if err != nil {
		return err
	}
	if cfg.Base.Search.WatchPolicy && cfg.Base.Search.RedactionPolicyFile != "" {
		go func() {
			if err := eng.Policy.Watch(ctx); err != nil {
				log.Warn().Err(err).Msg("redaction policy watch stopped")
			}
		}()
	}

	mcpServer := mcp.NewServer(
		mcp.Config{
			Name:      cfg.MCP.Name,
			Version:   cfg.MCP.Version,
			Transport: string(cfg.Transport.Type),
		},
		mcp.Dependencies{
			Searcher: eng.Search,
			Sources:  eng.Sources,
			Policy:   eng.Policy,
		},
	)

	serverErr := make(chan error, 1)
	go func() {
		var err error
		switch cfg.Transport.Type {
		case mcp.TransportHTTP:
			err = mcp.ServeHTTP(ctx, mcpServer.MCPServer(), cfg.Transport, tokens, cfg.Base.RateLimit, cfg.Base.Environment)
		default:
			err = mcp.ServeStdio(ctx, mcpServer.MCPServer(), claims)
		}
		if err != nil && ctx.Err() == nil {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := mcpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("MCP server shutdown error")
	}

	select {
	case <-shutdownCtx.Done():
		log.Warn().Msg("Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout exceeded")
	case err := <-serverErr:
		if err != nil {
			log.Warn().Err(err).Msg("Server error during shutdown")
		}
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
