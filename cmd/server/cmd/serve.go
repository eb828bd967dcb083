package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api"
	"github.com/Togather-Foundation/retriever/internal/api/handlers"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/domain/users"
	"github.com/Togather-Foundation/retriever/internal/engine"
	"github.com/Togather-Foundation/retriever/internal/jobs"
	"github.com/Togather-Foundation/retriever/internal/mcp"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"github.com/Togather-Foundation/retriever/internal/storage/postgres"
	"github.com/Togather-Foundation/retriever/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newServeCommand() *cobra.Command {
	var (
		serverHost string
		serverPort int
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Retriever HTTP server",
		Long: `Start the Retriever HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables (or --config file if provided)
- Apply database migrations, including River's job tables
- Bootstrap the super admin if ADMIN_* env vars are set
- Serve the REST API, /metrics and the MCP endpoint at /mcp
- Run schema refresh and export cleanup jobs
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  server serve --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd, serverHost, serverPort)
		},
	}

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8080)")
	return serveCmd
}

func runServer(cmd *cobra.Command, host string, port int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := cfg.RequireServer(); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if host != "" {
		cfg.Server.Host = host
	}
	if port != 0 {
		cfg.Server.Port = port
	}

	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Msg("starting retriever server")
	metrics.Init(Version, GitCommit, BuildDate)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	pool, err := postgres.NewPool(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	if err := postgres.MigrateUp(cfg.Database.URL, ""); err != nil {
		return err
	}
	if err := postgres.MigrateRiver(ctx, pool); err != nil {
		return err
	}
	logger.Info().Msg("database migrations applied")

	auditPipeline, err := engine.NewAudit(cfg.Audit, logger, pool)
	if err != nil {
		return fmt.Errorf("audit init failed: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), cfg.Audit.FlushTimeout)
		defer cancel()
		if err := auditPipeline.Close(closeCtx); err != nil {
			logger.Error().Err(err).Msg("audit flush incomplete")
		}
	}()

	eng, err := engine.New(ctx, engine.Options{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		Auditor: auditPipeline.Emitter,
	})
	if err != nil {
		return err
	}
	if cfg.Search.WatchPolicy && cfg.Search.RedactionPolicyFile != "" {
		go func() {
			if err := eng.Policy.Watch(ctx); err != nil {
				logger.Warn().Err(err).Msg("redaction policy watch stopped")
			}
		}()
	}

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository initialization failed: %w", err)
	}
	userSvc := users.NewService(repo.Users(), auditPipeline.Emitter, logger)
	bootstrapAdminUser(ctx, cfg, userSvc, logger)

	dbCollector := metrics.NewDBCollector(pool)
	go dbCollector.Start(ctx, 15*time.Second)
	defer dbCollector.Stop()

	riverClient, err := startJobs(ctx, cfg, eng, pool, auditPipeline, logger)
	if err != nil {
		return err
	}
	if riverClient != nil {
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := riverClient.Stop(stopCtx); err != nil {
				logger.Error().Err(err).Msg("river workers shutdown error")
			} else {
				logger.Info().Msg("river workers stopped")
			}
		}()
	}

	apiTokens, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, auth.PurposeAPI)
	if err != nil {
		return fmt.Errorf("jwt init failed: %w", err)
	}
	mcpTokens, err := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTExpiry, auth.PurposeMCP)
	if err != nil {
		return fmt.Errorf("jwt init failed: %w", err)
	}
	mcpServer := mcp.NewServer(mcp.Config{Name: "retriever", Version: Version, Transport: string(mcp.TransportHTTP)}, mcp.Dependencies{
		Searcher: eng.Search,
		Sources:  eng.Sources,
		Policy:   eng.Policy,
	})

	handler := api.NewRouter(api.Dependencies{
		Config:     cfg,
		Logger:     logger,
		JWTManager: apiTokens,
		Health:     handlers.NewHealthChecker(pool, riverClient, eng.Sources, Version, GitCommit),
		Users:      userSvc,
		Searcher:   eng.Search,
		Exporter:   eng.Exporter,
		History:    eng.History,
		Sources:    eng.Sources,
		Policy:     eng.Policy,
		AuditStore: auditPipeline.Store,
		Auditor:    auditPipeline.Emitter,
		MCP:        mcp.Handler(mcpServer.MCPServer(), mcpTokens, cfg.Environment),
		Version:    Version,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2 * time.Minute, // PDF exports of large outcomes
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return gracefulShutdown(ctx, server, errCh, logger)
}

// startJobs runs the River workers unless JOBS_ENABLED is false. The
// returned client is nil when jobs are disabled.
func startJobs(ctx context.Context, cfg config.Config, eng *engine.Engine, pool *pgxpool.Pool, auditPipeline *engine.Audit, logger zerolog.Logger) (*river.Client[pgx.Tx], error) {
	if !cfg.Jobs.Enabled {
		logger.Warn().Msg("background jobs disabled")
		return nil, nil
	}
	slogger := config.NewSlogLogger(os.Stdout, cfg.Logging.Level)
	client, err := jobs.NewClient(pool, jobs.ClientOptions{
		Workers: jobs.NewWorkers(jobs.Dependencies{
			Sources:         eng.Sources,
			History:         eng.History,
			ExportDir:       cfg.Export.Dir,
			ExportRetention: time.Duration(cfg.Export.RetentionDays) * 24 * time.Hour,
			Logger:          slogger,
		}),
		Logger:       slogger,
		Hooks:        []rivertype.Hook{metrics.NewJobHook()},
		PeriodicJobs: jobs.NewPeriodicJobs(cfg.Jobs),
		Retry:        jobs.NewRetryPolicyFromConfig(cfg.Jobs),
		Alert:        jobs.AuditAlert(auditPipeline.Emitter),
	})
	if err != nil {
		return nil, fmt.Errorf("river client init failed: %w", err)
	}
	if err := client.Start(ctx); err != nil {
		return nil, fmt.Errorf("river workers failed to start: %w", err)
	}
	logger.Info().Msg("river background job workers started")
	return client, nil
}

// bootstrapAdminUser creates the configured super admin on first start.
// Failures are logged; the server still starts.
func bootstrapAdminUser(ctx context.Context, cfg config.Config, svc *users.Service, logger zerolog.Logger) {
	bootstrap := cfg.AdminBootstrap
	if bootstrap.Username == "" || bootstrap.Password == "" || bootstrap.Email == "" {
		logger.Warn().Msg("admin bootstrap env vars not fully set; skipping")
		return
	}
	created, err := svc.EnsureBootstrapAdmin(ctx, bootstrap.Username, bootstrap.Password, bootstrap.Email)
	if err != nil {
		logger.Error().Err(err).Msg("admin bootstrap failed")
		return
	}
	if !created {
		return
	}
	// Email stays out of production logs.
	if cfg.Environment == "production" {
		logger.Info().Str("username", bootstrap.Username).Msg("bootstrapped admin user")
	} else {
		logger.Info().Str("email", bootstrap.Email).Str("username", bootstrap.Username).Msg("bootstrapped admin user")
	}
}

func gracefulShutdown(ctx context.Context, server *http.Server, errCh <-chan error, logger zerolog.Logger) error {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error().Err(err).Msg("http server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
