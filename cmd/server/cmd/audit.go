package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/engine"
	"github.com/Togather-Foundation/retriever/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
)

type auditOptions struct {
	format string
	since  string
	until  string
	actor  string
	action string
	limit  int
	out    string
}

func newAuditCommand() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
	}

	opts := &auditOptions{}
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export audit events as CSV or JSON",
		Long: `Export audit events, newest first. Events come from Postgres when
DATABASE_URL is set, otherwise from AUDIT_LOG_FILE. The export itself is
recorded in the audit log.

--since and --until accept RFC 3339 timestamps, plain dates and relative
expressions such as "yesterday" or "3 days ago".

Examples:
  # Everything alice did in the last week
  server audit export --actor alice --since "7 days ago"

  # All searches as JSON
  server audit export --action search --format json --out searches.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuditExport(cmd, opts)
		},
	}
	exportCmd.Flags().StringVar(&opts.format, "format", "csv", "output format (csv, json)")
	exportCmd.Flags().StringVar(&opts.since, "since", "", "only events at or after this time")
	exportCmd.Flags().StringVar(&opts.until, "until", "", "only events before this time")
	exportCmd.Flags().StringVar(&opts.actor, "actor", "", "only events by this actor")
	exportCmd.Flags().StringVar(&opts.action, "action", "", "only events with this action")
	exportCmd.Flags().IntVar(&opts.limit, "limit", audit.MaxListLimit, "maximum number of events")
	exportCmd.Flags().StringVarP(&opts.out, "out", "o", "", "write output to this file (default: stdout)")

	auditCmd.AddCommand(exportCmd)
	return auditCmd
}

func runAuditExport(cmd *cobra.Command, opts *auditOptions) error {
	format := strings.ToLower(strings.TrimSpace(opts.format))
	if format != "csv" && format != "json" {
		return fmt.Errorf("--format must be csv or json")
	}
	now := time.Now().UTC()
	since, err := audit.ParseTime(opts.since, now)
	if err != nil {
		return fmt.Errorf("--since: %w", err)
	}
	until, err := audit.ParseTime(opts.until, now)
	if err != nil {
		return fmt.Errorf("--until: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := cliLogger(cmd.ErrOrStderr(), cfg)

	var pool *pgxpool.Pool
	if cfg.Database.URL != "" {
		pool, err = postgres.NewPool(cmd.Context(), cfg.Database.URL, cfg.Database.MaxConnections)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()
	}
	auditPipeline, err := engine.NewAudit(cfg.Audit, logger, pool)
	if err != nil {
		return fmt.Errorf("audit init failed: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Audit.FlushTimeout)
		defer cancel()
		if err := auditPipeline.Close(ctx); err != nil {
			logger.Error().Err(err).Msg("audit flush incomplete")
		}
	}()

	events, err := auditPipeline.Store.List(cmd.Context(), audit.Filter{
		Actor:  strings.TrimSpace(opts.actor),
		Action: strings.TrimSpace(opts.action),
		Since:  since,
		Until:  until,
		Limit:  opts.limit,
	})
	if err != nil {
		return fmt.Errorf("read audit log: %w", err)
	}

	w, closeOut, err := openOutput(opts.out, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if format == "json" {
		err = audit.WriteJSON(w, events)
	} else {
		err = audit.WriteCSV(w, events)
	}
	if closeErr := closeOut(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write audit export: %w", err)
	}

	auditPipeline.Emitter.Record(audit.Event{
		Actor:        "cli",
		Action:       audit.ActionAuditExport,
		ResourceType: "audit",
		Status:       audit.StatusSuccess,
		Details: map[string]string{
			"format": format,
			"events": strconv.Itoa(len(events)),
		},
	})
	return nil
}
