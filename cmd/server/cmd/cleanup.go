package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/history"
	"github.com/Togather-Foundation/retriever/internal/export"
	"github.com/Togather-Foundation/retriever/internal/storage/postgres"
	"github.com/spf13/cobra"
)

type cleanupOptions struct {
	dryRun        bool
	retentionDays int
	dir           string
}

func newCleanupCommand() *cobra.Command {
	opts := &cleanupOptions{}
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete export files past their retention period",
		Long: `Delete export files older than the retention period and, when
DATABASE_URL is set, the matching export history records.

The server runs the same sweep on a schedule; this command is for one-off
runs and for deployments with JOBS_ENABLED=false.

Examples:
  # Dry run to see what would be deleted
  server cleanup --dry-run

  # Keep only the last 7 days of exports
  server cleanup --retention-days 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd, opts)
		},
	}

	cleanupCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show what would be deleted without deleting")
	cleanupCmd.Flags().IntVar(&opts.retentionDays, "retention-days", 0, "days of exports to keep (default: EXPORT_RETENTION_DAYS)")
	cleanupCmd.Flags().StringVar(&opts.dir, "dir", "", "export directory (default: EXPORTS_DIR)")
	return cleanupCmd
}

func runCleanup(cmd *cobra.Command, opts *cleanupOptions) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	dir := cfg.Export.Dir
	if opts.dir != "" {
		dir = opts.dir
	}
	days := cfg.Export.RetentionDays
	if opts.retentionDays > 0 {
		days = opts.retentionDays
	}
	if days <= 0 {
		return fmt.Errorf("retention must be at least one day")
	}
	retention := time.Duration(days) * 24 * time.Hour
	now := time.Now().UTC()

	deleted, err := export.Cleanup(dir, retention, now, opts.dryRun)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	verb := "deleted"
	if opts.dryRun {
		verb = "would delete"
	}
	if len(deleted) > 0 {
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "FILE\tSIZE\tAGE")
		for _, f := range deleted {
			fmt.Fprintf(tw, "%s\t%d\t%s\n", f.Name, f.Size, f.Age.Truncate(time.Hour))
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "%s %d export file(s) older than %d day(s) in %s\n", verb, len(deleted), days, dir)

	if opts.dryRun || cfg.Database.URL == "" {
		return nil
	}
	pool, err := postgres.NewPool(cmd.Context(), cfg.Database.URL, 2)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	records, err := history.NewService(postgres.NewHistoryRepository(pool)).ExpireExports(cmd.Context(), now.Add(-retention))
	if err != nil {
		return fmt.Errorf("expire export records: %w", err)
	}
	fmt.Fprintf(out, "expired %d export history record(s)\n", len(records))
	return nil
}
