package cmd

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/export"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/spf13/cobra"
)

type searchOptions struct {
	sources []string
	fields  []string
	format  string
	out     string
	actor   string
}

func newSearchCommand() *cobra.Command {
	opts := &searchOptions{}
	searchCmd := &cobra.Command{
		Use:   "search <identifier>",
		Short: "Search every active source for one person",
		Long: `Search every active data source for records matching an identifier and
print the grouped, redacted results.

Sources come from SOURCES_DIR when it is set (no database needed),
otherwise from the registry in DATABASE_URL. The search is audited and
recorded in history like an API search.

Examples:
  # Search all sources defined in ./sources
  SOURCES_DIR=./sources server search "Jane Doe"

  # Only the crm and hr sources, matching on email
  server search jane@example.com --source crm --source hr --field email

  # Write a PDF report
  server search "Jane Doe" --format pdf --out jane.pdf`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd, args[0], opts)
		},
	}

	searchCmd.Flags().StringArrayVar(&opts.sources, "source", nil, "limit the search to this source (repeatable)")
	searchCmd.Flags().StringArrayVar(&opts.fields, "field", nil, "match on this field instead of each source's identity fields (repeatable)")
	searchCmd.Flags().StringVar(&opts.format, "format", "json", "output format (json, csv, pdf)")
	searchCmd.Flags().StringVarP(&opts.out, "out", "o", "", "write output to this file (default: stdout)")
	searchCmd.Flags().StringVar(&opts.actor, "actor", "cli", "actor recorded in the audit log")
	return searchCmd
}

func runSearch(cmd *cobra.Command, identifier string, opts *searchOptions) error {
	format := strings.ToLower(strings.TrimSpace(opts.format))
	if format != "json" {
		if _, err := export.ParseFormat(format); err != nil {
			return fmt.Errorf("--format must be json, csv or pdf")
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	logger := cliLogger(cmd.ErrOrStderr(), cfg)

	rt, err := openRuntime(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	outcome, err := rt.engine.Search.Search(cmd.Context(), search.Request{
		Identifier: identifier,
		Actor:      opts.actor,
		Sources:    opts.sources,
		Fields:     opts.fields,
	})
	if err != nil {
		return err
	}

	w, closeOut, err := openOutput(opts.out, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	if err := writeOutcome(w, format, outcome, cfg.Export.MaxPDFRows); err != nil {
		_ = closeOut()
		return err
	}
	if err := closeOut(); err != nil {
		return err
	}

	if outcome.SourcesErrored > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d of %d sources failed: %s\n",
			outcome.SourcesErrored, outcome.SourcesQueried, strings.Join(outcome.ErroredSources(), ", "))
	}
	return nil
}

func writeOutcome(w io.Writer, format string, out *search.Outcome, maxPDFRows int) error {
	switch format {
	case "csv":
		_, err := export.WriteCSV(w, out)
		return err
	case "pdf":
		_, err := export.WritePDF(w, out, export.PDFOptions{
			Title:       "Search results for " + out.Identifier,
			MaxRows:     maxPDFRows,
			GeneratedAt: time.Now().UTC(),
		})
		return err
	default:
		return writeJSON(w, out)
	}
}
