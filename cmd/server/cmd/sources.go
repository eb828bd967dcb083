package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/engine"
	"github.com/spf13/cobra"
)

func newSourcesCommand() *cobra.Command {
	var format string
	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "Inspect and manage data source descriptors",
		Long: `Inspect and manage the data source registry.

Like search, these commands read SOURCES_DIR when it is set and the
registry in DATABASE_URL otherwise.

Examples:
  # List every registered source
  server sources list

  # Check that a source is reachable
  server sources test crm

  # Show the live schema of a source
  server sources describe crm --format json

  # Load descriptor files into the database registry
  server sources sync ./sources`,
	}
	sourcesCmd.PersistentFlags().StringVar(&format, "format", "table", "output format (table, json)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			return withRuntime(cmd, func(rt *cliRuntime) error {
				list, err := rt.engine.Sources.List(cmd.Context(), !all)
				if err != nil {
					return err
				}
				public := make([]sources.Descriptor, 0, len(list))
				for _, d := range list {
					public = append(public, d.Public())
				}
				if format == "json" {
					return writeJSON(cmd.OutOrStdout(), public)
				}
				return printSources(cmd.OutOrStdout(), public)
			})
		},
	}
	listCmd.Flags().Bool("all", false, "include deactivated sources")

	testCmd := &cobra.Command{
		Use:   "test <name>",
		Short: "Connect to a source and report latency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *cliRuntime) error {
				result, err := rt.engine.Sources.Test(cmd.Context(), "cli", args[0])
				if err != nil {
					return err
				}
				if format == "json" {
					if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
						return err
					}
				} else if result.OK {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d ms)\n", result.Name, result.LatencyMS)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: failed (%d ms): %s\n", result.Name, result.LatencyMS, result.Error)
				}
				if !result.OK {
					return fmt.Errorf("source %s is unreachable", result.Name)
				}
				return nil
			})
		},
	}

	describeCmd := &cobra.Command{
		Use:   "describe <name>",
		Short: "Show the live schema of a source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *cliRuntime) error {
				fields, err := rt.engine.Sources.Describe(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if format == "json" {
					return writeJSON(cmd.OutOrStdout(), fields)
				}
				return printFields(cmd.OutOrStdout(), fields)
			})
		},
	}

	syncCmd := &cobra.Command{
		Use:   "sync <dir>",
		Short: "Create or update sources from descriptor files",
		Long: `Create or update a registry entry for every descriptor file in dir.
Existing sources keep their identity and creation metadata. Files that
fail validation are reported and skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(rt *cliRuntime) error {
				result, syncErr := rt.engine.Sources.SyncDir(cmd.Context(), engine.SystemActor, args[0])
				if format == "json" {
					if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
						return err
					}
				} else {
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "created: %s\n", joinOrNone(result.Created))
					fmt.Fprintf(out, "updated: %s\n", joinOrNone(result.Updated))
					fmt.Fprintf(out, "failed:  %s\n", joinOrNone(result.Failed))
				}
				return syncErr
			})
		},
	}

	sourcesCmd.AddCommand(listCmd, testCmd, describeCmd, syncCmd)
	return sourcesCmd
}

// withRuntime opens the engine for one command and closes it afterwards.
func withRuntime(cmd *cobra.Command, fn func(rt *cliRuntime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	rt, err := openRuntime(cmd.Context(), cfg, cliLogger(cmd.ErrOrStderr(), cfg))
	if err != nil {
		return err
	}
	defer rt.close()
	return fn(rt)
}

func printSources(w io.Writer, list []sources.Descriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tSTATUS\tFIELDS\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t----\t------\t------\t-----------")
	for _, d := range list {
		status := "active"
		if !d.Active {
			status = "inactive"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", d.Name, d.Kind, status, len(d.Schema), d.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%d source(s)\n", len(list))
	return nil
}

func printFields(w io.Writer, fields []sources.FieldDescriptor) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tFIELD\tTYPE\tFLAGS")
	fmt.Fprintln(tw, "-----\t-----\t----\t-----")
	for _, f := range fields {
		var flags []string
		if f.Identity {
			flags = append(flags, "identity")
		}
		if f.Sensitive {
			flags = append(flags, "sensitive")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Table, f.Name, f.Type, strings.Join(flags, ","))
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func joinOrNone(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
