package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = newRootCommand()

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "server",
		Short: "Retriever - federated person search with redaction",
		Long: `Retriever searches every registered data source for records about one
person and returns them grouped, with sensitive values masked.

The server supports:
- Federated search across PostgreSQL, MySQL, SQLite, CSV, JSON and XML sources
- Field-level redaction driven by a hot-reloaded policy file
- CSV and PDF exports of search results
- An append-only audit trail of searches, exports and admin changes
- The same search exposed as an MCP tool`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// No subcommand runs the server.
			return runServer(cmd, "", 0)
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (optional, uses env vars by default)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error) (default: info)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console) (default: json)")

	root.AddCommand(
		newServeCommand(),
		newSearchCommand(),
		newSourcesCommand(),
		newAuditCommand(),
		newMigrateCommand(),
		newCleanupCommand(),
		newHealthcheckCommand(),
		newVersionCommand(),
	)
	return root
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	if configPath != "" {
		if err := config.LoadEnvFile(configPath); err != nil {
			return config.Config{}, err
		}
	}
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}
	return cfg, nil
}

// cliLogger logs to w so result output on stdout stays clean.
func cliLogger(w io.Writer, cfg config.Config) zerolog.Logger {
	return config.NewLoggerTo(w, cfg.Logging)
}
