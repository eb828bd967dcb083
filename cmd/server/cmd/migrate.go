package cmd

import (
	"fmt"

	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/storage/postgres"
	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var path string
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long: `Apply or roll back the registry, user, history and audit schema.

Migrations are compiled into the binary; --path points at a directory of
migration files to use instead.

Examples:
  # Apply every pending migration, including River's job tables
  server migrate up

  # Roll back the last migration
  server migrate down --steps 1

  # Show the current schema version
  server migrate version`,
	}
	migrateCmd.PersistentFlags().StringVar(&path, "path", "", "migrations directory (default: embedded migrations)")

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := migrationConfig()
			if err != nil {
				return err
			}
			if err := postgres.MigrateUp(cfg.Database.URL, path); err != nil {
				return err
			}
			pool, err := postgres.NewPool(cmd.Context(), cfg.Database.URL, 2)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer pool.Close()
			if err := postgres.MigrateRiver(cmd.Context(), pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}

	var steps int
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := migrationConfig()
			if err != nil {
				return err
			}
			if err := postgres.MigrateDown(cfg.Database.URL, path, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	downCmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := migrationConfig()
			if err != nil {
				return err
			}
			version, dirty, err := postgres.MigrateVersion(cfg.Database.URL, path)
			if err != nil {
				return err
			}
			if dirty {
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty)\n", version)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d\n", version)
			return nil
		},
	}

	migrateCmd.AddCommand(upCmd, downCmd, versionCmd)
	return migrateCmd
}

func migrationConfig() (config.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	if cfg.Database.URL == "" {
		return config.Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}
