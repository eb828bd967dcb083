package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/loadtest"
	"github.com/Togather-Foundation/retriever/internal/testauth"
	"github.com/spf13/cobra"
)

type options struct {
	baseURL     string
	profile     string
	rps         int
	duration    time.Duration
	searchRatio float64
	exportRatio float64
	noRamp      bool
	identifiers []string
	sources     []string
	token       string
	role        string
}

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Drive search traffic against a running server",
		Long: `Send a mix of searches, exports and read requests to a running server and
report latency percentiles per endpoint.

Requests carry an API token signed with JWT_SECRET unless --token is given.

Examples:
  # Predefined profile
  JWT_SECRET=... loadtest --profile medium

  # 5 searches per second for 30 seconds, no ramp
  loadtest --rps 5 --duration 30s --search-ratio 1 --no-ramp --identifier "Jane Doe"`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			authenticator, err := newAuthenticator(opts)
			if err != nil {
				return err
			}
			tester := loadtest.NewLoadTester(opts.baseURL).
				WithAuth(authenticator).
				WithIdentifiers(opts.identifiers).
				WithSources(opts.sources).
				WithProgress(cmd.OutOrStdout())

			config, ok := loadtest.LoadProfiles[loadtest.LoadProfile(opts.profile)]
			if !ok {
				return fmt.Errorf("unknown profile: %s", opts.profile)
			}
			if opts.rps > 0 {
				config.RequestsPerSecond = opts.rps
			}
			if opts.duration > 0 {
				config.Duration = opts.duration
			}
			if cmd.Flags().Changed("search-ratio") {
				config.SearchRatio = opts.searchRatio
			}
			if cmd.Flags().Changed("export-ratio") {
				config.ExportRatio = opts.exportRatio
			}
			if opts.noRamp {
				config.RampUpTime = 0
				config.RampDownTime = 0
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Running load profile: %s\n\n", opts.profile)
			stats, err := tester.RunCustom(ctx, config)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.Report())
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "base URL of the server to test")
	cmd.Flags().StringVar(&opts.profile, "profile", "light", "load profile: light, medium, heavy, stress")
	cmd.Flags().IntVar(&opts.rps, "rps", 0, "requests per second (overrides profile)")
	cmd.Flags().DurationVar(&opts.duration, "duration", 0, "steady-state duration (overrides profile)")
	cmd.Flags().Float64Var(&opts.searchRatio, "search-ratio", 0, "share of requests that search, 0.0-1.0 (overrides profile)")
	cmd.Flags().Float64Var(&opts.exportRatio, "export-ratio", 0, "share of searches that export, 0.0-1.0 (overrides profile)")
	cmd.Flags().BoolVar(&opts.noRamp, "no-ramp", false, "disable ramp-up and ramp-down")
	cmd.Flags().StringArrayVar(&opts.identifiers, "identifier", nil, "identifier to search for (repeatable)")
	cmd.Flags().StringArrayVar(&opts.sources, "source", nil, "limit searches to this source (repeatable)")
	cmd.Flags().StringVar(&opts.token, "token", "", "bearer token to send instead of signing one")
	cmd.Flags().StringVar(&opts.role, "role", string(auth.RoleAdmin), "role claim of the signed token")
	return cmd
}

func newAuthenticator(opts *options) (*testauth.Authenticator, error) {
	if opts.token != "" {
		return testauth.New(testauth.Config{Mode: testauth.AuthModeToken, Token: opts.token})
	}
	if !auth.ValidRole(opts.role) {
		return nil, fmt.Errorf("unknown role: %s", opts.role)
	}
	return testauth.New(testauth.Config{Role: auth.NormalizeRole(opts.role)})
}
