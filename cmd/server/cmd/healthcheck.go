package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/handlers"
	"github.com/Togather-Foundation/retriever/internal/validation"
	"github.com/spf13/cobra"
)

type healthcheckOptions struct {
	url        string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
	format     string
	strict     bool
}

// HealthCheckResult is the outcome of probing one readiness endpoint.
type HealthCheckResult struct {
	URL        string                `json:"url"`
	Status     string                `json:"status"`
	StatusCode int                   `json:"status_code,omitempty"`
	IsHealthy  bool                  `json:"healthy"`
	LatencyMs  int64                 `json:"latency_ms"`
	RetryCount int                   `json:"retry_count,omitempty"`
	Error      string                `json:"error,omitempty"`
	Response   *handlers.HealthCheck `json:"response,omitempty"`
}

func newHealthcheckCommand() *cobra.Command {
	opts := &healthcheckOptions{}
	healthcheckCmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Check if the server is healthy",
		Long: `Performs a health check by calling the /readyz endpoint.

This command is used by Docker HEALTHCHECK to monitor container health.
It exits with code 0 if the server is healthy, non-zero otherwise. A
degraded server (for example no active sources) passes unless --strict
is set.

Examples:
  # Check the local server
  server healthcheck

  # Check a remote server, retrying while it starts
  server healthcheck --url https://retriever.example.org/readyz --retries 5

  # Show every check
  server healthcheck --format table`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			url := opts.url
			if url == "" {
				url = defaultHealthURL()
			}
			if err := validation.ValidateURL(url, "--url", false); err != nil {
				return err
			}
			result := performHealthCheckWithRetries(cmd.Context(), url, opts)
			if err := outputResult(cmd.OutOrStdout(), result, opts.format); err != nil {
				return err
			}
			if !result.IsHealthy {
				if result.Error != "" {
					return fmt.Errorf("health check failed: %s", result.Error)
				}
				return fmt.Errorf("unhealthy: status=%s", result.Status)
			}
			return nil
		},
	}

	healthcheckCmd.Flags().StringVar(&opts.url, "url", "", "health check URL (default: http://localhost:{SERVER_PORT}/readyz)")
	healthcheckCmd.Flags().DurationVar(&opts.timeout, "timeout", 5*time.Second, "timeout per attempt")
	healthcheckCmd.Flags().IntVar(&opts.retries, "retries", 0, "retries after a failed attempt")
	healthcheckCmd.Flags().DurationVar(&opts.retryDelay, "retry-delay", 2*time.Second, "delay between attempts")
	healthcheckCmd.Flags().StringVar(&opts.format, "format", "simple", "output format (simple, table, json)")
	healthcheckCmd.Flags().BoolVar(&opts.strict, "strict", false, "treat a degraded server as unhealthy")
	return healthcheckCmd
}

func defaultHealthURL() string {
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}
	return fmt.Sprintf("http://localhost:%s/readyz", port)
}

func performHealthCheckWithRetries(ctx context.Context, url string, opts *healthcheckOptions) HealthCheckResult {
	result := performHealthCheck(ctx, url, opts)
	for attempt := 1; attempt <= opts.retries && !result.IsHealthy; attempt++ {
		select {
		case <-ctx.Done():
			result.Error = ctx.Err().Error()
			return result
		case <-time.After(opts.retryDelay):
		}
		result = performHealthCheck(ctx, url, opts)
		result.RetryCount = attempt
	}
	return result
}

func performHealthCheck(ctx context.Context, url string, opts *healthcheckOptions) HealthCheckResult {
	result := HealthCheckResult{URL: url, Status: "unreachable"}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		result.Error = fmt.Sprintf("create request: %v", err)
		return result
	}

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	result.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		result.Error = err.Error()
		return result
	}
	defer func() { _ = resp.Body.Close() }()
	result.StatusCode = resp.StatusCode

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		result.Error = fmt.Sprintf("read response: %v", err)
		return result
	}
	health, err := handlers.DecodeHealth(body)
	if err != nil {
		result.Status = "invalid"
		result.Error = fmt.Sprintf("invalid response: %v", err)
		return result
	}
	result.Response = &health
	result.Status = health.Status

	switch {
	case resp.StatusCode != http.StatusOK:
		result.IsHealthy = false
	case health.Status == "healthy":
		result.IsHealthy = true
	case health.Status == "degraded":
		result.IsHealthy = !opts.strict
	}
	return result
}

func outputResult(w io.Writer, result HealthCheckResult, format string) error {
	switch format {
	case "json":
		return writeJSON(w, result)
	case "table":
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "URL\t%s\n", result.URL)
		fmt.Fprintf(tw, "STATUS\t%s\n", result.Status)
		fmt.Fprintf(tw, "LATENCY\t%dms\n", result.LatencyMs)
		if result.Error != "" {
			fmt.Fprintf(tw, "ERROR\t%s\n", result.Error)
		}
		if result.Response != nil {
			names := make([]string, 0, len(result.Response.Checks))
			for name := range result.Response.Checks {
				names = append(names, name)
			}
			sort.Strings(names)
			fmt.Fprintln(tw, "\nCHECK\tSTATUS\tMESSAGE")
			for _, name := range names {
				check := result.Response.Checks[name]
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, check.Status, check.Message)
			}
		}
		return tw.Flush()
	default:
		if result.Error != "" {
			_, err := fmt.Fprintf(w, "%s: %s (%s)\n", result.URL, result.Status, result.Error)
			return err
		}
		_, err := fmt.Fprintf(w, "%s: %s (%dms)\n", result.URL, result.Status, result.LatencyMs)
		return err
	}
}
