// Command gentoken mints JWTs for local testing and for MCP clients.
package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/spf13/cobra"
)

type tokenOptions struct {
	purpose  string
	subject  string
	username string
	role     string
	expiry   time.Duration
}

func main() {
	if err := newCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	opts := &tokenOptions{}
	cmd := &cobra.Command{
		Use:   "gentoken",
		Short: "Mint an API or MCP token signed with JWT_SECRET",
		Long: `Mint a signed token for the given identity. API tokens authenticate
REST calls; MCP tokens authenticate the MCP endpoint and the stdio server
(MCP_TOKEN). Each purpose uses its own derived key, so a token of one kind
is rejected by the other.

Examples:
  JWT_SECRET=... gentoken --username alice
  JWT_SECRET=... gentoken --purpose mcp --username claude-desktop --expiry 720h`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.OutOrStdout(), os.Getenv("JWT_SECRET"), opts)
		},
	}
	cmd.Flags().StringVar(&opts.purpose, "purpose", "api", "token purpose (api, mcp)")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "subject claim (default: username)")
	cmd.Flags().StringVar(&opts.username, "username", "test-user", "username recorded as the actor")
	cmd.Flags().StringVar(&opts.role, "role", string(auth.RoleUser), "role (user, admin, super_admin)")
	cmd.Flags().DurationVar(&opts.expiry, "expiry", 24*time.Hour, "token lifetime")
	return cmd
}

func run(out io.Writer, secret string, opts *tokenOptions) error {
	if secret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	var purpose string
	switch opts.purpose {
	case "api":
		purpose = auth.PurposeAPI
	case "mcp":
		purpose = auth.PurposeMCP
	default:
		return fmt.Errorf("--purpose must be api or mcp")
	}
	if !auth.ValidRole(opts.role) {
		return fmt.Errorf("unknown role %q", opts.role)
	}
	subject := opts.subject
	if subject == "" {
		subject = opts.username
	}

	manager, err := auth.NewJWTManager(secret, opts.expiry, purpose)
	if err != nil {
		return err
	}
	token, expires, err := manager.Generate(subject, opts.username, string(auth.NormalizeRole(opts.role)))
	if err != nil {
		return err
	}

	fmt.Fprintln(out, token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expires.UTC().Format(time.RFC3339))
	return nil
}
