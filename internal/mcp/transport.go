// Package mcp exposes person search over the Model Context Protocol.
package mcp

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"
)

// TransportType represents the available MCP transport protocols.
type TransportType string

const (
	// TransportStdio uses standard input/output. Logs must go to stderr.
	TransportStdio TransportType = "stdio"

	// TransportHTTP uses Streamable HTTP.
	TransportHTTP TransportType = "http"
)

const (
	DefaultTransport = TransportStdio
	DefaultPort      = 8090

	GracefulShutdownTimeout = 30 * time.Second
)

// TransportConfig holds configuration for MCP transport selection.
type TransportConfig struct {
	Type TransportType
	Port int
	Host string
}

// LoadTransportConfig reads transport configuration from environment variables.
//   - MCP_TRANSPORT: "stdio" or "http" (default: "stdio")
//   - MCP_PORT: HTTP port (default: 8090)
//   - MCP_HOST: bind address (default: "0.0.0.0")
func LoadTransportConfig() (*TransportConfig, error) {
	cfg := &TransportConfig{
		Type: DefaultTransport,
		Port: DefaultPort,
		Host: "0.0.0.0",
	}

	if transportEnv := os.Getenv("MCP_TRANSPORT"); transportEnv != "" {
		transport := TransportType(transportEnv)
		switch transport {
		case TransportStdio, TransportHTTP:
			cfg.Type = transport
		default:
			return nil, fmt.Errorf("invalid MCP_TRANSPORT value: %s (must be stdio or http)", transportEnv)
		}
	}

	if portEnv := os.Getenv("MCP_PORT"); portEnv != "" {
		port, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid MCP_PORT value: %s (must be a number)", portEnv)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid MCP_PORT value: %d (must be between 1 and 65535)", port)
		}
		cfg.Port = port
	}

	if hostEnv := os.Getenv("MCP_HOST"); hostEnv != "" {
		cfg.Host = hostEnv
	}

	return cfg, nil
}

// ServeStdio serves MCP over stdin/stdout. Every tool call runs as the
// identity in claims, which the caller validated from an MCP token.
func ServeStdio(ctx context.Context, mcpServer *server.MCPServer, claims *auth.Claims) error {
	if claims == nil {
		return fmt.Errorf("stdio transport requires authenticated claims")
	}
	log.Info().Str("actor", claims.Username).Msg("starting MCP server with stdio transport")

	errCh := make(chan error, 1)
	go func() {
		err := server.ServeStdio(mcpServer, server.WithStdioContextFunc(func(ctx context.Context) context.Context {
			return middleware.ContextWithClaims(ctx, claims)
		}))
		if err != nil {
			errCh <- fmt.Errorf("stdio server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("context cancelled, stdio server stopping")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Handler returns the Streamable HTTP transport behind JWT authentication.
// Tokens must be minted for the MCP purpose; API tokens are rejected.
func Handler(mcpServer *server.MCPServer, manager *auth.JWTManager, env string) http.Handler {
	streamable := server.NewStreamableHTTPServer(mcpServer,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if claims := middleware.Claims(r); claims != nil {
				return middleware.ContextWithClaims(ctx, claims)
			}
			return ctx
		}),
	)
	return middleware.JWTAuth(manager, env)(streamable)
}

// ServeHTTP runs a standalone Streamable HTTP listener until ctx ends.
func ServeHTTP(ctx context.Context, mcpServer *server.MCPServer, cfg *TransportConfig, manager *auth.JWTManager, rateLimitCfg config.RateLimitConfig, env string) error {
	if manager == nil {
		return fmt.Errorf("http transport requires a JWT manager")
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info().Str("transport", "http").Str("addr", addr).Msg("starting MCP server with Streamable HTTP transport")

	wrapped := middleware.WithRateLimitTierHandler(middleware.TierUser)(
		middleware.RateLimit(rateLimitCfg)(Handler(mcpServer, manager, env)),
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           wrapped,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down MCP HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), GracefulShutdownTimeout)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
