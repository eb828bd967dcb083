package main

import (
	"fmt"
	"os"

	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/mcp"
)

// MCPConfig extends the application config with MCP server settings.
type MCPConfig struct {
	Base config.Config

	MCP MCPServerConfig

	Transport *mcp.TransportConfig

	// Token is the MCP-purpose JWT the stdio transport runs as.
	Token string
}

// MCPServerConfig holds MCP server metadata.
type MCPServerConfig struct {
	Name    string
	Version string
}

// LoadConfig loads configuration from environment variables.
// MCP-specific environment variables:
//   - MCP_SERVER_NAME: server name for MCP identification (default: "retriever")
//   - MCP_SERVER_VERSION: server version (default: "1.0.0")
//   - MCP_TRANSPORT, MCP_PORT, MCP_HOST: see mcp.LoadTransportConfig
//   - MCP_TOKEN: token minted with `gentoken --purpose mcp` (stdio only)
//
// JWT_SECRET is always required: stdio validates MCP_TOKEN with it and
// HTTP validates bearer tokens.
func LoadConfig() (*MCPConfig, error) {
	baseConfig, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load base config: %w", err)
	}
	if baseConfig.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	transportConfig, err := mcp.LoadTransportConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load transport config: %w", err)
	}

	cfg := &MCPConfig{
		Base: baseConfig,
		MCP: MCPServerConfig{
			Name:    getEnv("MCP_SERVER_NAME", "retriever"),
			Version: getEnv("MCP_SERVER_VERSION", "1.0.0"),
		},
		Transport: transportConfig,
		Token:     os.Getenv("MCP_TOKEN"),
	}
	if cfg.Transport.Type == mcp.TransportStdio && cfg.Token == "" {
		return nil, fmt.Errorf("MCP_TOKEN is required for the stdio transport")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
