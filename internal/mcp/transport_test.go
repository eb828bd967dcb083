package mcp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTransportConfig(t *testing.T) {
	tests := []struct {
		name      string
		env       map[string]string
		want      TransportConfig
		wantError string
	}{
		{
			name: "defaults",
			want: TransportConfig{Type: TransportStdio, Port: DefaultPort, Host: "0.0.0.0"},
		},
		{
			name: "http with port and host",
			env:  map[string]string{"MCP_TRANSPORT": "http", "MCP_PORT": "9191", "MCP_HOST": "127.0.0.1"},
			want: TransportConfig{Type: TransportHTTP, Port: 9191, Host: "127.0.0.1"},
		},
		{
			name:      "unknown transport",
			env:       map[string]string{"MCP_TRANSPORT": "sse"},
			wantError: "invalid MCP_TRANSPORT",
		},
		{
			name:      "non numeric port",
			env:       map[string]string{"MCP_PORT": "abc"},
			wantError: "must be a number",
		},
		{
			name:      "port out of range",
			env:       map[string]string{"MCP_PORT": "70000"},
			wantError: "between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{"MCP_TRANSPORT", "MCP_PORT", "MCP_HOST"} {
				t.Setenv(key, tt.env[key])
			}
			cfg, err := LoadTransportConfig()
			if tt.wantError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, *cfg)
		})
	}
}

func TestHandler_Authentication(t *testing.T) {
	const secret = "mcp-transport-test-secret"
	mcpManager, err := auth.NewJWTManager(secret, time.Hour, auth.PurposeMCP)
	require.NoError(t, err)
	apiManager, err := auth.NewJWTManager(secret, time.Hour, auth.PurposeAPI)
	require.NoError(t, err)

	mcpToken, _, err := mcpManager.Generate("u1", "alice", string(auth.RoleUser))
	require.NoError(t, err)
	apiToken, _, err := apiManager.Generate("u1", "alice", string(auth.RoleUser))
	require.NoError(t, err)

	handler := Handler(newTestServer().MCPServer(), mcpManager, "test")
	initialize := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"test","version":"1"}}}`

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{name: "no token", status: http.StatusUnauthorized},
		{name: "api token rejected", token: apiToken, status: http.StatusUnauthorized},
		{name: "mcp token accepted", token: mcpToken, status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(initialize))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "application/json, text/event-stream")
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestServeStdio_RequiresClaims(t *testing.T) {
	err := ServeStdio(context.Background(), newTestServer().MCPServer(), nil)
	require.Error(t, err)
}

func TestServeHTTP_RequiresManager(t *testing.T) {
	err := ServeHTTP(context.Background(), newTestServer().MCPServer(), &TransportConfig{Type: TransportHTTP, Port: DefaultPort}, nil, config.RateLimitConfig{}, "test")
	require.Error(t, err)
}
