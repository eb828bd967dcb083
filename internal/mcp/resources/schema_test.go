package resources

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readText(t *testing.T, contents []mcp.ResourceContents) mcp.TextResourceContents {
	t.Helper()
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcp.TextResourceContents)
	require.True(t, ok, "expected text contents, got %T", contents[0])
	return text
}

func TestSchemaResources_Definitions(t *testing.T) {
	r := NewSchemaResources()

	openAPI := r.OpenAPIResource()
	assert.Equal(t, openAPIResource, openAPI.URI)
	assert.Equal(t, "OpenAPI Schema", openAPI.Name)
	assert.Equal(t, schemaMIMEType, openAPI.MIMEType)

	info := r.InfoResource()
	assert.Equal(t, serverInfoResource, info.URI)
	assert.Equal(t, "Server Info", info.Name)
}

func TestSchemaResources_OpenAPIReadHandler(t *testing.T) {
	r := NewSchemaResources()

	var req mcp.ReadResourceRequest
	contents, err := r.OpenAPIReadHandler()(context.Background(), req)
	require.NoError(t, err)

	text := readText(t, contents)
	assert.Equal(t, openAPIResource, text.URI)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &doc))
	assert.Equal(t, "3.1.0", doc["openapi"])
}

func TestSchemaResources_OpenAPILoadError(t *testing.T) {
	r := &SchemaResources{loadDoc: func() ([]byte, error) { return nil, errors.New("broken") }}
	_, err := r.OpenAPIReadHandler()(context.Background(), mcp.ReadResourceRequest{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load openapi")
}

func TestSchemaResources_InfoReadHandler(t *testing.T) {
	r := NewSchemaResources()
	info := ServerInfo{
		Name:         "retriever",
		Version:      "1.0.0",
		Capabilities: ServerCapabilities{Tools: true, Resources: true, Prompts: true},
		Transport:    "stdio",
		Tools:        []string{"search_person", "list_sources"},
	}
	calls := 0
	status := func(context.Context) ServerStatus {
		calls++
		return ServerStatus{ActiveSources: calls, MaskedPatterns: 4}
	}

	var req mcp.ReadResourceRequest
	req.Params.URI = "info://server?v=2"
	handler := r.InfoReadHandler(info, status)
	contents, err := handler(context.Background(), req)
	require.NoError(t, err)

	text := readText(t, contents)
	assert.Equal(t, "info://server?v=2", text.URI)

	var got serverInfoDocument
	require.NoError(t, json.Unmarshal([]byte(text.Text), &got))
	assert.Equal(t, info, got.ServerInfo)
	require.NotNil(t, got.Status)
	assert.Equal(t, 1, got.Status.ActiveSources)
	assert.Equal(t, 4, got.Status.MaskedPatterns)

	contents, err = handler(context.Background(), req)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(readText(t, contents).Text), &got))
	assert.Equal(t, 2, got.Status.ActiveSources, "status is recomputed per read")
}

func TestSchemaResources_InfoWithoutStatus(t *testing.T) {
	contents, err := NewSchemaResources().InfoReadHandler(ServerInfo{Name: "retriever"}, nil)(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)
	assert.NotContains(t, readText(t, contents).Text, "status")
}

func TestPolicyResources_ReadHandler(t *testing.T) {
	policy, err := redact.NewPolicy([]string{"email", "ssn"}, "[hidden]")
	require.NoError(t, err)
	store := redact.NewStore(policy, zerolog.Nop())
	r := NewPolicyResources(store)

	assert.Equal(t, policyResource, r.Resource().URI)

	contents, err := r.ReadHandler()(context.Background(), mcp.ReadResourceRequest{})
	require.NoError(t, err)

	var got redact.Policy
	require.NoError(t, json.Unmarshal([]byte(readText(t, contents).Text), &got))
	assert.Equal(t, []string{"email", "ssn"}, got.Patterns)
	assert.Equal(t, "[hidden]", got.Mask)

	_, err = NewPolicyResources(nil).ReadHandler()(context.Background(), mcp.ReadResourceRequest{})
	assert.Error(t, err)
}
