package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSearcher struct {
	got search.Request
	out *search.Outcome
	err error
}

func (s *stubSearcher) Search(_ context.Context, req search.Request) (*search.Outcome, error) {
	s.got = req
	return s.out, s.err
}

type stubLister struct {
	items []sources.Descriptor
	err   error
}

func (s stubLister) ListActive(context.Context) ([]sources.Descriptor, error) {
	return s.items, s.err
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestSearchPersonHandler(t *testing.T) {
	searcher := &stubSearcher{out: &search.Outcome{
		Identifier:     "Jane Doe",
		Normalized:     "jane doe",
		SourcesQueried: 2,
		Sources:        []string{"crm", "hr"},
	}}
	tools := NewPersonTools(searcher, nil)

	ctx := middleware.ContextWithClaims(context.Background(), &auth.Claims{Username: "alice", Role: string(auth.RoleUser)})
	result, err := tools.SearchPersonHandler(ctx, callRequest("search_person", map[string]any{
		"identifier": "  Jane Doe ",
		"sources":    []any{"crm"},
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), `"normalized":"jane doe"`)

	assert.Equal(t, "Jane Doe", searcher.got.Identifier)
	assert.Equal(t, "alice", searcher.got.Actor)
	assert.Equal(t, []string{"crm"}, searcher.got.Sources)
}

func TestSearchPersonHandler_Errors(t *testing.T) {
	tests := []struct {
		name    string
		tools   *PersonTools
		args    map[string]any
		message string
	}{
		{name: "not configured", tools: NewPersonTools(nil, nil), args: map[string]any{"identifier": "x"}, message: "not configured"},
		{name: "missing identifier", tools: NewPersonTools(&stubSearcher{}, nil), args: map[string]any{}, message: "identifier parameter is required"},
		{name: "blank identifier", tools: NewPersonTools(&stubSearcher{}, nil), args: map[string]any{"identifier": "   "}, message: "identifier parameter is required"},
		{name: "too long", tools: NewPersonTools(&stubSearcher{}, nil), args: map[string]any{"identifier": strings.Repeat("a", 257)}, message: "too long"},
		{name: "wrong type", tools: NewPersonTools(&stubSearcher{}, nil), args: map[string]any{"identifier": 42}, message: "invalid arguments"},
		{
			name:    "invalid query",
			tools:   NewPersonTools(&stubSearcher{err: search.ErrInvalidQuery}, nil),
			args:    map[string]any{"identifier": "!!"},
			message: "invalid query",
		},
		{
			name:    "backend failure",
			tools:   NewPersonTools(&stubSearcher{err: errors.New("boom")}, nil),
			args:    map[string]any{"identifier": "Jane"},
			message: "search failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.tools.SearchPersonHandler(context.Background(), callRequest("search_person", tt.args))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, resultText(t, result), tt.message)
		})
	}
}

func TestSearchPersonHandler_DefaultActor(t *testing.T) {
	searcher := &stubSearcher{out: &search.Outcome{}}
	_, err := NewPersonTools(searcher, nil).SearchPersonHandler(context.Background(), callRequest("search_person", map[string]any{"identifier": "Jane"}))
	require.NoError(t, err)
	assert.Equal(t, "mcp", searcher.got.Actor)
}

func TestListSourcesHandler(t *testing.T) {
	lister := stubLister{items: []sources.Descriptor{
		{Name: "crm", Kind: sources.KindPostgres, Description: "Customer records", Schema: []sources.FieldDescriptor{{Name: "email"}, {Name: "name"}}},
		{Name: "badges", Kind: sources.KindCSV},
	}}
	result, err := NewPersonTools(nil, lister).ListSourcesHandler(context.Background(), callRequest("list_sources", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, `"count":2`)
	assert.Contains(t, text, `"kind":"sql-postgres"`)
	assert.Contains(t, text, `"fields":2`)
	assert.NotContains(t, text, "password")

	result, err = NewPersonTools(nil, stubLister{err: errors.New("db down")}).ListSourcesHandler(context.Background(), callRequest("list_sources", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestToolDefinitions(t *testing.T) {
	tools := NewPersonTools(nil, nil)
	assert.Equal(t, "search_person", tools.SearchPersonTool().Name)
	assert.Equal(t, []string{"identifier"}, tools.SearchPersonTool().InputSchema.Required)
	assert.Equal(t, "list_sources", tools.ListSourcesTool().Name)
}
