package tools

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/mark3labs/mcp-go/mcp"
)

const maxIdentifierLength = 256

// Searcher runs a federated person search. search.Aggregator implements it.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Outcome, error)
}

// SourceLister lists the data sources a search can reach.
type SourceLister interface {
	ListActive(ctx context.Context) ([]sources.Descriptor, error)
}

// PersonTools exposes person search and the active source list.
type PersonTools struct {
	searcher Searcher
	sources  SourceLister
}

func NewPersonTools(searcher Searcher, lister SourceLister) *PersonTools {
	return &PersonTools{searcher: searcher, sources: lister}
}

func (t *PersonTools) SearchPersonTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_person",
		Description: "Search every active data source for records about a person. Sensitive fields are masked before results are returned.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"identifier": map[string]interface{}{
					"type":        "string",
					"description": "Name, email or other identifying value to look for",
				},
				"sources": map[string]interface{}{
					"type":        "array",
					"items":       map[string]interface{}{"type": "string"},
					"description": "Optional list of source names to restrict the search to",
				},
			},
			Required: []string{"identifier"},
		},
	}
}

func (t *PersonTools) SearchPersonHandler(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t == nil || t.searcher == nil {
		return mcp.NewToolResultError("person search not configured"), nil
	}

	var args struct {
		Identifier string   `json:"identifier"`
		Sources    []string `json:"sources"`
	}
	if err := decodeArguments(request, &args); err != nil {
		return mcp.NewToolResultErrorFromErr("invalid arguments", err), nil
	}

	identifier := strings.TrimSpace(args.Identifier)
	if identifier == "" {
		return mcp.NewToolResultError("identifier parameter is required"), nil
	}
	if utf8.RuneCountInString(identifier) > maxIdentifierLength {
		return mcp.NewToolResultError("identifier is too long"), nil
	}

	out, err := t.searcher.Search(ctx, search.Request{
		Identifier: identifier,
		Actor:      actor(ctx),
		Sources:    args.Sources,
	})
	if err != nil {
		if errors.Is(err, search.ErrInvalidQuery) {
			return mcp.NewToolResultErrorFromErr("invalid query", err), nil
		}
		return mcp.NewToolResultErrorFromErr("search failed", err), nil
	}
	return toolResultJSON(out)
}

func (t *PersonTools) ListSourcesTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_sources",
		Description: "List the active data sources a person search fans out to.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

type sourceSummary struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description,omitempty"`
	Fields      int    `json:"fields"`
}

func (t *PersonTools) ListSourcesHandler(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t == nil || t.sources == nil {
		return mcp.NewToolResultError("source registry not configured"), nil
	}
	active, err := t.sources.ListActive(ctx)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to list sources", err), nil
	}
	items := make([]sourceSummary, 0, len(active))
	for _, d := range active {
		items = append(items, sourceSummary{
			Name:        d.Name,
			Kind:        string(d.Kind),
			Description: d.Description,
			Fields:      len(d.Schema),
		})
	}
	return toolResultJSON(map[string]any{"items": items, "count": len(items)})
}
