package tools

import (
	"context"
	"encoding/json"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/mark3labs/mcp-go/mcp"
)

// toolResultJSON converts a payload to an MCP tool result with JSON content.
// Returns a tool error result if the conversion fails.
func toolResultJSON(payload any) (*mcp.CallToolResult, error) {
	resultJSON, err := mcp.NewToolResultJSON(payload)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("failed to build response", err), nil
	}
	return resultJSON, nil
}

// decodeArguments copies the loosely typed call arguments into dst.
func decodeArguments(request mcp.CallToolRequest, dst any) error {
	if request.Params.Arguments == nil {
		return nil
	}
	data, err := json.Marshal(request.Params.Arguments)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// actor names the caller for audit and history records. Stdio sessions
// and HTTP requests both carry JWT claims in the context.
func actor(ctx context.Context) string {
	if claims := middleware.ClaimsFromContext(ctx); claims != nil {
		if claims.Username != "" {
			return claims.Username
		}
		return claims.Subject
	}
	return "mcp"
}
