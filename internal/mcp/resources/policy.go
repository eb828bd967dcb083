package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/mark3labs/mcp-go/mcp"
)

const policyResource = "policy://redaction"

// PolicySource returns the redaction policy currently in force.
type PolicySource interface {
	Snapshot() *redact.Policy
}

// PolicyResources lets clients see which field names come back masked.
type PolicyResources struct {
	policy PolicySource
}

func NewPolicyResources(policy PolicySource) *PolicyResources {
	return &PolicyResources{policy: policy}
}

func (r *PolicyResources) Resource() mcp.Resource {
	return mcp.NewResource(
		policyResource,
		"Redaction Policy",
		mcp.WithResourceDescription("Field name patterns whose values are masked in search results"),
		mcp.WithMIMEType(schemaMIMEType),
	)
}

// ReadHandler reads the live policy on every call so hot reloads show up.
func (r *PolicyResources) ReadHandler() func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if r.policy == nil {
			return nil, fmt.Errorf("redaction policy not configured")
		}
		data, err := json.Marshal(r.policy.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("encode policy: %w", err)
		}
		return textContents(request, policyResource, schemaMIMEType, string(data)), nil
	}
}
