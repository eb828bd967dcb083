package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Togather-Foundation/retriever/internal/api"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	schemaMIMEType     = "application/json"
	openAPIResource    = "schema://openapi"
	serverInfoResource = "info://server"
)

type ServerCapabilities struct {
	Tools     bool `json:"tools"`
	Resources bool `json:"resources"`
	Prompts   bool `json:"prompts"`
}

// ServerInfo is the static part of info://server.
type ServerInfo struct {
	Name         string             `json:"name"`
	Version      string             `json:"version,omitempty"`
	Capabilities ServerCapabilities `json:"capabilities"`
	Transport    string             `json:"transport,omitempty"`
	Tools        []string           `json:"tools,omitempty"`
	Prompts      []string           `json:"prompts,omitempty"`
}

// ServerStatus is recomputed on every read of info://server.
type ServerStatus struct {
	ActiveSources  int    `json:"active_sources"`
	MaskedPatterns int    `json:"masked_patterns"`
	Error          string `json:"error,omitempty"`
}

// StatusFunc reports live engine state for info://server.
type StatusFunc func(context.Context) ServerStatus

type serverInfoDocument struct {
	ServerInfo
	Status *ServerStatus `json:"status,omitempty"`
}

// SchemaResources serves the HTTP API description and server metadata.
type SchemaResources struct {
	loadDoc func() ([]byte, error)
}

func NewSchemaResources() *SchemaResources {
	return &SchemaResources{loadDoc: api.OpenAPIDocument}
}

func (r *SchemaResources) OpenAPIResource() mcp.Resource {
	return mcp.NewResource(
		openAPIResource,
		"OpenAPI Schema",
		mcp.WithResourceDescription("OpenAPI description of the retriever HTTP API"),
		mcp.WithMIMEType(schemaMIMEType),
	)
}

func (r *SchemaResources) InfoResource() mcp.Resource {
	return mcp.NewResource(
		serverInfoResource,
		"Server Info",
		mcp.WithResourceDescription("Server metadata, registered tools and the number of active sources and masked field patterns"),
		mcp.WithMIMEType(schemaMIMEType),
	)
}

func (r *SchemaResources) OpenAPIReadHandler() func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		doc, err := r.loadDoc()
		if err != nil {
			return nil, fmt.Errorf("load openapi: %w", err)
		}
		return textContents(request, openAPIResource, schemaMIMEType, string(doc)), nil
	}
}

// InfoReadHandler serves info. status may be nil, in which case the status
// block is omitted.
func (r *SchemaResources) InfoReadHandler(info ServerInfo, status StatusFunc) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		doc := serverInfoDocument{ServerInfo: info}
		if status != nil {
			s := status(ctx)
			doc.Status = &s
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode server info: %w", err)
		}
		return textContents(request, serverInfoResource, schemaMIMEType, string(data)), nil
	}
}

// textContents echoes the requested URI when the client sent one.
func textContents(request mcp.ReadResourceRequest, uri, mimeType, text string) []mcp.ResourceContents {
	if request.Params.URI != "" {
		uri = request.Params.URI
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: mimeType,
			Text:     text,
		},
	}
}
