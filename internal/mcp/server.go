package mcp

import (
	"context"

	"github.com/Togather-Foundation/retriever/internal/mcp/prompts"
	"github.com/Togather-Foundation/retriever/internal/mcp/resources"
	"github.com/Togather-Foundation/retriever/internal/mcp/tools"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// Server wraps the MCP server with the person search engine.
type Server struct {
	mcp  *mcpserver.MCPServer
	cfg  Config
	deps Dependencies
}

// Config holds configuration for the MCP server.
type Config struct {
	Name      string
	Version   string
	Transport string
}

// Dependencies are the services exposed through MCP. Policy may be nil,
// in which case the redaction policy resource is not registered.
type Dependencies struct {
	Searcher tools.Searcher
	Sources  tools.SourceLister
	Policy   resources.PolicySource
}

// NewServer builds the MCP server and registers every tool, resource and
// prompt.
func NewServer(cfg Config, deps Dependencies) *Server {
	if cfg.Name == "" {
		cfg.Name = "retriever"
	}
	mcpServer := mcpserver.NewMCPServer(
		cfg.Name,
		cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithInstructions("Federated person search. search_person fans out to every active data source; sensitive values come back masked."),
	)

	srv := &Server{mcp: mcpServer, cfg: cfg, deps: deps}
	srv.registerTools()
	srv.registerResources()
	srv.registerPrompts()
	return srv
}

// MCPServer returns the underlying MCP server for use with transports.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

func (s *Server) registerTools() {
	person := tools.NewPersonTools(s.deps.Searcher, s.deps.Sources)
	s.mcp.AddTool(person.SearchPersonTool(), person.SearchPersonHandler)
	s.mcp.AddTool(person.ListSourcesTool(), person.ListSourcesHandler)
}

func (s *Server) registerResources() {
	schema := resources.NewSchemaResources()
	s.mcp.AddResource(schema.OpenAPIResource(), schema.OpenAPIReadHandler())
	s.mcp.AddResource(schema.InfoResource(), schema.InfoReadHandler(resources.ServerInfo{
		Name:         s.cfg.Name,
		Version:      s.cfg.Version,
		Capabilities: resources.ServerCapabilities{Tools: true, Resources: true, Prompts: true},
		Transport:    s.cfg.Transport,
		Tools:        []string{"search_person", "list_sources"},
		Prompts:      []string{"person_lookup", "source_triage"},
	}, s.status))

	if s.deps.Policy != nil {
		policy := resources.NewPolicyResources(s.deps.Policy)
		s.mcp.AddResource(policy.Resource(), policy.ReadHandler())
	}
}

func (s *Server) status(ctx context.Context) resources.ServerStatus {
	var st resources.ServerStatus
	if s.deps.Policy != nil {
		if p := s.deps.Policy.Snapshot(); p != nil {
			st.MaskedPatterns = len(p.Patterns)
		}
	}
	if s.deps.Sources == nil {
		return st
	}
	active, err := s.deps.Sources.ListActive(ctx)
	if err != nil {
		st.Error = "source registry unavailable"
		return st
	}
	st.ActiveSources = len(active)
	return st
}

func (s *Server) registerPrompts() {
	templates := prompts.NewPromptTemplates()
	s.mcp.AddPrompt(templates.PersonLookupPrompt(), templates.PersonLookupHandler)
	s.mcp.AddPrompt(templates.SourceTriagePrompt(), templates.SourceTriageHandler)
}

// Shutdown is a hook for transports; the server holds no resources itself.
func (s *Server) Shutdown(ctx context.Context) error {
	return nil
}
