package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	personLookupPrompt = "person_lookup"
	sourceTriagePrompt = "source_triage"
)

type PromptTemplates struct{}

func NewPromptTemplates() *PromptTemplates {
	return &PromptTemplates{}
}

func (p *PromptTemplates) PersonLookupPrompt() mcp.Prompt {
	return mcp.NewPrompt(
		personLookupPrompt,
		mcp.WithPromptDescription("Look up a person across every data source and summarize what each source knows"),
		mcp.WithArgument("identifier", mcp.ArgumentDescription("Name, email or other identifying value"), mcp.RequiredArgument()),
		mcp.WithArgument("purpose", mcp.ArgumentDescription("Why the lookup is needed, recorded in the summary")),
	)
}

func (p *PromptTemplates) SourceTriagePrompt() mcp.Prompt {
	return mcp.NewPrompt(
		sourceTriagePrompt,
		mcp.WithPromptDescription("Explain which data sources failed during a search and what to check"),
		mcp.WithArgument("identifier", mcp.ArgumentDescription("Identifier of the search that reported errors"), mcp.RequiredArgument()),
	)
}

func (p *PromptTemplates) PersonLookupHandler(_ context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	args := request.Params.Arguments
	identifier := getArgString(args, "identifier")
	if identifier == "" {
		return nil, fmt.Errorf("identifier argument is required")
	}
	purpose := getArgString(args, "purpose")
	if purpose == "" {
		purpose = "not stated"
	}

	text := fmt.Sprintf("Call the search_person tool with identifier %q. Summarize the matches grouped by person, listing which sources contributed each record. "+
		"Values shown as a redaction mask are withheld on purpose: do not guess or reconstruct them. "+
		"If any source reported an error, say so and note that the results may be incomplete.\n\nPurpose of lookup: %s", identifier, purpose)

	return &mcp.GetPromptResult{
		Description: "Federated person lookup",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}

func (p *PromptTemplates) SourceTriageHandler(_ context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	identifier := getArgString(request.Params.Arguments, "identifier")
	if identifier == "" {
		return nil, fmt.Errorf("identifier argument is required")
	}

	text := fmt.Sprintf("Call list_sources, then search_person with identifier %q. For each entry in the errors list, "+
		"explain what the error kind means (timeout, connection, query, config) and suggest what an administrator should check for that source.", identifier)

	return &mcp.GetPromptResult{
		Description: "Diagnose failing data sources",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}

func getArgString(args map[string]string, key string) string {
	if args == nil {
		return ""
	}
	return args[key]
}
