package prompts

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetArgString(t *testing.T) {
	assert.Equal(t, "", getArgString(nil, "identifier"))
	assert.Equal(t, "", getArgString(map[string]string{"other": "x"}, "identifier"))
	assert.Equal(t, "Jane", getArgString(map[string]string{"identifier": "Jane"}, "identifier"))
}

func TestPromptDefinitions(t *testing.T) {
	p := NewPromptTemplates()

	lookup := p.PersonLookupPrompt()
	assert.Equal(t, personLookupPrompt, lookup.Name)
	require.Len(t, lookup.Arguments, 2)
	assert.True(t, lookup.Arguments[0].Required)

	triage := p.SourceTriagePrompt()
	assert.Equal(t, sourceTriagePrompt, triage.Name)
	assert.Len(t, triage.Arguments, 1)
}

func promptRequest(name string, args map[string]string) mcp.GetPromptRequest {
	var req mcp.GetPromptRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func promptText(t *testing.T, result *mcp.GetPromptResult) string {
	t.Helper()
	require.Len(t, result.Messages, 1)
	assert.Equal(t, mcp.RoleUser, result.Messages[0].Role)
	text, ok := result.Messages[0].Content.(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestPersonLookupHandler(t *testing.T) {
	p := NewPromptTemplates()

	result, err := p.PersonLookupHandler(context.Background(), promptRequest(personLookupPrompt, map[string]string{
		"identifier": "Jane Doe",
		"purpose":    "account recovery",
	}))
	require.NoError(t, err)
	text := promptText(t, result)
	assert.Contains(t, text, `"Jane Doe"`)
	assert.Contains(t, text, "account recovery")
	assert.Contains(t, text, "do not guess")

	result, err = p.PersonLookupHandler(context.Background(), promptRequest(personLookupPrompt, map[string]string{"identifier": "Jane"}))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, result), "not stated")

	_, err = p.PersonLookupHandler(context.Background(), promptRequest(personLookupPrompt, nil))
	assert.Error(t, err)
}

func TestSourceTriageHandler(t *testing.T) {
	p := NewPromptTemplates()

	result, err := p.SourceTriageHandler(context.Background(), promptRequest(sourceTriagePrompt, map[string]string{"identifier": "jdoe"}))
	require.NoError(t, err)
	text := promptText(t, result)
	assert.Contains(t, text, "list_sources")
	assert.Contains(t, text, `"jdoe"`)

	_, err = p.SourceTriageHandler(context.Background(), promptRequest(sourceTriagePrompt, map[string]string{}))
	assert.Error(t, err)
}
