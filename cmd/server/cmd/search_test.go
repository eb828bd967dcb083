package cmd

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// offlineEnv points the CLI at descriptor files in a temp dir with no
// database and returns the audit log path.
func offlineEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "sources/data/hr.csv", "name,email,department\nJane Doe,jane@example.com,HR\nJohn Smith,john@example.com,Sales\n")
	writeFile(t, dir, "sources/data/crm.json", `[{"customer_name":"jane doe","phone":"555-0100"}]`)
	writeFile(t, dir, "sources/hr.yaml", "name: hr\nkind: csv\ndescription: Staff directory\nfile:\n  path: data/hr.csv\n")
	writeFile(t, dir, "sources/crm.yaml", "name: crm\nkind: json\nfile:\n  path: data/crm.json\n")

	auditLog := filepath.Join(dir, "logs", "audit.log")
	t.Setenv("SOURCES_DIR", filepath.Join(dir, "sources"))
	t.Setenv("DATABASE_URL", "")
	t.Setenv("AUDIT_LOG_FILE", auditLog)
	t.Setenv("EXPORTS_DIR", filepath.Join(dir, "exports"))
	t.Setenv("REDACTION_POLICY_FILE", "")
	t.Setenv("LOG_LEVEL", "error")
	return auditLog
}

func readAuditActions(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var actions []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var event audit.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &event))
		actions = append(actions, event.Action)
	}
	return actions
}

func TestSearchCommand_JSON(t *testing.T) {
	auditLog := offlineEnv(t)

	stdout, _, err := execute(t, "search", "Jane Doe", "--actor", "ops")
	require.NoError(t, err)

	var out search.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	assert.Equal(t, "Jane Doe", out.Identifier)
	assert.Equal(t, 2, out.SourcesQueried)
	require.Len(t, out.People, 1)
	assert.ElementsMatch(t, []string{"crm", "hr"}, out.People[0].Sources)
	assert.NotContains(t, stdout, "jane@example.com")
	assert.NotContains(t, stdout, "555-0100")
	assert.Contains(t, stdout, redact.DefaultMask)

	assert.Contains(t, readAuditActions(t, auditLog), audit.ActionSearch)
}

func TestSearchCommand_CSVToFile(t *testing.T) {
	offlineEnv(t)
	out := filepath.Join(t.TempDir(), "jane.csv")

	stdout, _, err := execute(t, "search", "Jane Doe", "--source", "hr", "--format", "csv", "--out", out)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"person", "data_source", "table"}, records[0][:3])
	assert.Equal(t, "hr", records[1][1])
}

func TestSearchCommand_PDF(t *testing.T) {
	offlineEnv(t)

	stdout, _, err := execute(t, "search", "Jane Doe", "--format", "pdf")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "%PDF"))
}

func TestSearchCommand_Errors(t *testing.T) {
	offlineEnv(t)

	_, _, err := execute(t, "search")
	require.Error(t, err)

	_, _, err = execute(t, "search", "Jane", "--format", "xlsx")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--format")

	_, _, err = execute(t, "search", "   ")
	require.Error(t, err)

	t.Setenv("SOURCES_DIR", "")
	_, _, err = execute(t, "search", "Jane")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SOURCES_DIR")
}

func TestSourcesCommand(t *testing.T) {
	offlineEnv(t)

	stdout, _, err := execute(t, "sources", "list")
	require.NoError(t, err)
	assert.Contains(t, stdout, "hr")
	assert.Contains(t, stdout, "Staff directory")
	assert.Contains(t, stdout, "2 source(s)")

	stdout, _, err = execute(t, "sources", "test", "hr")
	require.NoError(t, err)
	assert.Contains(t, stdout, "hr: ok")

	stdout, _, err = execute(t, "sources", "describe", "hr", "--format", "json")
	require.NoError(t, err)
	var fields []map[string]any
	require.NoError(t, json.Unmarshal([]byte(stdout), &fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f["name"].(string))
	}
	assert.Contains(t, names, "email")

	_, _, err = execute(t, "sources", "test", "missing")
	require.Error(t, err)
}

func TestAuditExportCommand(t *testing.T) {
	auditLog := offlineEnv(t)

	_, _, err := execute(t, "search", "Jane Doe", "--actor", "alice")
	require.NoError(t, err)

	stdout, _, err := execute(t, "audit", "export", "--format", "json", "--actor", "alice", "--since", "1 hour ago")
	require.NoError(t, err)
	var events []audit.Event
	require.NoError(t, json.Unmarshal([]byte(stdout), &events))
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, "alice", e.Actor)
	}

	assert.Contains(t, readAuditActions(t, auditLog), audit.ActionAuditExport)

	_, _, err = execute(t, "audit", "export", "--format", "xml")
	require.Error(t, err)
	_, _, err = execute(t, "audit", "export", "--since", "not a time at all")
	require.Error(t, err)
}
