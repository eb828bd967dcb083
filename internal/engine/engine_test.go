package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/redact"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/rs/zerolog"
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

func testConfig(t *testing.T, sourcesDir string) config.Config {
	t.Helper()
	return config.Config{
		Search: config.SearchConfig{
			MaxInFlight:   2,
			SourceTimeout: 5 * time.Second,
			SampleSize:    10,
			SourcesDir:    sourcesDir,
		},
		Export: config.ExportConfig{Dir: t.TempDir(), MaxPDFRows: 100},
	}
}

func TestNew_InMemorySearch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "data/hr.csv", "name,email,department\nJane Doe,jane@example.com,HR\nJohn Smith,john@example.com,Sales\n")
	writeFile(t, dir, "data/crm.json", `[{"customer_name":"jane doe","phone":"555-0100"},{"customer_name":"Bob","phone":"555-0199"}]`)
	writeFile(t, dir, "hr.yaml", "name: hr\nkind: csv\nfile:\n  path: data/hr.csv\n")
	writeFile(t, dir, "crm.yaml", "name: crm\nkind: json\nfile:\n  path: data/crm.json\n")

	eng, err := New(context.Background(), Options{Config: testConfig(t, dir), Logger: zerolog.Nop()})
	require.NoError(t, err)

	active, err := eng.Sources.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 2)

	out, err := eng.Search.Search(context.Background(), search.Request{Identifier: "Jane Doe", Actor: "cli"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.SourcesQueried)
	assert.Zero(t, out.SourcesErrored)
	require.Len(t, out.People, 1)
	assert.ElementsMatch(t, []string{"crm", "hr"}, out.People[0].Sources)

	for _, row := range out.People[0].Rows {
		for _, field := range row.Fields {
			if field.Name == "email" || field.Name == "phone" {
				assert.Equal(t, redact.DefaultMask, field.Value)
			}
		}
	}

	searches, err := eng.History.Searches(context.Background(), "cli", 10)
	require.NoError(t, err)
	assert.Len(t, searches, 1)
}

func TestNew_PartiallyInvalidSourcesDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hr.yaml", "name: hr\nkind: csv\nfile:\n  path: /data/hr.csv\n")
	writeFile(t, dir, "broken.yaml", "name: broken\nkind: csv\n")

	eng, err := New(context.Background(), Options{Config: testConfig(t, dir), Logger: zerolog.Nop()})
	require.NoError(t, err)
	list, err := eng.Sources.List(context.Background(), false)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNew_AllSourcesInvalid(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\nkind: csv\n")

	_, err := New(context.Background(), Options{Config: testConfig(t, dir), Logger: zerolog.Nop()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load sources")
}

func TestOpenPolicy(t *testing.T) {
	store, err := OpenPolicy("", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, redact.Default().Patterns, store.Snapshot().Patterns)

	path := filepath.Join(t.TempDir(), "redaction.yaml")
	store, err = OpenPolicy(path, zerolog.Nop())
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, redact.Default().Patterns, store.Snapshot().Patterns)

	writeFile(t, filepath.Dir(path), "redaction.yaml", "patterns: [ssn]\nmask: \"[x]\"\n")
	store, err = OpenPolicy(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ssn"}, store.Snapshot().Patterns)

	writeFile(t, filepath.Dir(path), "redaction.yaml", "mask: \"[x]\"\n")
	_, err = OpenPolicy(path, zerolog.Nop())
	assert.Error(t, err)
}

func TestNewAudit_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.log")
	a, err := NewAudit(config.AuditConfig{LogFile: path, QueueSize: 16}, zerolog.Nop(), nil)
	require.NoError(t, err)

	a.Emitter.Record(audit.Event{Actor: "alice", Action: audit.ActionSearch, Identifier: "Jane"})
	require.NoError(t, a.Close(context.Background()))

	events, err := a.Store.List(context.Background(), audit.Filter{Actor: "alice"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Jane", events[0].Identifier)

	var nilAudit *Audit
	assert.NoError(t, nilAudit.Close(context.Background()))
}
