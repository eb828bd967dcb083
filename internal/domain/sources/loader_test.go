package sources

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultTimeoutForTest = 10 * time.Second

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hr.yaml", `
name: hr
kind: csv
description: HR export
file:
  path: data/hr.csv
identity_fields: [full_name]
`)
	writeFile(t, dir, "crm.yml", `
name: crm
kind: postgresql
sql:
  host: db.internal
  database: crm
  username: reader
timeout_ms: 2000
`)
	writeFile(t, dir, "_draft.yaml", "name: ignored\nkind: csv\n")
	writeFile(t, dir, "README.md", "not a descriptor")

	descriptors, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, descriptors, 2)

	assert.Equal(t, "crm", descriptors[0].Name, "sorted by name")
	assert.Equal(t, KindPostgres, descriptors[0].Kind)
	assert.Equal(t, 5432, descriptors[0].SQL.Port)
	assert.True(t, descriptors[0].Active)
	assert.Equal(t, 2*time.Second, descriptors[0].Timeout(defaultTimeoutForTest))

	assert.Equal(t, KindCSV, descriptors[1].Kind)
	assert.Equal(t, filepath.Join(dir, "data", "hr.csv"), descriptors[1].File.Path)
	assert.Equal(t, []string{"full_name"}, descriptors[1].IdentityFields)
}

func TestLoadDir_ReportsInvalidAndDuplicateFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "name: people\nkind: json\nfile:\n  path: /data/a.json\n")
	writeFile(t, dir, "b.yaml", "name: People\nkind: json\nfile:\n  path: /data/b.json\n")
	writeFile(t, dir, "c.yaml", "name: broken\nkind: json\n")
	writeFile(t, dir, "d.yaml", "name: [unterminated\n")

	descriptors, err := LoadDir(dir)
	require.Error(t, err)
	require.Len(t, descriptors, 1)
	assert.Equal(t, "people", descriptors[0].Name)

	msg := err.Error()
	assert.Contains(t, msg, "already defined")
	assert.Contains(t, msg, "c.yaml")
	assert.Contains(t, msg, "parsing YAML")
}

func TestLoadDir_MissingDir(t *testing.T) {
	descriptors, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, descriptors)
}

func TestLoadFile_InactiveAndSQLiteRelative(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "local.yaml", "name: local\nkind: sqlite\nactive: false\nsql:\n  database: people.db\n")

	d, err := LoadFile(filepath.Join(dir, "local.yaml"))
	require.NoError(t, err)
	assert.False(t, d.Active)
	assert.Equal(t, filepath.Join(dir, "people.db"), d.SQL.Database)
}
