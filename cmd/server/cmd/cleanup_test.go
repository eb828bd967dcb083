package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanupCommand(t *testing.T) {
	dir := t.TempDir()
	old := writeFile(t, dir, "search_results_01HOLD.csv", "a\n")
	fresh := writeFile(t, dir, "search_results_01HNEW.pdf", "b\n")
	other := writeFile(t, dir, "notes.txt", "c\n")
	past := time.Now().Add(-10 * 24 * time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	t.Setenv("DATABASE_URL", "")
	t.Setenv("EXPORTS_DIR", dir)

	stdout, _, err := execute(t, "cleanup", "--retention-days", "7", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "would delete 1 export file(s)")
	assert.FileExists(t, old)

	stdout, _, err = execute(t, "cleanup", "--retention-days", "7")
	require.NoError(t, err)
	assert.Contains(t, stdout, filepath.Base(old))
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
