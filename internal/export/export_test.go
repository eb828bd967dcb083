package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/domain/history"
	"github.com/Togather-Foundation/retriever/internal/search"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleOutcome() *search.Outcome {
	return &search.Outcome{
		SessionID:      "01HZZSESSION",
		Identifier:     "John",
		Normalized:     "john",
		Sources:        []string{"customers", "employees"},
		SourcesQueried: 2,
		People: []search.PersonResult{{
			Key:     "john smith",
			Sources: []string{"customers", "employees"},
			Rows: []connectors.Row{
				{Source: "customers", Table: "customers.json", Fields: []connectors.Field{
					{Name: "name", Value: "john smith"}, {Name: "email", Value: "***REDACTED***"},
				}},
				{Source: "employees", Table: "employees.csv", Fields: []connectors.Field{
					{Name: "name", Value: "John Smith"}, {Name: "salary", Value: "***REDACTED***"}, {Name: "age", Value: int64(41)},
				}},
			},
		}},
		Errors:    []search.SourceFailure{},
		TotalRows: 2,
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	_, err = ParseFormat("xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	assert.Equal(t, ".pdf", FormatPDF.Extension())
	assert.Equal(t, "application/pdf", FormatPDF.ContentType())
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCSV(&buf, sampleOutcome())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"person", "data_source", "table", "name", "email", "salary", "age"}, records[0])
	assert.Equal(t, []string{"john smith", "customers", "customers.json", "john smith", "***REDACTED***", "", ""}, records[1])
	assert.Equal(t, []string{"john smith", "employees", "employees.csv", "John Smith", "", "***REDACTED***", "41"}, records[2])
}

func TestWriteCSV_EmptyOutcome(t *testing.T) {
	var buf bytes.Buffer
	n, err := WriteCSV(&buf, &search.Outcome{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, "person,data_source,table\n", buf.String())
}

func TestWritePDF(t *testing.T) {
	var buf bytes.Buffer
	n, err := WritePDF(&buf, sampleOutcome(), PDFOptions{Title: "Results"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF-")))
}

func TestWritePDF_CapsRows(t *testing.T) {
	out := &search.Outcome{Identifier: "x"}
	var rows []connectors.Row
	for i := 0; i < 30; i++ {
		rows = append(rows, connectors.Row{Source: "s", Table: "t", Fields: []connectors.Field{{Name: "name", Value: fmt.Sprintf("x %d", i)}}})
	}
	out.People = []search.PersonResult{{Key: "x", Sources: []string{"s"}, Rows: rows}}
	out.TotalRows = len(rows)

	var buf bytes.Buffer
	n, err := WritePDF(&buf, out, PDFOptions{MaxRows: 10})
	require.NoError(t, err)
	assert.Equal(t, 10, n)
}

func TestFlatten_Limit(t *testing.T) {
	tbl := flatten(sampleOutcome(), 1)
	assert.Len(t, tbl.records, 1)
	assert.Len(t, tbl.header, 7, "header still covers every field")
}

type exportCapture struct {
	mu      sync.Mutex
	events  []audit.Event
	records []history.ExportRecord
}

func (c *exportCapture) Record(e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *exportCapture) RecordExport(_ context.Context, rec history.ExportRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

func TestService_Export(t *testing.T) {
	for _, format := range []Format{FormatCSV, FormatPDF} {
		t.Run(string(format), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "exports")
			capture := &exportCapture{}
			svc := NewService(Config{Dir: dir, History: capture, Auditor: capture, Logger: zerolog.Nop()})

			res, err := svc.Export(context.Background(), Request{Actor: "alice", Format: format, Outcome: sampleOutcome()})
			require.NoError(t, err)

			assert.True(t, strings.HasPrefix(res.Filename, "search_results_"))
			assert.Equal(t, format.Extension(), filepath.Ext(res.Filename))
			assert.Equal(t, 2, res.Records)
			info, err := os.Stat(res.Path)
			require.NoError(t, err)
			assert.Equal(t, info.Size(), res.Size)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Len(t, entries, 1, "no temp files left behind")

			require.Len(t, capture.events, 1)
			assert.Equal(t, audit.ActionExport, capture.events[0].Action)
			assert.Equal(t, res.ID, capture.events[0].ResourceID)
			assert.Equal(t, "01HZZSESSION", capture.events[0].Details["session_id"])

			require.Len(t, capture.records, 1)
			assert.Equal(t, "alice", capture.records[0].Actor)
			assert.Equal(t, string(format), capture.records[0].Format)
			assert.Equal(t, res.Path, capture.records[0].Path)

			f, err := svc.Open(res.Filename)
			require.NoError(t, err)
			_ = f.Close()
		})
	}
}

func TestService_ExportRejects(t *testing.T) {
	svc := NewService(Config{Dir: t.TempDir(), Logger: zerolog.Nop()})

	_, err := svc.Export(context.Background(), Request{Format: FormatCSV})
	assert.ErrorIs(t, err, ErrNoOutcome)

	_, err = svc.Export(context.Background(), Request{Format: "xlsx", Outcome: sampleOutcome()})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestService_OpenRejectsTraversal(t *testing.T) {
	svc := NewService(Config{Dir: t.TempDir(), Logger: zerolog.Nop()})
	for _, name := range []string{"../etc/passwd", "search_results_x.txt", "other.csv", "a/search_results_x.csv"} {
		_, err := svc.Open(name)
		assert.ErrorIs(t, err, os.ErrNotExist, name)
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	write := func(name string, age time.Duration) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
		require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)))
	}
	write("search_results_old.csv", 40*24*time.Hour)
	write("search_results_older.pdf", 90*24*time.Hour)
	write("search_results_new.csv", time.Hour)
	write("notes.txt", 90*24*time.Hour)

	files, err := List(dir, now)
	require.NoError(t, err)
	require.Len(t, files, 3)
	assert.Equal(t, "search_results_older.pdf", files[0].Name)

	deleted, err := Cleanup(dir, 30*24*time.Hour, now, true)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	_, err = os.Stat(filepath.Join(dir, "search_results_old.csv"))
	assert.NoError(t, err, "dry run keeps files")

	deleted, err = Cleanup(dir, 30*24*time.Hour, now, false)
	require.NoError(t, err)
	assert.Len(t, deleted, 2)
	left, err := List(dir, now)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "search_results_new.csv", left[0].Name)
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)

	_, err = Cleanup(dir, 0, now, false)
	assert.Error(t, err)

	missing, err := List(filepath.Join(dir, "nope"), now)
	require.NoError(t, err)
	assert.Empty(t, missing)
}
