package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEvents(t *testing.T, path string, events ...Event) {
	t.Helper()
	sink, err := OpenFileSink(path)
	require.NoError(t, err)
	for _, e := range events {
		require.NoError(t, sink.Write(context.Background(), e))
	}
	require.NoError(t, sink.Close())
}

func TestFileStore_ListFiltersAndOrders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	writeEvents(t, path,
		Event{ID: "1", Timestamp: base, Actor: "alice", Action: ActionSearch, Status: StatusSuccess},
		Event{ID: "2", Timestamp: base.Add(time.Minute), Actor: "bob", Action: ActionExport, Status: StatusSuccess},
		Event{ID: "3", Timestamp: base.Add(2 * time.Minute), Actor: "alice", Action: ActionExport, Status: StatusSuccess},
	)

	store := FileStore{Path: path}

	all, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "3", all[0].ID, "newest first")

	alice, err := store.List(context.Background(), Filter{Actor: "ALICE"})
	require.NoError(t, err)
	require.Len(t, alice, 2)

	exports, err := store.List(context.Background(), Filter{Action: ActionExport, Limit: 1})
	require.NoError(t, err)
	require.Len(t, exports, 1)
	assert.Equal(t, "3", exports[0].ID)

	window, err := store.List(context.Background(), Filter{Since: base.Add(30 * time.Second), Until: base.Add(90 * time.Second)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "2", window[0].ID)
}

func TestFileStore_MissingFile(t *testing.T) {
	events, err := FileStore{Path: filepath.Join(t.TempDir(), "nope.log")}.List(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestReadEvents_SkipsMalformedLines(t *testing.T) {
	input := strings.Join([]string{
		`{"actor":"a","action":"search","status":"success","timestamp":"2026-01-01T00:00:00Z"}`,
		`not json`,
		``,
		`{"actor":"b","action":"export","status":"success","timestamp":"2026-01-01T00:00:00Z"}`,
	}, "\n")

	events, err := ReadEvents(context.Background(), strings.NewReader(input), Filter{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteCSV(&buf, []Event{{
		ID:             "01",
		Timestamp:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Actor:          "alice",
		Action:         ActionSearch,
		Status:         StatusSuccess,
		Identifier:     "John",
		SourcesQueried: []string{"crm", "hr"},
		SourcesErrored: []string{"hr"},
	}})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "2026-01-02T03:04:05Z", records[1][1])
	assert.Equal(t, "crm;hr", records[1][6])
	assert.Equal(t, "hr", records[1][7])
}

func TestWriteJSON_EmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, nil))

	var decoded []Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.NotNil(t, decoded)
	assert.Empty(t, decoded)
}

func TestParseLimit(t *testing.T) {
	n, err := ParseLimit("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ParseLimit("25")
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	_, err = ParseLimit("-1")
	assert.Error(t, err)

	assert.Equal(t, DefaultListLimit, Filter{}.EffectiveLimit())
	assert.Equal(t, MaxListLimit, Filter{Limit: MaxListLimit + 1}.EffectiveLimit())
}

func TestParseTime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	got, err := ParseTime("", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	got, err = ParseTime("2026-03-01T08:30:00+02:00", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 6, 30, 0, 0, time.UTC), got)

	got, err = ParseTime("2026-02-28", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), got)

	got, err = ParseTime("2 days ago", now)
	require.NoError(t, err)
	assert.Equal(t, 2026, got.Year())
	assert.Equal(t, time.March, got.Month())
	assert.Equal(t, 8, got.Day())

	_, err = ParseTime("not a time at all", now)
	assert.Error(t, err)
}
