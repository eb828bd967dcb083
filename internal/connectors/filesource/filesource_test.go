package filesource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func descriptor(name string, kind sources.Kind, path string) sources.Descriptor {
	return sources.Descriptor{Name: name, Kind: kind, Active: true, File: &sources.FileParams{Path: path}}
}

func newFactory(cache *Cache) *connectors.Factory {
	f := connectors.NewFactory()
	Register(f, cache, 10)
	return f
}

func TestCSV_Query(t *testing.T) {
	path := writeFile(t, "employees.csv", "\ufeffname,salary,department\nJohn Smith,50000,Sales\nJane Doe,60000,HR\njohnny b,1,Ops\n")
	rows, err := newFactory(NewCache()).Query(context.Background(), descriptor("employees", sources.KindCSV, path), "JOHN", nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "employees", rows[0].Source)
	assert.Equal(t, "employees.csv", rows[0].Table)
	assert.Equal(t, []string{"name", "salary", "department"}, rows[0].Keys())
	v, _ := rows[0].Get("salary")
	assert.Equal(t, "50000", v)
	v, _ = rows[1].Get("name")
	assert.Equal(t, "johnny b", v)
}

func TestCSV_DelimiterAndShortRows(t *testing.T) {
	path := writeFile(t, "people.csv", "full_name;city\nJohn Smith\nAnna;Oslo\n")
	d := descriptor("people", sources.KindCSV, path)
	d.File.Delimiter = ";"

	rows, err := newFactory(NewCache()).Query(context.Background(), d, "john", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	city, ok := rows[0].Get("city")
	assert.True(t, ok, "missing trailing fields are kept as nil")
	assert.Nil(t, city)
}

func TestCSV_NonIdentityColumnsAreNotMatched(t *testing.T) {
	path := writeFile(t, "notes.csv", "name,notes\nAlice,met John yesterday\n")
	rows, err := newFactory(NewCache()).Query(context.Background(), descriptor("notes", sources.KindCSV, path), "john", nil)
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = newFactory(NewCache()).Query(context.Background(), descriptor("notes", sources.KindCSV, path), "john", []string{"notes"})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestJSON_ArrayAndFlattening(t *testing.T) {
	path := writeFile(t, "customers.json", `[
		{"name": "john smith", "email": "j@x.com", "address": {"city": "Paris", "zip": "75001"}, "tags": ["a","b"], "vip": true, "score": 1.5, "visits": 3},
		{"name": "Someone Else", "email": "s@x.com"}
	]`)
	rows, err := newFactory(NewCache()).Query(context.Background(), descriptor("customers", sources.KindJSON, path), "John", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, []string{"name", "email", "address.city", "address.zip", "tags", "vip", "score", "visits"}, rows[0].Keys())
	v, _ := rows[0].Get("address.city")
	assert.Equal(t, "Paris", v)
	v, _ = rows[0].Get("tags")
	assert.Equal(t, `["a","b"]`, v)
	v, _ = rows[0].Get("vip")
	assert.Equal(t, true, v)
	v, _ = rows[0].Get("score")
	assert.Equal(t, 1.5, v)
	v, _ = rows[0].Get("visits")
	assert.Equal(t, int64(3), v)
}

func TestJSON_RecordPath(t *testing.T) {
	path := writeFile(t, "hr.json", `{"meta": {"v": 1}, "data": {"employees": [{"user_id": "u-1", "first": "John"}, {"user_id": "u-2", "first": "Mary"}]}}`)
	d := descriptor("hr", sources.KindJSON, path)
	d.File.RecordPath = "data.employees"

	rows, err := newFactory(NewCache()).Query(context.Background(), d, "u-2", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	v, _ := rows[0].Get("first")
	assert.Equal(t, "Mary", v)

	d.File.RecordPath = "nope"
	_, err = newFactory(NewCache()).Query(context.Background(), d, "u-2", nil)
	assert.ErrorIs(t, err, connectors.ErrQuery)
}

func TestJSON_InvalidDocumentIsQueryError(t *testing.T) {
	path := writeFile(t, "broken.json", `[{"name": `)
	_, err := newFactory(NewCache()).Query(context.Background(), descriptor("broken", sources.KindJSON, path), "x", nil)
	assert.ErrorIs(t, err, connectors.ErrQuery)
}

func TestXML_DefaultRecordElements(t *testing.T) {
	path := writeFile(t, "people.xml", `<?xml version="1.0"?>
<people>
  <record id="7"><name>John Smith</name><phone>555</phone></record>
  <record id="8"><name>Jane Doe</name><phone>556</phone></record>
</people>`)
	rows, err := newFactory(NewCache()).Query(context.Background(), descriptor("people", sources.KindXML, path), "smith", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"id", "name", "phone"}, rows[0].Keys())
	v, _ := rows[0].Get("id")
	assert.Equal(t, "7", v)
}

func TestXML_RecordPathAndFlatFallback(t *testing.T) {
	path := writeFile(t, "staff.xml", `<staff><member><username>jsmith</username></member><member><username>mdoe</username></member></staff>`)
	d := descriptor("staff", sources.KindXML, path)
	d.File.RecordPath = "//member"
	rows, err := newFactory(NewCache()).Query(context.Background(), d, "JSMITH", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	flat := writeFile(t, "profile.xml", `<profile><person><full_name>John Smith</full_name><city>Rome</city></person></profile>`)
	rows, err = newFactory(NewCache()).Query(context.Background(), descriptor("profile", sources.KindXML, flat), "john", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, []string{"full_name", "city"}, rows[0].Keys())
}

func TestMissingFileIsConnectionError(t *testing.T) {
	d := descriptor("gone", sources.KindCSV, filepath.Join(t.TempDir(), "gone.csv"))
	err := newFactory(NewCache()).Test(context.Background(), d)
	assert.ErrorIs(t, err, connectors.ErrConnection)
}

func TestCache_ReloadsChangedFile(t *testing.T) {
	path := writeFile(t, "people.csv", "name\nJohn\n")
	cache := NewCache()
	f := newFactory(cache)
	d := descriptor("people", sources.KindCSV, path)

	rows, err := f.Query(context.Background(), d, "john", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 1, cache.Len())

	first, err := cache.Load(sources.KindCSV, *d.File)
	require.NoError(t, err)
	second, err := cache.Load(sources.KindCSV, *d.File)
	require.NoError(t, err)
	assert.Same(t, first, second, "unchanged file is served from cache")

	require.NoError(t, os.WriteFile(path, []byte("name\nJohn\nJohnny\n"), 0o600))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, later, later))

	rows, err = f.Query(context.Background(), d, "john", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	cache.Forget(path)
	assert.Equal(t, 0, cache.Len())
}

func TestDescribe_InfersTypes(t *testing.T) {
	path := writeFile(t, "employees.csv", "id,name,hired,salary\n1,John,2020-01-15,50000\n2,Jane,2021-03-01,abc\n")
	fields, err := newFactory(NewCache()).Describe(context.Background(), descriptor("employees", sources.KindCSV, path))
	require.NoError(t, err)
	require.Len(t, fields, 4)

	assert.Equal(t, sources.FieldInteger, fields[0].Type)
	assert.True(t, fields[0].Identity)
	assert.Equal(t, sources.FieldString, fields[1].Type)
	assert.Equal(t, sources.FieldTimestamp, fields[2].Type)
	assert.Equal(t, sources.FieldString, fields[3].Type)
	assert.Equal(t, "employees.csv", fields[0].Table)
}

func TestDescribe_JSONTypes(t *testing.T) {
	path := writeFile(t, "c.json", `[{"name":"a","vip":true,"visits":3},{"name":"b","vip":false,"visits":4}]`)
	fields, err := newFactory(NewCache()).Describe(context.Background(), descriptor("c", sources.KindJSON, path))
	require.NoError(t, err)
	require.Len(t, fields, 3)
	assert.Equal(t, sources.FieldBoolean, fields[1].Type)
	assert.Equal(t, sources.FieldInteger, fields[2].Type)
}
