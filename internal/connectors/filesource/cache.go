package filesource

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Dataset is a parsed file: the union of column names in first-seen order
// and the records in file order.
type Dataset struct {
	Columns []string
	Records []Record
}

// Record is one parsed file record. Fields keep the file's order.
type Record []Value

type Value struct {
	Name  string
	Value any
}

type cacheKey struct {
	kind       sources.Kind
	path       string
	recordPath string
	delimiter  string
}

type cacheEntry struct {
	modTime time.Time
	size    int64
	data    *Dataset
}

// Cache keeps parsed files for the life of the process. An entry is reused
// while the file's modification time and size are unchanged. Parsing runs
// outside the lock; concurrent loads of one file are collapsed.
type Cache struct {
	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{entries: make(map[cacheKey]cacheEntry)}
}

// Load returns the dataset for the file described by kind and p.
func (c *Cache) Load(kind sources.Kind, p sources.FileParams) (*Dataset, error) {
	info, err := os.Stat(p.Path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: p.Path, Err: errors.New("is a directory")}
	}

	key := cacheKey{kind: kind, path: p.Path, recordPath: p.RecordPath, delimiter: p.Delimiter}
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
		metrics.FileCacheTotal.WithLabelValues("hit").Inc()
		return entry.data, nil
	}
	metrics.FileCacheTotal.WithLabelValues("miss").Inc()

	flightKey := fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d\x00%d", kind, p.Path, p.RecordPath, p.Delimiter, info.ModTime().UnixNano(), info.Size())
	v, err, _ := c.group.Do(flightKey, func() (any, error) {
		data, err := parseFile(kind, p)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{modTime: info.ModTime(), size: info.Size(), data: data}
		c.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Dataset), nil
}

// Forget drops every cached entry for path.
func (c *Cache) Forget(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if k.path == path {
			delete(c.entries, k)
		}
	}
}

// Len reports the number of cached files.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func parseFile(kind sources.Kind, p sources.FileParams) (*Dataset, error) {
	f, err := os.Open(p.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	switch kind {
	case sources.KindCSV:
		return parseCSV(f, p.Delimiter)
	case sources.KindJSON:
		return parseJSON(f, p.RecordPath)
	case sources.KindXML:
		return parseXML(f, p.RecordPath)
	default:
		return nil, fmt.Errorf("%w: %s", sources.ErrUnsupported, kind)
	}
}

// columnSet accumulates the union of column names in first-seen order.
type columnSet struct {
	seen  map[string]bool
	names []string
}

func (s *columnSet) add(name string) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if !s.seen[name] {
		s.seen[name] = true
		s.names = append(s.names, name)
	}
}
