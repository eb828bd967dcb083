// Package filesource implements the flat-file connector for CSV, JSON and
// XML sources. Files are parsed once per process and matched in memory.
package filesource

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/schema"
)

// Register installs builders for every file kind sharing cache.
func Register(f *connectors.Factory, cache *Cache, sampleSize int) {
	for _, kind := range []sources.Kind{sources.KindCSV, sources.KindJSON, sources.KindXML} {
		f.Register(kind, Builder(cache, sampleSize))
	}
}

func Builder(cache *Cache, sampleSize int) connectors.Builder {
	return func(d sources.Descriptor) (connectors.Connector, error) {
		params, err := d.FileVariant()
		if err != nil {
			return nil, err
		}
		return &Connector{desc: d, params: params, cache: cache, sampleSize: sampleSize}, nil
	}
}

// Connector matches records of one cached file.
type Connector struct {
	desc       sources.Descriptor
	params     sources.FileParams
	cache      *Cache
	sampleSize int
	data       *Dataset
}

var _ connectors.Connector = (*Connector)(nil)

// Connect loads the file through the cache. A missing or unreadable file
// is a connection error; a file that does not parse is a query error.
func (c *Connector) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := c.cache.Load(c.desc.Kind, c.params)
	if err != nil {
		kind := connectors.KindQuery
		if isFSError(err) {
			kind = connectors.KindConnection
		}
		return connectors.NewError(kind, c.desc.Name, err)
	}
	c.data = data
	return nil
}

func (c *Connector) Close() error {
	c.data = nil
	return nil
}

func (c *Connector) table() string {
	return filepath.Base(c.params.Path)
}

func (c *Connector) Query(ctx context.Context, identifier string, fields []string) ([]connectors.Row, error) {
	if c.data == nil {
		return nil, errors.New("not connected")
	}
	explicit := c.desc.IdentityFields
	if len(fields) > 0 {
		explicit = fields
	}
	idCols := connectors.IdentityColumns(c.data.Columns, explicit)
	if len(idCols) == 0 {
		return nil, nil
	}
	match := make(map[string]bool, len(idCols))
	for _, col := range idCols {
		match[col] = true
	}
	needle := strings.ToLower(identifier)

	var out []connectors.Row
	for i, rec := range c.data.Records {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !recordMatches(rec, match, needle) {
			continue
		}
		row := connectors.Row{Table: c.table(), Fields: make([]connectors.Field, len(rec))}
		for j, v := range rec {
			row.Fields[j] = connectors.Field{Name: v.Name, Value: v.Value}
		}
		out = append(out, row)
	}
	return out, nil
}

func recordMatches(rec Record, match map[string]bool, needle string) bool {
	for _, v := range rec {
		if match[v.Name] && connectors.ContainsFold(v.Value, needle) {
			return true
		}
	}
	return false
}

// Describe infers column types from the first records of the file.
func (c *Connector) Describe(ctx context.Context) ([]sources.FieldDescriptor, error) {
	if c.data == nil {
		return nil, errors.New("not connected")
	}
	sample := schema.Sample(c.data.Records, c.sampleSize)
	fields := make([]sources.FieldDescriptor, 0, len(c.data.Columns))
	for _, col := range c.data.Columns {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var values []any
		for _, rec := range sample {
			for _, v := range rec {
				if v.Name == col {
					values = append(values, v.Value)
					break
				}
			}
		}
		fields = append(fields, sources.FieldDescriptor{
			Table: c.table(),
			Name:  col,
			Type:  inferType(values),
		})
	}
	return fields, nil
}

func inferType(values []any) sources.FieldType {
	allBool := len(values) > 0
	for _, v := range values {
		if _, ok := v.(bool); !ok && v != nil {
			allBool = false
			break
		}
	}
	if allBool {
		return sources.FieldBoolean
	}
	normalized := make([]any, len(values))
	for i, v := range values {
		if n, ok := v.(int64); ok {
			normalized[i] = fmt.Sprint(n)
			continue
		}
		normalized[i] = v
	}
	return schema.InferValues(normalized, connectors.Stringify)
}
