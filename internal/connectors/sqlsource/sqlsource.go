// Package sqlsource implements the relational connector. Each invocation
// owns exactly one database connection.
package sqlsource

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/Togather-Foundation/retriever/internal/schema"
)

// MaxRowsPerTable bounds the rows read from a single table per search.
const MaxRowsPerTable = 1000

// session is one open connection.
type session interface {
	query(ctx context.Context, sql string, args ...any) (columns []string, rows [][]any, err error)
	close() error
}

type dialect interface {
	open(ctx context.Context, p sources.SQLParams) (session, error)
	placeholder(n int) string
	quote(ident string) string
	castText(expr string) string
	escapeClause() string
	// columnsQuery lists (table, column, type) for every table ordered by
	// table then ordinal position.
	columnsQuery() string
}

// Register installs builders for every SQL kind.
func Register(f *connectors.Factory) {
	f.Register(sources.KindPostgres, Builder(postgresDialect{}))
	f.Register(sources.KindMySQL, Builder(mysqlDialect{}))
	f.Register(sources.KindSQLite, Builder(sqliteDialect{}))
}

// Builder returns a connectors.Builder for the given dialect.
func Builder(d dialect) connectors.Builder {
	return func(desc sources.Descriptor) (connectors.Connector, error) {
		params, err := desc.SQLVariant()
		if err != nil {
			return nil, err
		}
		return &Connector{desc: desc, params: params, dialect: d}, nil
	}
}

// Connector queries one relational source.
type Connector struct {
	desc    sources.Descriptor
	params  sources.SQLParams
	dialect dialect
	sess    session
}

var _ connectors.Connector = (*Connector)(nil)

func (c *Connector) Connect(ctx context.Context) error {
	if c.sess != nil {
		return nil
	}
	sess, err := c.dialect.open(ctx, c.params)
	if err != nil {
		return connectors.NewError(connectors.KindConnection, c.desc.Name, err)
	}
	c.sess = sess
	return nil
}

func (c *Connector) Close() error {
	if c.sess == nil {
		return nil
	}
	err := c.sess.close()
	c.sess = nil
	return err
}

type table struct {
	name    string
	columns []sources.FieldDescriptor
}

func (c *Connector) catalog(ctx context.Context) ([]table, error) {
	if c.sess == nil {
		return nil, errors.New("not connected")
	}
	_, rows, err := c.sess.query(ctx, c.dialect.columnsQuery())
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	allowed := make(map[string]bool, len(c.params.Tables))
	for _, t := range c.params.Tables {
		allowed[strings.ToLower(t)] = true
	}

	byName := make(map[string]*table)
	var order []string
	for _, r := range rows {
		if len(r) < 3 {
			continue
		}
		tname := connectors.Stringify(normalizeValue(r[0]))
		if len(allowed) > 0 && !allowed[strings.ToLower(tname)] {
			continue
		}
		t, ok := byName[tname]
		if !ok {
			t = &table{name: tname}
			byName[tname] = t
			order = append(order, tname)
		}
		t.columns = append(t.columns, sources.FieldDescriptor{
			Table: tname,
			Name:  connectors.Stringify(normalizeValue(r[1])),
			Type:  schema.FromSQLType(connectors.Stringify(normalizeValue(r[2]))),
		})
	}
	sort.Strings(order)

	tables := make([]table, 0, len(order))
	for _, name := range order {
		tables = append(tables, *byName[name])
	}
	return tables, nil
}

func (c *Connector) Describe(ctx context.Context) ([]sources.FieldDescriptor, error) {
	tables, err := c.catalog(ctx)
	if err != nil {
		return nil, err
	}
	var fields []sources.FieldDescriptor
	for _, t := range tables {
		fields = append(fields, t.columns...)
	}
	return fields, nil
}

// Query searches every table that has identity columns. Tables are
// visited in name order and rows come back in primary column order, so
// unchanged data always yields the same sequence.
func (c *Connector) Query(ctx context.Context, identifier string, fields []string) ([]connectors.Row, error) {
	tables, err := c.catalog(ctx)
	if err != nil {
		return nil, err
	}
	explicit := c.desc.IdentityFields
	if len(fields) > 0 {
		explicit = fields
	}
	pattern := "%" + escapeLike(strings.ToLower(identifier)) + "%"

	var out []connectors.Row
	for _, t := range tables {
		names := make([]string, len(t.columns))
		for i, col := range t.columns {
			names[i] = col.Name
		}
		idCols := connectors.IdentityColumns(names, explicit)
		if len(idCols) == 0 {
			continue
		}

		stmt, args := c.buildSearch(t.name, names, idCols, pattern)
		columns, rows, err := c.sess.query(ctx, stmt, args...)
		if err != nil {
			return nil, fmt.Errorf("search table %s: %w", t.name, err)
		}
		for _, values := range rows {
			row := connectors.Row{Table: t.name, Fields: make([]connectors.Field, len(columns))}
			for i, col := range columns {
				var v any
				if i < len(values) {
					v = normalizeValue(values[i])
				}
				row.Fields[i] = connectors.Field{Name: col, Value: v}
			}
			out = append(out, row)
		}
	}
	return out, nil
}

// buildSearch renders the per-table LIKE query. The identifier is always
// bound as a parameter. Rows are ordered by the text form of every column
// so that only fully identical rows can tie.
func (c *Connector) buildSearch(tableName string, columns, idCols []string, pattern string) (string, []any) {
	d := c.dialect
	preds := make([]string, len(idCols))
	args := make([]any, len(idCols))
	for i, col := range idCols {
		preds[i] = fmt.Sprintf("LOWER(%s) LIKE %s%s", d.castText(d.quote(col)), d.placeholder(i+1), d.escapeClause())
		args[i] = pattern
	}
	order := make([]string, len(columns))
	for i, col := range columns {
		order[i] = d.castText(d.quote(col))
	}
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s LIMIT %d",
		d.quote(tableName), strings.Join(preds, " OR "), strings.Join(order, ", "), MaxRowsPerTable)
	return stmt, args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
