package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

const closeTimeout = 5 * time.Second

// sqlSession holds a database/sql pool pinned to a single connection.
type sqlSession struct {
	db   *sql.DB
	conn *sql.Conn
}

func openSQLSession(ctx context.Context, db *sql.DB) (session, error) {
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	conn, err := db.Conn(ctx)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, err
	}
	return &sqlSession{db: db, conn: conn}, nil
}

func (s *sqlSession) query(ctx context.Context, stmt string, args ...any) ([]string, [][]any, error) {
	rows, err := s.conn.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}
	var out [][]any
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

func (s *sqlSession) close() error {
	connErr := s.conn.Close()
	dbErr := s.db.Close()
	if connErr != nil {
		return connErr
	}
	return dbErr
}

type mysqlDialect struct{}

func (mysqlDialect) open(ctx context.Context, p sources.SQLParams) (session, error) {
	cfg, err := mysqlConfig(p)
	if err != nil {
		return nil, err
	}
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("mysql connector: %w", err)
	}
	return openSQLSession(ctx, sql.OpenDB(connector))
}

func mysqlConfig(p sources.SQLParams) (*mysql.Config, error) {
	var cfg *mysql.Config
	if p.DSN != "" {
		parsed, err := mysql.ParseDSN(p.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg = parsed
	} else {
		cfg = mysql.NewConfig()
		cfg.User = p.Username
		cfg.Passwd = p.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
		cfg.DBName = p.Database
	}
	cfg.ParseTime = true
	cfg.Loc = time.UTC
	return cfg, nil
}

func (mysqlDialect) placeholder(int) string { return "?" }

func (mysqlDialect) quote(ident string) string { return quoteGeneric(ident, "`") }

func (mysqlDialect) castText(expr string) string { return "CAST(" + expr + " AS CHAR)" }

// The backslash must itself be escaped inside a MySQL string literal.
func (mysqlDialect) escapeClause() string { return ` ESCAPE '\\'` }

func (mysqlDialect) columnsQuery() string {
	return "SELECT table_name, column_name, data_type\n" +
		"FROM information_schema.columns\n" +
		"WHERE table_schema = DATABASE()\n" +
		"ORDER BY table_name, ordinal_position"
}

type sqliteDialect struct{}

func (sqliteDialect) open(ctx context.Context, p sources.SQLParams) (session, error) {
	db, err := sql.Open("sqlite", sqliteDSN(p))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return openSQLSession(ctx, db)
}

// sqliteDSN opens the file read-only so a missing file is a connection
// error instead of an empty new database.
func sqliteDSN(p sources.SQLParams) string {
	if p.DSN != "" {
		return p.DSN
	}
	path := p.Database
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + (&url.URL{Path: path}).EscapedPath()
	}
	if strings.Contains(path, "?") {
		return path + "&mode=ro"
	}
	return path + "?mode=ro"
}

func (sqliteDialect) placeholder(int) string { return "?" }

func (sqliteDialect) quote(ident string) string { return quoteGeneric(ident, `"`) }

func (sqliteDialect) castText(expr string) string { return "CAST(" + expr + " AS TEXT)" }

func (sqliteDialect) escapeClause() string { return ` ESCAPE '\'` }

func (sqliteDialect) columnsQuery() string {
	return `SELECT m.name, p.name, p.type
FROM sqlite_master AS m
JOIN pragma_table_info(m.name) AS p
WHERE m.type = 'table' AND m.name NOT LIKE 'sqlite_%'
ORDER BY m.name, p.cid`
}
