package sqlsource

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	"github.com/jackc/pgx/v5"
)

type postgresDialect struct{}

func (postgresDialect) open(ctx context.Context, p sources.SQLParams) (session, error) {
	cfg, err := pgx.ParseConfig(postgresDSN(p))
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	// Read-only sources; never leave a writable transaction open.
	cfg.RuntimeParams["default_transaction_read_only"] = "on"
	cfg.RuntimeParams["application_name"] = "retriever"

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &pgxSession{conn: conn}, nil
}

func postgresDSN(p sources.SQLParams) string {
	if p.DSN != "" {
		return p.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(p.Username, p.Password),
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
		Path:   "/" + p.Database,
	}
	if p.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {p.SSLMode}}.Encode()
	}
	return u.String()
}

func (postgresDialect) placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (postgresDialect) quote(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

func (postgresDialect) castText(expr string) string { return "CAST(" + expr + " AS TEXT)" }

func (postgresDialect) escapeClause() string { return ` ESCAPE '\'` }

func (postgresDialect) columnsQuery() string {
	return `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = current_schema()
ORDER BY table_name, ordinal_position`
}

type pgxSession struct {
	conn *pgx.Conn
}

func (s *pgxSession) query(ctx context.Context, sql string, args ...any) ([]string, [][]any, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	descs := rows.FieldDescriptions()
	columns := make([]string, len(descs))
	for i, fd := range descs {
		columns[i] = fd.Name
	}

	var out [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, values)
	}
	return columns, out, rows.Err()
}

func (s *pgxSession) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return s.conn.Close(ctx)
}

// quoteGeneric doubles the quote character inside ident.
func quoteGeneric(ident string, q string) string {
	return q + strings.ReplaceAll(ident, q, q+q) + q
}
