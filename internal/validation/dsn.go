package validation

import (
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
)

// ValidatePostgresDSN parses a URL or keyword/value connection string
// without connecting.
func ValidatePostgresDSN(dsn, fieldName string) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Error{Field: fieldName, Message: "required"}
	}
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return Error{Field: fieldName, Message: "invalid connection URL"}
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return Error{Field: fieldName, Message: "URL scheme must be postgres or postgresql"}
		}
	}
	if _, err := pgconn.ParseConfig(dsn); err != nil {
		return Error{Field: fieldName, Message: "invalid postgres connection string"}
	}
	return nil
}

// ValidateMySQLDSN checks a go-sql-driver style DSN such as
// user:pass@tcp(host:3306)/db.
func ValidateMySQLDSN(dsn, fieldName string) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Error{Field: fieldName, Message: "required"}
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return Error{Field: fieldName, Message: "invalid mysql DSN (expected user:pass@tcp(host:port)/database)"}
	}
	if cfg.DBName == "" {
		return Error{Field: fieldName, Message: "mysql DSN must name a database"}
	}
	return nil
}

// ValidateSQLiteDSN accepts a file path or a file: URI. Sources are opened
// read-only, so a URI asking for write access is rejected.
func ValidateSQLiteDSN(dsn, fieldName string) error {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return Error{Field: fieldName, Message: "required"}
	}
	if dsn == ":memory:" {
		return Error{Field: fieldName, Message: "in-memory databases hold no records"}
	}
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return Error{Field: fieldName, Message: "invalid file: URI"}
	}
	if mode := u.Query().Get("mode"); mode != "" && mode != "ro" {
		return Error{Field: fieldName, Message: "mode must be ro"}
	}
	return nil
}
