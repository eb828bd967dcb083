package sources

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("data source not found")
	ErrNameTaken     = errors.New("data source name already exists")
	ErrInactive      = errors.New("data source is inactive")
	ErrUnsupported   = errors.New("unsupported data source kind")
	ErrMissingParams = errors.New("connection parameters missing for kind")
)

// Kind selects which connection parameter variant of a Descriptor is valid.
type Kind string

const (
	KindPostgres Kind = "sql-postgres"
	KindMySQL    Kind = "sql-mysql"
	KindSQLite   Kind = "sql-sqlite"
	KindCSV      Kind = "file-csv"
	KindJSON     Kind = "file-json"
	KindXML      Kind = "file-xml"
)

var kindAliases = map[string]Kind{
	"sql-postgres": KindPostgres,
	"postgres":     KindPostgres,
	"postgresql":   KindPostgres,
	"sql-mysql":    KindMySQL,
	"mysql":        KindMySQL,
	"sql-sqlite":   KindSQLite,
	"sqlite":       KindSQLite,
	"file-csv":     KindCSV,
	"csv":          KindCSV,
	"file-json":    KindJSON,
	"json":         KindJSON,
	"file-xml":     KindXML,
	"xml":          KindXML,
}

// ParseKind accepts the canonical kind names and the short aliases used in
// hand-written descriptor files ("postgresql", "csv", ...).
func ParseKind(value string) (Kind, error) {
	if kind, ok := kindAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupported, value)
}

func (k Kind) IsSQL() bool {
	return k == KindPostgres || k == KindMySQL || k == KindSQLite
}

func (k Kind) IsFile() bool {
	return k == KindCSV || k == KindJSON || k == KindXML
}

// Kinds lists every supported kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindPostgres, KindMySQL, KindSQLite, KindCSV, KindJSON, KindXML}
}

// SQLParams holds connection parameters for relational sources. Either DSN
// or the discrete fields are used; for SQLite, Database is the file path.
type SQLParams struct {
	DSN      string   `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	Host     string   `json:"host,omitempty" yaml:"host,omitempty" validate:"omitempty,hostname_rfc1123|ip"`
	Port     int      `json:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Database string   `json:"database,omitempty" yaml:"database,omitempty" validate:"omitempty,max=255"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	SSLMode  string   `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	Tables   []string `json:"tables,omitempty" yaml:"tables,omitempty" validate:"omitempty,dive,required"`
}

// FileParams holds parameters for flat-file sources. RecordPath is a gjson
// path for JSON files and an XPath expression for XML files.
type FileParams struct {
	Path       string `json:"path" yaml:"path" validate:"required"`
	RecordPath string `json:"record_path,omitempty" yaml:"record_path,omitempty"`
	Delimiter  string `json:"delimiter,omitempty" yaml:"delimiter,omitempty" validate:"omitempty,len=1"`
}

// FieldDescriptor is advisory schema metadata for display.
type FieldDescriptor struct {
	Table     string    `json:"table,omitempty"`
	Name      string    `json:"name"`
	Type      FieldType `json:"type"`
	Identity  bool      `json:"identity,omitempty"`
	Sensitive bool      `json:"sensitive,omitempty"`
}

type FieldType string

const (
	FieldString    FieldType = "string"
	FieldInteger   FieldType = "integer"
	FieldTimestamp FieldType = "timestamp"
	FieldFloat     FieldType = "float"
	FieldBoolean   FieldType = "boolean"
)

// Descriptor identifies and parameterizes one data source.
type Descriptor struct {
	ID                string            `json:"id,omitempty" yaml:"-"`
	Name              string            `json:"name" yaml:"name" validate:"required,max=100"`
	Kind              Kind              `json:"kind" yaml:"kind"`
	Description       string            `json:"description,omitempty" yaml:"description,omitempty" validate:"max=1000"`
	SQL               *SQLParams        `json:"sql,omitempty" yaml:"sql,omitempty"`
	File              *FileParams       `json:"file,omitempty" yaml:"file,omitempty"`
	IdentityFields    []string          `json:"identity_fields,omitempty" yaml:"identity_fields,omitempty" validate:"omitempty,dive,required"`
	TimeoutMS         int               `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty" validate:"gte=0,lte=600000"`
	Active            bool              `json:"active" yaml:"active"`
	Schema            []FieldDescriptor `json:"schema,omitempty" yaml:"-"`
	SchemaRefreshedAt *time.Time        `json:"schema_refreshed_at,omitempty" yaml:"-"`
	CreatedBy         string            `json:"created_by,omitempty" yaml:"-"`
	CreatedAt         time.Time         `json:"created_at,omitempty" yaml:"-"`
	UpdatedAt         time.Time         `json:"updated_at,omitempty" yaml:"-"`
}

// Timeout returns the per-source timeout, falling back to def when unset.
func (d Descriptor) Timeout(def time.Duration) time.Duration {
	if d.TimeoutMS > 0 {
		return time.Duration(d.TimeoutMS) * time.Millisecond
	}
	return def
}

// SQLVariant returns the relational parameters when Kind selects them.
func (d Descriptor) SQLVariant() (SQLParams, error) {
	if !d.Kind.IsSQL() {
		return SQLParams{}, fmt.Errorf("%w: %s is not a SQL kind", ErrUnsupported, d.Kind)
	}
	if d.SQL == nil {
		return SQLParams{}, fmt.Errorf("%w: %s", ErrMissingParams, d.Kind)
	}
	return *d.SQL, nil
}

// FileVariant returns the file parameters when Kind selects them.
func (d Descriptor) FileVariant() (FileParams, error) {
	if !d.Kind.IsFile() {
		return FileParams{}, fmt.Errorf("%w: %s is not a file kind", ErrUnsupported, d.Kind)
	}
	if d.File == nil {
		return FileParams{}, fmt.Errorf("%w: %s", ErrMissingParams, d.Kind)
	}
	return *d.File, nil
}

const secretMask = "********"

// Public returns a copy safe to show to operators: passwords and DSN
// credentials are masked.
func (d Descriptor) Public() Descriptor {
	out := d
	if d.SQL != nil {
		sql := *d.SQL
		if sql.Password != "" {
			sql.Password = secretMask
		}
		if sql.DSN != "" {
			sql.DSN = maskDSN(sql.DSN)
		}
		sql.Tables = append([]string(nil), d.SQL.Tables...)
		out.SQL = &sql
	}
	if d.File != nil {
		file := *d.File
		out.File = &file
	}
	out.IdentityFields = append([]string(nil), d.IdentityFields...)
	return out
}

// restoreSecrets puts back credentials that arrive still masked, as they
// do when a client edits the Public view and sends it back.
func (d *Descriptor) restoreSecrets(from Descriptor) {
	if d.SQL == nil || from.SQL == nil {
		return
	}
	if d.SQL.Password == secretMask {
		d.SQL.Password = from.SQL.Password
	}
	if d.SQL.DSN != "" && d.SQL.DSN == maskDSN(from.SQL.DSN) {
		d.SQL.DSN = from.SQL.DSN
	}
}

// dsnPasswordParam matches password settings in postgres keyword/value
// DSNs ("password='a b'") and in URL query strings ("?password=x").
var dsnPasswordParam = regexp.MustCompile(`(?i)((?:^|[\s?&;])(?:ssl)?password\s*=\s*)('(?:[^'\\]|\\.)*'|[^\s&;]+)`)

// maskDSN hides passwords in URL, mysql and keyword/value DSNs.
func maskDSN(dsn string) string {
	dsn = dsnPasswordParam.ReplaceAllString(dsn, "${1}"+secretMask)

	at := strings.LastIndex(dsn, "@")
	if at < 0 {
		return dsn
	}
	prefix := dsn[:at]
	start := strings.Index(prefix, "://")
	if start >= 0 {
		start += 3
	} else {
		start = 0
	}
	creds := prefix[start:]
	colon := strings.Index(creds, ":")
	if colon < 0 || strings.ContainsAny(creds[:colon], " =") {
		return dsn
	}
	return prefix[:start] + creds[:colon+1] + secretMask + dsn[at:]
}
