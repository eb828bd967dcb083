package sources

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/Togather-Foundation/retriever/internal/validation"
	"github.com/go-playground/validator/v10"
)

var ErrInvalid = errors.New("invalid data source descriptor")

// FieldProblem names one invalid descriptor field.
type FieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError collects every problem found in a descriptor so the admin
// sees them all at once.
type ValidationError struct {
	Problems []FieldProblem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, p.Field+": "+p.Message)
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func (e *ValidationError) add(field, message string) {
	e.Problems = append(e.Problems, FieldProblem{Field: field, Message: message})
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

const (
	defaultPostgresPort = 5432
	defaultMySQLPort    = 3306
)

// Normalize trims identity fields, canonicalizes the kind and fills default
// ports. It runs before Validate on every write path.
func Normalize(d *Descriptor) {
	d.Name = strings.TrimSpace(d.Name)
	if kind, err := ParseKind(string(d.Kind)); err == nil {
		d.Kind = kind
	}
	fields := d.IdentityFields[:0]
	for _, f := range d.IdentityFields {
		if trimmed := strings.TrimSpace(f); trimmed != "" {
			fields = append(fields, trimmed)
		}
	}
	d.IdentityFields = fields

	if d.SQL != nil && d.SQL.DSN == "" && d.SQL.Port == 0 {
		switch d.Kind {
		case KindPostgres:
			d.SQL.Port = defaultPostgresPort
		case KindMySQL:
			d.SQL.Port = defaultMySQLPort
		}
	}
	if d.File != nil {
		d.File.Path = strings.TrimSpace(d.File.Path)
	}
}

// Validate checks that the descriptor's kind selects a parameter variant
// that is present and complete. Connectors rely on this having run at write
// time, so a failure at query time indicates a registry integrity problem.
func Validate(d Descriptor) error {
	verr := &ValidationError{}

	if err := structValidator().Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate descriptor: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(fieldPath(fe.Namespace()), describeTag(fe))
		}
	}

	if !d.Kind.IsSQL() && !d.Kind.IsFile() {
		verr.add("kind", fmt.Sprintf("must be one of %s", kindList()))
	}

	switch {
	case d.Kind.IsSQL():
		if d.File != nil {
			verr.add("file", "not allowed for "+string(d.Kind))
		}
		if d.SQL == nil {
			verr.add("sql", "required for "+string(d.Kind))
			break
		}
		validateSQL(d.Kind, *d.SQL, verr)
	case d.Kind.IsFile():
		if d.SQL != nil {
			verr.add("sql", "not allowed for "+string(d.Kind))
		}
		if d.File == nil {
			verr.add("file", "required for "+string(d.Kind))
			break
		}
		if d.File.RecordPath != "" && d.Kind == KindCSV {
			verr.add("file.record_path", "not supported for file-csv")
		}
		if d.File.Delimiter != "" && d.Kind != KindCSV {
			verr.add("file.delimiter", "only supported for file-csv")
		}
	}

	if len(verr.Problems) > 0 {
		return verr
	}
	return nil
}

func validateSQL(kind Kind, p SQLParams, verr *ValidationError) {
	if p.DSN != "" {
		if err := validateDSN(kind, p.DSN); err != nil {
			var verrDSN validation.Error
			if errors.As(err, &verrDSN) {
				verr.add("sql.dsn", verrDSN.Message)
			} else {
				verr.add("sql.dsn", "invalid")
			}
		}
		return
	}
	if kind == KindSQLite {
		if strings.TrimSpace(p.Database) == "" {
			verr.add("sql.database", "required (path to the SQLite file) when dsn is empty")
		}
		return
	}
	if strings.TrimSpace(p.Host) == "" {
		verr.add("sql.host", "required when dsn is empty")
	}
	if strings.TrimSpace(p.Database) == "" {
		verr.add("sql.database", "required when dsn is empty")
	}
	if strings.TrimSpace(p.Username) == "" {
		verr.add("sql.username", "required when dsn is empty")
	}
	if kind == KindMySQL && p.SSLMode != "" {
		verr.add("sql.ssl_mode", "only supported for sql-postgres")
	}
}

func validateDSN(kind Kind, dsn string) error {
	switch kind {
	case KindPostgres:
		return validation.ValidatePostgresDSN(dsn, "sql.dsn")
	case KindMySQL:
		return validation.ValidateMySQLDSN(dsn, "sql.dsn")
	case KindSQLite:
		return validation.ValidateSQLiteDSN(dsn, "sql.dsn")
	}
	return nil
}

func kindList() string {
	names := make([]string, 0, len(Kinds()))
	for _, k := range Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "max":
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "len":
		return "must be exactly " + fe.Param() + " character"
	case "oneof":
		return "must be one of " + fe.Param()
	case "hostname_rfc1123|ip":
		return "must be a hostname or IP address"
	default:
		return "failed " + fe.Tag() + " check"
	}
}
