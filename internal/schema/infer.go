// Package schema infers advisory field types for display.
package schema

import (
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
	dps "github.com/markusmobius/go-dateparser"
)

// DefaultSampleSize is the number of records inspected per field.
const DefaultSampleSize = 20

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02.01.2006",
	time.RFC1123Z,
	time.RFC1123,
}

var dateConfig = &dps.Configuration{StrictParsing: true}

// Infer returns the type of a column from sampled string values. Empty
// values are ignored. A column is integer when every sample parses as an
// integer, timestamp when every sample parses as a timestamp, and string
// otherwise (including when there are no samples).
func Infer(values []string) sources.FieldType {
	var samples []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			samples = append(samples, v)
		}
	}
	if len(samples) == 0 {
		return sources.FieldString
	}

	if all(samples, isInteger) {
		return sources.FieldInteger
	}
	if all(samples, IsTimestamp) {
		return sources.FieldTimestamp
	}
	return sources.FieldString
}

// InferValues is Infer for typed values (JSON numbers, booleans, ...).
// Values are rendered with render before inference, except that whole
// float64 values count as integers.
func InferValues(values []any, render func(any) string) sources.FieldType {
	strs := make([]string, 0, len(values))
	for _, v := range values {
		if f, ok := v.(float64); ok && f == float64(int64(f)) {
			strs = append(strs, strconv.FormatInt(int64(f), 10))
			continue
		}
		strs = append(strs, render(v))
	}
	return Infer(strs)
}

// IsTimestamp reports whether s is a date or date-time. Common layouts are
// tried first; go-dateparser in strict mode handles the rest.
func IsTimestamp(s string) bool {
	for _, layout := range timestampLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	if len(s) < 6 || !strings.ContainsAny(s, "0123456789") {
		return false
	}
	_, err := dps.Parse(dateConfig, s)
	return err == nil
}

func isInteger(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func all(values []string, pred func(string) bool) bool {
	for _, v := range values {
		if !pred(v) {
			return false
		}
	}
	return true
}

// Sample returns at most n leading records. n <= 0 selects
// DefaultSampleSize.
func Sample[T any](records []T, n int) []T {
	if n <= 0 {
		n = DefaultSampleSize
	}
	if len(records) <= n {
		return records
	}
	return records[:n]
}

// FromSQLType maps a catalog type name to a field type.
func FromSQLType(typeName string) sources.FieldType {
	t := strings.ToLower(typeName)
	switch {
	case strings.Contains(t, "bool") || t == "bit" || t == "tinyint(1)":
		return sources.FieldBoolean
	case strings.Contains(t, "int") || t == "serial" || t == "bigserial":
		return sources.FieldInteger
	case strings.Contains(t, "timestamp") || strings.Contains(t, "date") || strings.HasPrefix(t, "time"):
		return sources.FieldTimestamp
	case strings.Contains(t, "numeric") || strings.Contains(t, "decimal") || strings.Contains(t, "real") ||
		strings.Contains(t, "double") || strings.Contains(t, "float"):
		return sources.FieldFloat
	default:
		return sources.FieldString
	}
}
