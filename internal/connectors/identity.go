package connectors

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/domain/sources"
)

// identityHints are the column name fragments that mark a column as
// eligible for identifier matching when a descriptor names none.
var identityHints = []string{"name", "first", "last", "full", "person", "user", "customer", "client", "id"}

// IsIdentityColumn reports whether column looks like a person identifier.
func IsIdentityColumn(column string) bool {
	lower := strings.ToLower(column)
	for _, hint := range identityHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// IdentityColumns picks the columns to match against. With explicit names
// only those present in columns are used (case-insensitive); otherwise
// columns are chosen by name hint. Column order is preserved.
func IdentityColumns(columns, explicit []string) []string {
	var out []string
	if len(explicit) > 0 {
		wanted := make(map[string]bool, len(explicit))
		for _, e := range explicit {
			wanted[strings.ToLower(e)] = true
		}
		for _, c := range columns {
			if wanted[strings.ToLower(c)] {
				out = append(out, c)
			}
		}
		return out
	}
	for _, c := range columns {
		if IsIdentityColumn(c) {
			out = append(out, c)
		}
	}
	return out
}

// MarkIdentity flags the identity fields of a schema per table.
func MarkIdentity(fields []sources.FieldDescriptor, explicit []string) {
	byTable := make(map[string][]string)
	for _, f := range fields {
		byTable[f.Table] = append(byTable[f.Table], f.Name)
	}
	identity := make(map[string]bool)
	for table, cols := range byTable {
		for _, c := range IdentityColumns(cols, explicit) {
			identity[table+"\x00"+c] = true
		}
	}
	for i := range fields {
		fields[i].Identity = identity[fields[i].Table+"\x00"+fields[i].Name]
	}
}

// Stringify renders a field value for matching, grouping and export.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// ContainsFold reports whether the rendered value contains needle,
// ignoring case. needle must already be lower-cased.
func ContainsFold(v any, lowerNeedle string) bool {
	if lowerNeedle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(Stringify(v)), lowerNeedle)
}
