// Package export renders search outcomes as CSV or PDF files.
package export

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/search"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case FormatCSV, "":
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, value)
}

func (f Format) Extension() string { return "." + string(f) }

func (f Format) ContentType() string {
	if f == FormatPDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// fixedColumns precede the union of row field names.
var fixedColumns = []string{"person", "data_source", "table"}

// table flattens an outcome into a header and string records. Field
// columns appear in first-seen order across groups.
type table struct {
	header  []string
	records [][]string
}

func flatten(out *search.Outcome, limit int) table {
	var fields []string
	seen := map[string]bool{}
	for _, p := range out.People {
		for _, row := range p.Rows {
			for _, f := range row.Fields {
				if !seen[f.Name] {
					seen[f.Name] = true
					fields = append(fields, f.Name)
				}
			}
		}
	}

	t := table{header: append(append([]string(nil), fixedColumns...), fields...)}
	for _, p := range out.People {
		for _, row := range p.Rows {
			if limit > 0 && len(t.records) >= limit {
				return t
			}
			rec := make([]string, 0, len(t.header))
			rec = append(rec, p.Key, row.Source, row.Table)
			for _, name := range fields {
				v, ok := row.Get(name)
				if !ok {
					rec = append(rec, "")
					continue
				}
				rec = append(rec, connectors.Stringify(v))
			}
			t.records = append(t.records, rec)
		}
	}
	return t
}
