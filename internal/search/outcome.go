package search

import (
	"errors"
	"strings"
	"time"

	"github.com/Togather-Foundation/retriever/internal/connectors"
	"golang.org/x/text/cases"
)

// ErrInvalidQuery is returned when the identifier is empty after
// normalization. No source is contacted in that case.
var ErrInvalidQuery = errors.New("invalid search query")

// Request describes one search.
type Request struct {
	Identifier string
	Actor      string
	// Sources restricts the search to the named active sources.
	Sources []string
	// Fields replaces every source's identity fields for this search.
	Fields    []string
	IPAddress string
}

// PersonResult groups the rows that share one normalized identity value.
type PersonResult struct {
	Key     string           `json:"key"`
	Sources []string         `json:"sources"`
	Rows    []connectors.Row `json:"rows"`
}

// SourceFailure is the per-source error detail of an outcome.
type SourceFailure struct {
	Source  string               `json:"source"`
	Kind    connectors.ErrorKind `json:"kind"`
	Message string               `json:"message"`
}

// Outcome is the result of one search. Rows in People are always
// redacted.
type Outcome struct {
	SessionID      string          `json:"session_id"`
	Identifier     string          `json:"identifier"`
	Normalized     string          `json:"normalized"`
	People         []PersonResult  `json:"people"`
	Sources        []string        `json:"sources"`
	SourcesQueried int             `json:"sources_queried"`
	SourcesErrored int             `json:"sources_errored"`
	Errors         []SourceFailure `json:"errors"`
	TotalRows      int             `json:"total_rows"`
	Duration       time.Duration   `json:"-"`
	DurationMS     int64           `json:"duration_ms"`
	SearchedAt     time.Time       `json:"searched_at"`
}

// ErroredSources lists the names of the sources that failed.
func (o *Outcome) ErroredSources() []string {
	names := make([]string, 0, len(o.Errors))
	for _, e := range o.Errors {
		names = append(names, e.Source)
	}
	return names
}

// Rows flattens every group in order.
func (o *Outcome) Rows() []connectors.Row {
	rows := make([]connectors.Row, 0, o.TotalRows)
	for _, p := range o.People {
		rows = append(rows, p.Rows...)
	}
	return rows
}

// MatchTerm is the identifier handed to connectors: trimmed and
// lower-cased only, so it still matches stored values that full folding or
// whitespace collapsing would rewrite ("Strauß", "Anna  Berg").
func MatchTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Normalize trims, case-folds and collapses internal whitespace.
func Normalize(s string) string {
	return strings.Join(strings.Fields(cases.Fold().String(s)), " ")
}
