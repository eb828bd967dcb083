package search

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/connectors"
	"github.com/Togather-Foundation/retriever/internal/redact"
)

type group struct {
	key     string
	sources []string
	rows    []connectors.Row
	seen    map[string]bool
}

// grouper redacts rows and buckets them by person key. Rows must be added
// in descriptor order so each group keeps descriptor then first-seen
// order.
type grouper struct {
	normalized string
	policy     *redact.Policy
	byKey      map[string]*group
	order      []*group
}

func newGrouper(normalized string, policy *redact.Policy) *grouper {
	return &grouper{normalized: normalized, policy: policy, byKey: make(map[string]*group)}
}

func (g *grouper) add(row connectors.Row, explicitIdentity []string) {
	redacted := redact.Redact(row, g.policy)
	key := g.keyFor(redacted, explicitIdentity)

	grp, ok := g.byKey[key]
	if !ok {
		grp = &group{key: key, seen: make(map[string]bool)}
		g.byKey[key] = grp
		g.order = append(g.order, grp)
	}
	sig := signature(redacted)
	if grp.seen[sig] {
		return
	}
	grp.seen[sig] = true
	grp.rows = append(grp.rows, redacted)
	if n := len(grp.sources); n == 0 || grp.sources[n-1] != redacted.Source {
		grp.sources = append(grp.sources, redacted.Source)
	}
}

// keyFor picks the normalized value of the identity field that matched the
// identifier, else the first non-empty identity value, else the identifier
// itself. Masked values are never used as keys.
func (g *grouper) keyFor(row connectors.Row, explicit []string) string {
	cols := connectors.IdentityColumns(row.Keys(), explicit)
	var fallback string
	for _, col := range cols {
		v, _ := row.Get(col)
		s := connectors.Stringify(v)
		if g.policy != nil && s == g.policy.Mask {
			continue
		}
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if strings.Contains(norm, g.normalized) {
			return norm
		}
		if fallback == "" {
			fallback = norm
		}
	}
	if fallback != "" {
		return fallback
	}
	return g.normalized
}

// signature identifies exact duplicates: same source, table, field set and
// values.
func signature(row connectors.Row) string {
	var b strings.Builder
	b.WriteString(row.Source)
	b.WriteByte(0)
	b.WriteString(row.Table)
	for _, f := range row.Fields {
		b.WriteByte(0)
		b.WriteString(f.Name)
		b.WriteByte(1)
		fmt.Fprintf(&b, "%T:", f.Value)
		b.WriteString(connectors.Stringify(f.Value))
	}
	return b.String()
}

// results orders groups by distinct source count descending, then key
// ascending.
func (g *grouper) results() []PersonResult {
	groups := append([]*group(nil), g.order...)
	sort.SliceStable(groups, func(i, j int) bool {
		if len(groups[i].sources) != len(groups[j].sources) {
			return len(groups[i].sources) > len(groups[j].sources)
		}
		return groups[i].key < groups[j].key
	})
	out := make([]PersonResult, len(groups))
	for i, grp := range groups {
		out[i] = PersonResult{Key: grp.key, Sources: grp.sources, Rows: grp.rows}
	}
	return out
}
