// Package redact masks sensitive fields before rows leave the search
// engine.
package redact

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/Togather-Foundation/retriever/internal/connectors"
	"gopkg.in/yaml.v3"
)

// DefaultMask replaces the value of every sensitive field.
const DefaultMask = "***REDACTED***"

// DefaultPatterns is the built-in sensitive field list.
var DefaultPatterns = []string{
	"password", "ssn", "credit_card", "phone", "email",
	"address", "salary", "medical_record", "bank_account",
}

var ErrEmptyPattern = errors.New("redaction pattern must not be empty")

// Policy is an immutable set of case-insensitive field-name substrings.
type Policy struct {
	Patterns []string `json:"patterns" yaml:"patterns"`
	Mask     string   `json:"mask" yaml:"mask"`
}

// NewPolicy normalizes patterns (trimmed, lower-cased, de-duplicated,
// sorted) and applies the default mask when mask is empty.
func NewPolicy(patterns []string, mask string) (*Policy, error) {
	seen := make(map[string]bool, len(patterns))
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			return nil, ErrEmptyPattern
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	if mask == "" {
		mask = DefaultMask
	}
	return &Policy{Patterns: out, Mask: mask}, nil
}

// Default returns the built-in policy.
func Default() *Policy {
	p, _ := NewPolicy(DefaultPatterns, DefaultMask)
	return p
}

// Sensitive reports whether field matches any pattern.
func (p *Policy) Sensitive(field string) bool {
	if p == nil {
		return false
	}
	lower := strings.ToLower(field)
	for _, pattern := range p.Patterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Redact returns a copy of row with every sensitive field's value replaced
// by the mask. Field names and order are unchanged. A nil policy masks
// nothing.
func Redact(row connectors.Row, p *Policy) connectors.Row {
	out := row.Clone()
	if p == nil {
		return out
	}
	for i, f := range out.Fields {
		if p.Sensitive(f.Name) {
			out.Fields[i].Value = p.Mask
		}
	}
	return out
}

// RedactAll applies Redact to every row.
func RedactAll(rows []connectors.Row, p *Policy) []connectors.Row {
	out := make([]connectors.Row, len(rows))
	for i, r := range rows {
		out[i] = Redact(r, p)
	}
	return out
}

type policyFile struct {
	Patterns []string `yaml:"patterns"`
	Mask     string   `yaml:"mask"`
}

// LoadFile reads a YAML policy:
//
//	mask: "***REDACTED***"
//	patterns: [password, ssn, salary]
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read redaction policy: %w", err)
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse redaction policy %s: %w", path, err)
	}
	if pf.Patterns == nil {
		return nil, fmt.Errorf("redaction policy %s: patterns missing", path)
	}
	return NewPolicy(pf.Patterns, pf.Mask)
}

// WriteFile stores p as YAML, replacing path atomically.
func WriteFile(path string, p *Policy) error {
	data, err := yaml.Marshal(policyFile{Patterns: p.Patterns, Mask: p.Mask})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("write redaction policy: %w", err)
	}
	return os.Rename(tmp, path)
}
