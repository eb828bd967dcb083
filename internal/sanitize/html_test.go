package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "script tag", input: `HR export <script>alert('xss')</script>nightly`, expected: "HR export nightly"},
		{name: "inline handler", input: `<div onclick="alert('xss')">CRM replica</div>`, expected: "CRM replica"},
		{name: "iframe", input: `Billing <iframe src="evil.com"></iframe>archive`, expected: "Billing archive"},
		{name: "formatting tags", input: `<b>Primary</b> <i>read-only</i>`, expected: "Primary read-only"},
		{name: "image onerror", input: `<img src=x onerror="alert('xss')">`, expected: ""},
		{name: "plain text unchanged", input: "Payroll database, EU region", expected: "Payroll database, EU region"},
		{name: "empty", input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Text(tt.input))
		})
	}
}

func TestTextSlice(t *testing.T) {
	assert.Nil(t, TextSlice(nil))
	assert.Empty(t, TextSlice([]string{}))
	assert.Equal(t,
		[]string{"email", "full_name", "phone"},
		TextSlice([]string{"email", "<script>alert(1)</script>full_name", "phone<img src=x onerror=alert(1)>"}))
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "crm", Label("  <b>crm</b>\n", 0))
	assert.Equal(t, "hrdb", Label("hr\tdb\r", 0))
	assert.Equal(t, "abc...", Label("abcdef", 3))
	assert.Equal(t, "évé...", Label("événement", 3))

	long := Label(strings.Repeat("x", 500), 100)
	assert.Equal(t, 103, len(long))
}
