package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name         string
		url          string
		requireHTTPS bool
		wantErr      string
	}{
		{name: "http", url: "http://localhost:8080/readyz"},
		{name: "https required", url: "https://retriever.example.org/readyz", requireHTTPS: true},
		{name: "empty allowed", url: ""},
		{name: "missing scheme", url: "localhost:8080", wantErr: "scheme"},
		{name: "missing host", url: "http:///readyz", wantErr: "host"},
		{name: "ftp", url: "ftp://example.org", wantErr: "http or https"},
		{name: "http when https required", url: "http://example.org", requireHTTPS: true, wantErr: "HTTPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url, "url", tt.requireHTTPS)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "url:")
		})
	}
}
