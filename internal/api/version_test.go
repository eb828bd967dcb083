package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionHandler(t *testing.T) {
	tests := []struct {
		name                          string
		version, gitCommit, buildDate string
		want                          versionResponse
	}{
		{
			name:      "all values",
			version:   "0.4.0",
			gitCommit: "abc123def456",
			buildDate: "2026-09-30T12:00:00Z",
			want:      versionResponse{Version: "0.4.0", GitCommit: "abc123def456", BuildDate: "2026-09-30T12:00:00Z"},
		},
		{
			name: "defaults",
			want: versionResponse{Version: "dev", GitCommit: "unknown", BuildDate: "unknown"},
		},
		{
			name:      "partial",
			version:   "1.0.0",
			buildDate: "2026-09-30T12:00:00Z",
			want:      versionResponse{Version: "1.0.0", GitCommit: "unknown", BuildDate: "2026-09-30T12:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			VersionHandler(tt.version, tt.gitCommit, tt.buildDate).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp versionResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			tt.want.Service = "retriever"
			tt.want.GoVersion = runtime.Version()
			assert.Equal(t, tt.want, resp)
		})
	}
}

func TestVersionHandler_MethodNotAllowed(t *testing.T) {
	handler := VersionHandler("0.4.0", "abc123", "")
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(method, "/version", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, method)
	}
}
