package api

import (
	"encoding/json"
	"net/http"
	"runtime"
)

type versionResponse struct {
	Service   string `json:"service"`
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// VersionHandler serves build metadata injected through -ldflags. Empty
// values fall back to "dev" and "unknown".
func VersionHandler(version, gitCommit, buildDate string) http.Handler {
	resp := versionResponse{
		Service:   "retriever",
		Version:   orDefault(version, "dev"),
		GitCommit: orDefault(gitCommit, "unknown"),
		BuildDate: orDefault(buildDate, "unknown"),
		GoVersion: runtime.Version(),
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
