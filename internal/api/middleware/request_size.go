package middleware

import (
	"net/http"
)

const (
	// DefaultMaxBodySize bounds search and login payloads.
	DefaultMaxBodySize int64 = 64 << 10 // 64KB

	// AdminMaxBodySize bounds descriptor, user and policy payloads.
	AdminMaxBodySize int64 = 1 << 20 // 1MB
)

// RequestSize limits the size of incoming request bodies.
//
// It wraps the request body with http.MaxBytesReader; decoders see a
// *http.MaxBytesError once the limit is crossed and handlers answer 413.
func RequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func DefaultRequestSize() func(http.Handler) http.Handler {
	return RequestSize(DefaultMaxBodySize)
}

func AdminRequestSize() func(http.Handler) http.Handler {
	return RequestSize(AdminMaxBodySize)
}
