package middleware

import (
	"net/http"
)

// SecurityHeaders adds security-related HTTP headers to all responses.
//
// Headers added:
//   - X-Frame-Options: DENY
//   - X-Content-Type-Options: nosniff
//   - Referrer-Policy: no-referrer
//   - Content-Security-Policy: default-src 'none'; frame-ancestors 'none'
//   - Cache-Control: no-store (responses carry personal data)
//
// Strict-Transport-Security is added on TLS connections when requireHTTPS is set.
func SecurityHeaders(requireHTTPS bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "no-referrer")
			// The API serves JSON and file downloads only.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			if h.Get("Cache-Control") == "" {
				h.Set("Cache-Control", "no-store")
			}

			if requireHTTPS && r.TLS != nil {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
