package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/Togather-Foundation/retriever/internal/api/middleware"
	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/audit"
	"github.com/Togather-Foundation/retriever/internal/auth"
	"github.com/stretchr/testify/require"
)

// withClaims adds authenticated claims to the request context.
func withClaims(r *http.Request, username, role string) *http.Request {
	claims := &auth.Claims{Username: username, Role: role}
	claims.Subject = "id-" + username
	return r.WithContext(middleware.ContextWithClaims(r.Context(), claims))
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) problem.ProblemDetails {
	t.Helper()
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p problem.ProblemDetails
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&p))
	return p
}

type recordedEvents struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordedEvents) Record(e audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordedEvents) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}
