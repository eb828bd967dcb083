package audit

import (
	"context"
	"net/http"
	"strings"
	"time"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

const (
	ActionSearch       = "search"
	ActionSourceSearch = "search.source"
	ActionExport       = "export"
	ActionLogin        = "login"
	ActionPolicyUpdate = "policy.update"
	ActionAuditExport  = "audit.export"
)

// Event is one audit record. Search and export events carry the searched
// identifier and the names of the sources queried and errored.
type Event struct {
	ID             string            `json:"id,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
	Actor          string            `json:"actor"`
	Action         string            `json:"action"`
	Identifier     string            `json:"identifier,omitempty"`
	SourcesQueried []string          `json:"sources_queried,omitempty"`
	SourcesErrored []string          `json:"sources_errored,omitempty"`
	ResourceType   string            `json:"resource_type,omitempty"`
	ResourceID     string            `json:"resource_id,omitempty"`
	IPAddress      string            `json:"ip_address,omitempty"`
	Status         string            `json:"status"`
	Details        map[string]string `json:"details,omitempty"`
}

// Recorder receives audit events. Record must not block the caller beyond
// a bounded enqueue.
type Recorder interface {
	Record(Event)
}

type discard struct{}

func (discard) Record(Event) {}

// Discard drops every event.
var Discard Recorder = discard{}

// ClientIP gets the client IP from proxy headers or RemoteAddr.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

type contextKey string

const recorderKey contextKey = "auditRecorder"

// WithRecorder adds an audit recorder to the context.
func WithRecorder(ctx context.Context, recorder Recorder) context.Context {
	return context.WithValue(ctx, recorderKey, recorder)
}

// FromContext retrieves the audit recorder from the context, or Discard.
func FromContext(ctx context.Context) Recorder {
	if recorder, ok := ctx.Value(recorderKey).(Recorder); ok && recorder != nil {
		return recorder
	}
	return Discard
}
