package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installRecorder(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := trace.NewTracerProvider(
		trace.WithSyncer(exporter),
		trace.WithSampler(trace.AlwaysSample()),
	)
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})
	return exporter
}

func spanAttrs(span trace.ReadOnlySpan) map[string]any {
	attrs := map[string]any{}
	for _, attr := range span.Attributes() {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	return attrs
}

func TestTracing_NamesSpanAfterRoute(t *testing.T) {
	exporter := installRecorder(t)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/admin/sources/{name}/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	handler := Tracing(mux)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/sources/crm/test?verbose=1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, "POST /api/v1/admin/sources/{name}/test", span.Name())

	attrs := spanAttrs(span)
	assert.Equal(t, "POST", attrs["http.method"])
	assert.Equal(t, "/api/v1/admin/sources/crm/test", attrs["http.url"])
	assert.Equal(t, "/api/v1/admin/sources/{name}/test", attrs["http.route"])
	assert.Equal(t, int64(200), attrs["http.status_code"])
	assert.Equal(t, codes.Ok, span.Status().Code)
}

func TestTracing_UnmatchedRoute(t *testing.T) {
	exporter := installRecorder(t)

	handler := Tracing(http.NewServeMux())
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET", spans[0].Name())
	assert.NotContains(t, spanAttrs(spans[0]), "http.route")
	assert.Equal(t, codes.Ok, spans[0].Status().Code, "404 is not a server error")
}

func TestTracing_ServerErrorStatus(t *testing.T) {
	exporter := installRecorder(t)

	handler := Tracing(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/search", nil))

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, int64(502), spanAttrs(spans[0])["http.status_code"])
}

func TestTracingCarriesRequestID(t *testing.T) {
	exporter := installRecorder(t)

	handler := CorrelationID(testLogger())(Tracing(okHandler()))
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans().Snapshots()
	require.Len(t, spans, 1)
	found := false
	for _, attr := range spans[0].Attributes() {
		if attr.Key == "request_id" {
			found = true
			assert.Equal(t, "req-123", attr.Value.AsString())
		}
	}
	assert.True(t, found)
}

func TestRoutePattern(t *testing.T) {
	assert.Equal(t, "/api/v1/search", routePattern("POST /api/v1/search"))
	assert.Equal(t, "/mcp", routePattern("/mcp"))
	assert.Empty(t, routePattern(""))
}

func TestTracingResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	tw := &tracingResponseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	tw.WriteHeader(http.StatusCreated)
	assert.Equal(t, http.StatusCreated, tw.statusCode)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
