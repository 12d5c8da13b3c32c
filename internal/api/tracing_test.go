package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestTracingAnnotatesJobRoutes(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })

	s, _, _, _ := newTestServer(t)
	s.tracer = tp.Tracer("test")

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/1700000000000-movie", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	span := spans[0]
	if span.Name() != "GET /v1/jobs/{id}" {
		t.Fatalf("unexpected span name: %s", span.Name())
	}

	var jobID string
	for _, attr := range span.Attributes() {
		if string(attr.Key) == "job.id" {
			jobID = attr.Value.AsString()
		}
	}
	if jobID != "1700000000000-movie" {
		t.Fatalf("expected job.id attribute, got %q", jobID)
	}
}
