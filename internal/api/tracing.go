package api

import (
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

func (s *Server) withTracing(next http.Handler) http.Handler {
	if s.tracer == nil {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		spanName := r.Method + " " + routeLabel(r.URL.Path)
		ctx, span := s.tracer.Start(r.Context(), spanName, trace.WithSpanKind(trace.SpanKindServer))
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.route", routeLabel(r.URL.Path)),
			attribute.String("http.target", r.URL.Path),
		)
		defer span.End()

		r = r.WithContext(ctx)
		next.ServeHTTP(w, r)

		// Path values are bound by the mux during routing, so they are only
		// readable once the handler has run.
		if id := r.PathValue("id"); id != "" {
			span.SetAttributes(attribute.String("job.id", id))
		}
		if name := r.PathValue("name"); name != "" {
			span.SetAttributes(attribute.String("download.name", name))
		}
	})
}
