package tracing

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"school-notify/internal/handler/http/pathutil"
	"school-notify/internal/handler/http/responsewriter"
)

// Middleware starts a server span per request, continuing any W3C trace
// context sent by the caller, and returns the trace id in X-Trace-Id.
//
// Span names use the normalized path so ids do not explode span
// cardinality. Responses with status >= 500 mark the span as an error.
// The wrapped writer still supports websocket upgrades.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		route := pathutil.NormalizePath(r.URL.Path)
		ctx, span := tracer.Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
			),
		)
		defer span.End()

		w.Header().Set("X-Trace-Id", span.SpanContext().TraceID().String())

		rw := responsewriter.Wrap(w)
		next.ServeHTTP(rw, r.WithContext(ctx))

		span.SetAttributes(attribute.Int("http.status_code", rw.StatusCode()))
		if rw.Hijacked() {
			span.SetAttributes(attribute.Bool("http.upgraded", true))
		}
		if rw.StatusCode() >= 500 {
			span.SetStatus(codes.Error, http.StatusText(rw.StatusCode()))
			span.SetAttributes(attribute.Bool("error", true))
		}
	})
}
