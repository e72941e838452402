package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"school-notify/pkg/config"
)

// tracer is the global tracer instance for the school-notify binaries.
var tracer = otel.Tracer("school-notify")

// GetTracer returns the global tracer for creating spans.
//
//	ctx, span := tracing.GetTracer().Start(ctx, "operation-name")
//	defer span.End()
func GetTracer() trace.Tracer {
	return tracer
}

// Init installs a global TracerProvider sampling OTEL_TRACES_SAMPLER_RATIO
// (default 1.0) of root spans, honouring the parent's decision otherwise, and
// the W3C trace-context propagator. The returned function flushes and shuts
// the provider down.
//
// Spans are recorded so trace ids reach logs and response headers; extra
// span processors (exporters) are passed in opts.
func Init(opts ...sdktrace.TracerProviderOption) func(context.Context) error {
	ratio := config.GetEnvFloat("OTEL_TRACES_SAMPLER_RATIO", 1.0)
	if ratio < 0 || ratio > 1 {
		ratio = 1.0
	}
	base := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
	}
	tp := sdktrace.NewTracerProvider(append(base, opts...)...)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = tp.Tracer("school-notify")

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}
}
