// Package tracing wires OpenTelemetry into the api and worker.
//
//	shutdown := tracing.Init()
//	defer shutdown(context.Background())
//
//	handler = tracing.Middleware(handler)
//
//	ctx, span := tracing.GetTracer().Start(ctx, "dispatch.send")
//	defer span.End()
package tracing
