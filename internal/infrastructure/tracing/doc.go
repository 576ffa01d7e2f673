// Package tracing times the stages of an invocation and logs them as spans.
//
// Middleware opens one root span per RPC request. The host then runs
// inspect, convert, load and dispatch as children, so a single trace_id ties
// every log line of an invocation together. Callers may pass X-Trace-ID and
// X-Span-ID to join their own trace.
//
//	err := tracer.Trace(ctx, "convert", func(ctx context.Context) error {
//		archive, err = converter.Convert(ctx, b)
//		return err
//	})
package tracing
