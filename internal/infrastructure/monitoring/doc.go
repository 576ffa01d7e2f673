// Package monitoring exports the host's Prometheus metrics on /metrics.
//
// Each Metrics value owns its registry, so tests can run several servers in
// one process. Series are prefixed exthost_ and cover RPC requests, dispatched
// invocations, pipeline stages, conversion diagnostics, live workspaces and
// outbound calls per source.
//
//	stage := monitoring.StartStage(metrics, "convert")
//	archive, err := convert(ctx, b)
//	stage.Done(err)
package monitoring
