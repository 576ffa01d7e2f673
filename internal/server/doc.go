// Package server runs the extension host process.
//
// The Controller wires configuration, logging, metrics, tracing, the shared
// network registry and the invocation pipeline behind a gin router, and owns
// the listener lifecycle:
//
//	stopped -> starting -> running -> stopping -> stopped
//
// Routes:
//   - GET  /        liveness text
//   - POST /dalvik  run one invocation
//   - GET  /stop    acknowledge, then stop after the configured grace
//   - GET  /metrics Prometheus exposition
//
// Example Usage:
//
//	ctrl, err := server.New(config.LoadOrDefault(), logger)
//	if err := ctrl.Start(port); err != nil {
//	    log.Fatal(err)
//	}
//	<-ctrl.Done()
package server
