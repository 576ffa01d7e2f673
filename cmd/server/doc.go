// Package main is the entry point of the extension host.
//
// The host accepts extension bundles over a local RPC boundary, loads each
// one into an isolated runtime and invokes the requested operation.
//
// Configuration:
//   - Environment variables (see internal/infrastructure/config)
//   - <appDir>/server.toml overlay
//   - Positional arguments override both
//
// Usage:
//
//	# Listen on 4567, keep data under ./data
//	./server 4567 ./data
//
//	# Free port, default data root, console logs
//	./server --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
