// Package config provides 12-factor configuration for the extension host.
//
// Values come from environment variables with defaults, then an optional
// server.toml in the data root is overlaid. The positional port and data-root
// arguments of the binary override both.
//
// Configuration Sections:
//   - Server: listener address, stop grace delay, transport timeouts
//   - Paths: data root
//   - Network: outbound client timeouts, retry and rate policy, response cache size
//   - Sandbox: per-bundle runtime limits
//   - Logging: log level and output format
//   - RateLimit: optional per-IP inbound rate limiting (off by default)
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	if err := config.LoadFile(cfg, layout.Config()); err != nil {
//		return err
//	}
package config
