// Package middleware holds the gin middleware in front of the RPC routes
// that is not tied to tracing or metrics.
//
// CORS admits browser-hosted front-ends (all origins unless
// CORS_ALLOW_ORIGINS narrows them). RateLimit is a per-client token bucket,
// off unless RATE_LIMIT_ENABLED is set; it rejects with the same
// {error, code} body the invocation route uses.
package middleware
