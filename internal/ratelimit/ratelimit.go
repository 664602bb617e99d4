// Package ratelimit bounds how fast a single user can burn through the
// LLM-backed turn endpoints.
//
// The Limiter interface is the contract; the in-memory token bucket is the
// shipped implementation. A shared-store implementation can be substituted
// for multi-instance deployments.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed. The key is opaque;
	// the server uses the caller's user id. An error signals a limiter
	// malfunction and callers fail open rather than blocking traffic.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines, connections).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
