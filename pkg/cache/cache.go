// Package cache provides the ephemeral TTL store shared by the RPC router
// and the view ingester. It is the only mutable state on the hot path, so
// the whole surface is a pair of atomic check-style operations; handlers
// never see the backing store.
package cache

import "time"

type CheckAndSetCache interface {
	// Contains reports whether key is currently recorded. It never
	// records anything; callers Mark a key once its event reaches a
	// terminal outcome, so a rejected event leaves no trace.
	Contains(key string) bool

	// Mark records key for ttl from now. The window is absolute:
	// marking an already-recorded key does not extend it.
	Mark(key string, ttl time.Duration)

	// CheckAndIncrement bumps the counter behind key and reports whether
	// it is still within limit for the current window. The first call in
	// a window opens it; later calls leave its deadline untouched.
	CheckAndIncrement(key string, ttl time.Duration, limit int64) bool

	Stop()
}
