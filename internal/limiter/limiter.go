// Package limiter defines login brute-force protection: a server-side limiter keyed by
// (phone number, client address), a device-local PIN limiter and an OTP request throttle.
package limiter

import (
	"context"
	"time"
)

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether login is currently allowed and optional retry-after.
	Allow(ctx context.Context, phone string, client []byte) (bool, time.Duration, error)
	// Success resets counters after a successful login.
	Success(ctx context.Context, phone string, client []byte) error
	// Failure records a failed attempt; may place a temporary block.
	Failure(ctx context.Context, phone string, client []byte) (bool, time.Duration, error)
	// Reset lifts every block on phone, e.g. after its PIN was replaced.
	Reset(ctx context.Context, phone string) error
}

var _ Limiter = (*PG)(nil)
