package limiter

import (
	"context"
	"crypto/sha256"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps login failure counters in the login_attempts table. A (phone, client) pair is
// blocked for blockFor once maxFails failures land within window of the first one.
type PG struct {
	q        pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter over a pool or transaction.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{q: q, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// HashIP returns a stable hash of the client host to avoid storing raw addresses.
// A trailing port is ignored so reconnects from the same host share a counter.
func HashIP(addr string) []byte {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	h := sha256.Sum256([]byte(addr))
	return h[:]
}

// Allow reports whether a login for phone from client may proceed, and if not, for how long
// it stays blocked.
func (l *PG) Allow(ctx context.Context, phone string, client []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM login_attempts WHERE phone = $1 AND client = $2`
	var blockedUntil *time.Time
	err := l.q.QueryRow(ctx, q, phone, client).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if now := l.now(); blockedUntil != nil && blockedUntil.After(now) {
		return false, blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the failures of (phone, client).
func (l *PG) Success(ctx context.Context, phone string, client []byte) error {
	_, err := l.q.Exec(ctx, `DELETE FROM login_attempts WHERE phone = $1 AND client = $2`, phone, client)
	return err
}

// Failure counts a failed attempt. It reports true with the block duration when this
// failure reached the limit.
func (l *PG) Failure(ctx context.Context, phone string, client []byte) (bool, time.Duration, error) {
	now := l.now()
	const q = `
INSERT INTO login_attempts (phone, client, failures, first_failed_at)
VALUES ($1, $2, 1, $3)
ON CONFLICT (phone, client) DO UPDATE SET
  failures = CASE WHEN login_attempts.first_failed_at < $4 THEN 1 ELSE login_attempts.failures + 1 END,
  first_failed_at = CASE WHEN login_attempts.first_failed_at < $4 THEN $3 ELSE login_attempts.first_failed_at END
RETURNING failures`
	var failures int
	if err := l.q.QueryRow(ctx, q, phone, client, now, now.Add(-l.window)).Scan(&failures); err != nil {
		return false, 0, err
	}
	if failures < l.maxFails {
		return false, 0, nil
	}

	const block = `UPDATE login_attempts SET blocked_until = $3, failures = 0 WHERE phone = $1 AND client = $2`
	if _, err := l.q.Exec(ctx, block, phone, client, now.Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}

// Reset drops every counter and block held for phone, whichever client produced it.
func (l *PG) Reset(ctx context.Context, phone string) error {
	_, err := l.q.Exec(ctx, `DELETE FROM login_attempts WHERE phone = $1`, phone)
	return err
}
