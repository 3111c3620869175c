package limiter

import (
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/time/rate"
)

// OTPThrottle limits how often a single user may request a new one-time code.
type OTPThrottle struct {
	mu    sync.Mutex
	every time.Duration
	burst int
	users map[uuid.UUID]*entry
	now   func() time.Time
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewOTPThrottle allows burst requests per user, refilling one every interval.
func NewOTPThrottle(every time.Duration, burst int) *OTPThrottle {
	if burst <= 0 {
		burst = 1
	}
	return &OTPThrottle{every: every, burst: burst, users: map[uuid.UUID]*entry{}, now: time.Now}
}

// Allow reports whether userID may request a code now.
func (t *OTPThrottle) Allow(userID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	e, ok := t.users[userID]
	if !ok {
		e = &entry{lim: rate.NewLimiter(rate.Every(t.every), t.burst)}
		t.users[userID] = e
	}
	e.seen = now
	t.gc(now)
	return e.lim.AllowN(now, 1)
}

// gc drops idle users so the map does not grow without bound.
func (t *OTPThrottle) gc(now time.Time) {
	idle := t.every * time.Duration(t.burst) * 2
	for id, e := range t.users {
		if now.Sub(e.seen) > idle {
			delete(t.users, id)
		}
	}
}
