package limiter

import (
	"context"
	"strconv"
	"time"
)

// Preference keys used by Device.
const (
	KeyPinFailedAttempts = "pin_failed_attempts"
	KeyPinBlockedUntil   = "pin_blocked_until"
)

// KV is the preference store Device keeps its counters in.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Device limits local PIN attempts on the device. Counters survive restarts.
type Device struct {
	kv          KV
	maxAttempts int
	blockFor    time.Duration
	now         func() time.Time
}

// NewDevice constructs a PIN limiter blocking for blockFor after maxAttempts failures.
func NewDevice(kv KV, maxAttempts int, blockFor time.Duration) *Device {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if blockFor <= 0 {
		blockFor = 20 * time.Minute
	}
	return &Device{kv: kv, maxAttempts: maxAttempts, blockFor: blockFor, now: time.Now}
}

// Allow reports whether a PIN attempt may be made now and, if not, for how long it is blocked.
func (d *Device) Allow(ctx context.Context) (bool, time.Duration, error) {
	until, err := d.blockedUntil(ctx)
	if err != nil {
		return false, 0, err
	}
	if now := d.now(); until.After(now) {
		return false, until.Sub(now), nil
	}
	return true, 0, nil
}

// Failure records a failed attempt and blocks once the limit is reached.
func (d *Device) Failure(ctx context.Context) (bool, time.Duration, error) {
	n, err := d.attempts(ctx)
	if err != nil {
		return false, 0, err
	}
	n++
	if n < d.maxAttempts {
		return false, 0, d.kv.Set(ctx, KeyPinFailedAttempts, strconv.Itoa(n))
	}
	until := d.now().Add(d.blockFor)
	if err := d.kv.Set(ctx, KeyPinBlockedUntil, strconv.FormatInt(until.UnixNano(), 10)); err != nil {
		return false, 0, err
	}
	// counting restarts once the block expires
	if err := d.kv.Delete(ctx, KeyPinFailedAttempts); err != nil {
		return false, 0, err
	}
	return true, d.blockFor, nil
}

// ResetFailedAttempts clears the failure counter and any block.
func (d *Device) ResetFailedAttempts(ctx context.Context) error {
	if err := d.kv.Delete(ctx, KeyPinFailedAttempts); err != nil {
		return err
	}
	return d.kv.Delete(ctx, KeyPinBlockedUntil)
}

// FailedAttempts returns the current failure count.
func (d *Device) FailedAttempts(ctx context.Context) (int, error) { return d.attempts(ctx) }

func (d *Device) attempts(ctx context.Context) (int, error) {
	v, ok, err := d.kv.Get(ctx, KeyPinFailedAttempts)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func (d *Device) blockedUntil(ctx context.Context) (time.Time, error) {
	v, ok, err := d.kv.Get(ctx, KeyPinBlockedUntil)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return time.Unix(0, ns), nil
}
