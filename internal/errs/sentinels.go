// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnauthorized indicates failed authentication/authorization.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimited indicates temporary lock due to rate limiting.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., phone number taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrIncorrectOTP indicates the submitted one-time code did not match or expired.
	ErrIncorrectOTP = errors.New("incorrect otp")

	// ErrIncorrectPIN indicates the submitted PIN did not match the stored digest.
	ErrIncorrectPIN = errors.New("incorrect pin")

	// ErrInvalidInput indicates a request failed validation.
	ErrInvalidInput = errors.New("invalid input")

	// ErrPullOnly indicates a push was attempted for a server-owned record type.
	ErrPullOnly = errors.New("resource is pull-only")
)

// Client session sentinels.
var (
	// ErrNotLoggedIn indicates no user is stored on the device.
	ErrNotLoggedIn = errors.New("no logged in user")

	// ErrNoOngoingEntry indicates a multi-step flow was continued without being started.
	ErrNoOngoingEntry = errors.New("no ongoing entry")

	// ErrUserNotFound indicates the server no longer recognises the session user.
	ErrUserNotFound = errors.New("user not found")
)
