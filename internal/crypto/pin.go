package crypto

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/and161185/clinic-sync/internal/errs"
)

// PinHasher produces and checks PIN digests.
type PinHasher interface {
	// Hash returns a digest safe to store and send to the server.
	Hash(pin string) (string, error)
	// Compare returns errs.ErrIncorrectPIN when pin does not match digest.
	Compare(digest, pin string) error
}

// BcryptHasher hashes PINs with bcrypt.
type BcryptHasher struct {
	Cost int
}

var _ PinHasher = BcryptHasher{}

// NewBcryptHasher returns a hasher with the given cost (bcrypt.DefaultCost when 0).
func NewBcryptHasher(cost int) BcryptHasher {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return BcryptHasher{Cost: cost}
}

// Hash returns the bcrypt digest of pin.
func (h BcryptHasher) Hash(pin string) (string, error) {
	if pin == "" {
		return "", errors.New("validation: empty pin")
	}
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(b), nil
}

// Compare checks pin against a bcrypt digest.
func (h BcryptHasher) Compare(digest, pin string) error {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(pin))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return errs.ErrIncorrectPIN
	default:
		return fmt.Errorf("compare pin: %w", err)
	}
}
