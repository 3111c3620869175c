// Package crypto implements secret hashing: argon2id for server-held one-time codes and
// bcrypt for PIN digests.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"math/big"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters. One-time codes live for minutes, so cost is kept moderate.
const (
	argonTime    uint32 = 2         // iterations
	argonMemory  uint32 = 19 * 1024 // 19 MB
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32

	// SaltLen is the salt size used for secrets.
	SaltLen = 16
)

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

// HashSecret returns the Argon2id hash of secret using the provided salt.
func HashSecret(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifySecret verifies secret against expected Argon2id hash and salt in constant time.
func VerifySecret(secret, salt, expected []byte) bool {
	got := HashSecret(secret, salt)
	return subtle.ConstantTimeCompare(got, expected) == 1
}

// GenerateOTP returns a numeric one-time code of the given length.
func GenerateOTP(digits int) (string, error) {
	if digits <= 0 || digits > 12 {
		return "", errors.New("otp: invalid length")
	}
	out := make([]byte, digits)
	ten := big.NewInt(10)
	for i := range out {
		n, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		out[i] = byte('0' + n.Int64())
	}
	return string(out), nil
}
