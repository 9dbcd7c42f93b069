package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
)

var ErrPepperTooShort = errors.New("secret pepper must be at least 32 bytes")

const MinPepperLength = 32

// SecretHasher derives the stored hash of a token secret. The pepper is process wide
// and never persisted alongside the hash.
type SecretHasher struct {
	pepper []byte
}

func NewSecretHasher(pepper string) (*SecretHasher, error) {
	if len(pepper) < MinPepperLength {
		return nil, ErrPepperTooShort
	}
	return &SecretHasher{pepper: []byte(pepper)}, nil
}

func (h *SecretHasher) Hash(secret string) []byte {
	mac := sha256.New()
	mac.Write([]byte(secret))
	mac.Write(h.pepper)
	return mac.Sum(nil)
}

// Verify recomputes the hash and compares in constant time. Length mismatches return false
// without inspecting content.
func (h *SecretHasher) Verify(secret string, hash []byte) bool {
	return subtle.ConstantTimeCompare(h.Hash(secret), hash) == 1
}

// EqualConstantTime compares two strings without leaking the position of the first difference.
func EqualConstantTime(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
