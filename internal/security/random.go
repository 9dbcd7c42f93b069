package security

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"math/big"
)

// lowercase, no padding, no '.' so generated values are safe inside tokens, URLs and cookies.
var randomEncoding = base32.NewEncoding("abcdefghijklmnopqrstuvwxyz234567").WithPadding(base32.NoPadding)

const (
	secretBytes = 20
	idBytes     = 15
	codeDigits  = 8
)

func randomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return randomEncoding.EncodeToString(b), nil
}

// GenerateSecret returns a 32 character random secret.
func GenerateSecret() (string, error) {
	return randomString(secretBytes)
}

// GenerateID returns a random identifier carrying the given kind prefix.
func GenerateID(prefix string) (string, error) {
	s, err := randomString(idBytes)
	if err != nil {
		return "", err
	}
	return prefix + s, nil
}

// GenerateCode returns a numeric one-time code.
func GenerateCode() (string, error) {
	limit := big.NewInt(1)
	for range codeDigits {
		limit.Mul(limit, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("read random code: %w", err)
	}
	return fmt.Sprintf("%0*d", codeDigits, n), nil
}
