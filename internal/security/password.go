package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var ErrPasswordPolicy = errors.New("password must be between 8 and 72 bytes")

func ValidatePassword(password string) error {
	if len(password) < 8 || len(password) > 72 {
		return ErrPasswordPolicy
	}
	return nil
}

func HashPassword(password string) (string, error) {
	if err := ValidatePassword(password); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func ComparePassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// dummyPasswordHash is compared against when no user exists, so unknown accounts take as long as bad passwords.
var dummyPasswordHash, _ = bcrypt.GenerateFromPassword([]byte("identity-core-placeholder"), bcrypt.DefaultCost)

func ComparePlaceholder(password string) {
	_ = bcrypt.CompareHashAndPassword(dummyPasswordHash, []byte(password))
}
