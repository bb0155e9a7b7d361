package utils

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

const BcryptCost = 12

// HashSecret produces the value stored in DISPATCHER_SECRET_HASH.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret must not be empty")
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	return string(bytes), err
}

// CheckSecretHash reports whether secret matches hash. A malformed hash is
// returned as an error, a plain mismatch is not.
func CheckSecretHash(secret, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
