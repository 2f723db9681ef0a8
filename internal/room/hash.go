package room

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher abstracts the slow-hash primitive used to gate entry into
// protected rooms. Hashing and verification are intentionally expensive and
// must never run under a registry or room lock.
type PasswordHasher interface {
	Hash(passphrase string) ([]byte, error)
	Compare(hash []byte, passphrase string) error
}

// BcryptHasher is the default PasswordHasher.
type BcryptHasher struct {
	Cost int
}

// Hash derives a bcrypt hash of the passphrase.
func (b BcryptHasher) Hash(passphrase string) ([]byte, error) {
	cost := b.Cost
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return bcrypt.GenerateFromPassword([]byte(passphrase), cost)
}

// Compare verifies a passphrase against a stored hash. A mismatch returns
// ErrInvalidPassphrase; anything else is an internal fault.
func (b BcryptHasher) Compare(hash []byte, passphrase string) error {
	err := bcrypt.CompareHashAndPassword(hash, []byte(passphrase))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidPassphrase
	}
	return errors.Join(ErrInternal, err)
}
