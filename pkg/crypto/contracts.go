package crypto

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidHash        = errors.New("password: invalid hash")
	ErrInvalidConfig      = errors.New("password: invalid config")
	ErrUnsupportedAlgo    = errors.New("password: unsupported hash algorithm")
	ErrPasswordTooLong    = errors.New("password: too long for algorithm")
	ErrEmptyPassword      = errors.New("password: empty password")
	ErrIncompatibleFormat = errors.New("password: hash was produced by another algorithm")
)

type Algorithm string

const (
	AlgorithmBcrypt   Algorithm = "bcrypt"
	AlgorithmArgon2ID Algorithm = "argon2id"
	AlgorithmPBKDF2   Algorithm = "pbkdf2"
)

// Hasher turns a plaintext password into an opaque, self-describing string.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(password string, encodedHash string) (bool, error)
}

// NewHasher selects a hasher by the password_hash_algo setting. "2y" and
// "2b" are accepted as bcrypt aliases.
func NewHasher(algo string) (Hasher, error) {
	switch Algorithm(strings.ToLower(strings.TrimSpace(algo))) {
	case "", AlgorithmBcrypt, "2y", "2b":
		return NewBcryptHasher(0), nil
	case AlgorithmArgon2ID:
		return NewArgon2IDHasher(Argon2IDOptions{}), nil
	case AlgorithmPBKDF2:
		return NewPBKDF2Hasher(PBKDF2Options{}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgo, algo)
	}
}
