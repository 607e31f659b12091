package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

type Argon2IDOptions struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltBytes   uint32
	KeyBytes    uint32
}

func DefaultArgon2IDOptions() Argon2IDOptions {
	return Argon2IDOptions{
		Memory:      64 * 1024,
		Time:        1,
		Parallelism: 4,
		SaltBytes:   16,
		KeyBytes:    32,
	}
}

type Argon2IDHasher struct {
	options Argon2IDOptions
}

func NewArgon2IDHasher(options Argon2IDOptions) *Argon2IDHasher {
	defaults := DefaultArgon2IDOptions()

	if options.Memory == 0 {
		options.Memory = defaults.Memory
	}
	if options.Time == 0 {
		options.Time = defaults.Time
	}
	if options.Parallelism == 0 {
		options.Parallelism = defaults.Parallelism
	}
	if options.SaltBytes == 0 {
		options.SaltBytes = defaults.SaltBytes
	}
	if options.KeyBytes == 0 {
		options.KeyBytes = defaults.KeyBytes
	}

	return &Argon2IDHasher{options: options}
}

// Hash encodes as $argon2id$v=19$m=...,t=...,p=...$salt$key (PHC string).
func (h *Argon2IDHasher) Hash(password string) (string, error) {
	if h == nil {
		return "", ErrInvalidConfig
	}
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, h.options.SaltBytes)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, h.options.Time, h.options.Memory, h.options.Parallelism, h.options.KeyBytes)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		AlgorithmArgon2ID,
		argon2.Version,
		h.options.Memory,
		h.options.Time,
		h.options.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (h *Argon2IDHasher) Verify(password string, encodedHash string) (bool, error) {
	if h == nil {
		return false, ErrInvalidConfig
	}

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return false, ErrInvalidHash
	}
	if parts[1] != string(AlgorithmArgon2ID) {
		return false, ErrIncompatibleFormat
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false, ErrInvalidHash
	}

	var (
		memory      uint32
		timeCost    uint32
		parallelism uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &parallelism); err != nil {
		return false, ErrInvalidHash
	}
	if memory == 0 || timeCost == 0 || parallelism == 0 {
		return false, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return false, ErrInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false, ErrInvalidHash
	}

	candidate := argon2.IDKey([]byte(password), salt, timeCost, memory, parallelism, uint32(len(expected)))
	return subtle.ConstantTimeCompare(candidate, expected) == 1, nil
}
