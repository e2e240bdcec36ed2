package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"

	minPasswordLength = 8
	// bcrypt ignores input past 72 bytes; refuse it instead of silently truncating.
	maxPasswordLength = 72
)

var errPasswordMismatch = errors.New("password mismatch")

// Hasher produces and checks salted one-way password hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) error
}

// NewHasher returns the hasher for algorithm. cost is the bcrypt work factor and is
// ignored for argon2id.
func NewHasher(algorithm string, cost int) (Hasher, error) {
	switch strings.ToLower(strings.TrimSpace(algorithm)) {
	case "", AlgorithmBcrypt:
		if cost == 0 {
			cost = bcrypt.DefaultCost
		}
		if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
			return nil, fmt.Errorf("%w: bcrypt cost %d out of range", ErrInvalidInput, cost)
		}
		return BcryptHasher{Cost: cost}, nil
	case AlgorithmArgon2id:
		return DefaultArgon2Hasher(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported password algorithm %q", ErrInvalidInput, algorithm)
	}
}

// BcryptHasher hashes with bcrypt at the configured cost.
type BcryptHasher struct{ Cost int }

func (b BcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func (b BcryptHasher) Verify(hash, password string) error {
	return VerifyPassword(hash, password)
}

// Argon2Hasher hashes with argon2id and encodes parameters in PHC string format.
type Argon2Hasher struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	KeyLength   uint32
	SaltLength  int
}

func DefaultArgon2Hasher() Argon2Hasher {
	return Argon2Hasher{
		Memory:      64 * 1024,
		Iterations:  2,
		Parallelism: 1,
		KeyLength:   32,
		SaltLength:  16,
	}
}

func (a Argon2Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	salt := make([]byte, a.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, a.Iterations, a.Memory, a.Parallelism, a.KeyLength)
	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		a.Memory,
		a.Iterations,
		a.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

func (a Argon2Hasher) Verify(hash, password string) error {
	return VerifyPassword(hash, password)
}

// VerifyPassword compares password with a bcrypt or argon2id hash. The algorithm is taken
// from the hash itself, so hashes produced under a previous configuration keep working.
func VerifyPassword(hash, password string) error {
	if hash == "" {
		return errors.New("password hash is empty")
	}
	if strings.HasPrefix(hash, "$argon2id$") {
		return verifyArgon2(hash, password)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return errPasswordMismatch
		}
		return err
	}
	return nil
}

func verifyArgon2(encoded, password string) error {
	// $argon2id$v=19$m=65536,t=2,p=1$<salt>$<key>
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return errors.New("malformed argon2id hash")
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return fmt.Errorf("parse argon2id version: %w", err)
	}
	if version != argon2.Version {
		return fmt.Errorf("unsupported argon2 version %d", version)
	}
	var (
		memory, iterations uint32
		parallelism        uint8
	)
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &iterations, &parallelism); err != nil {
		return fmt.Errorf("parse argon2id params: %w", err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return fmt.Errorf("decode argon2id salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return fmt.Errorf("decode argon2id key: %w", err)
	}
	got := argon2.IDKey([]byte(password), salt, iterations, memory, parallelism, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return errPasswordMismatch
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}
