package application

import (
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/example/roomflow/internal/persistence/sharded"
)

var (
	ErrInvalidPasswordHash         = errors.New("invalid password hash format")
	ErrIncompatiblePasswordVersion = errors.New("incompatible password hash version")
)

type Argon2idParams struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var DefaultArgon2idParams = Argon2idParams{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// PasswordHasher produces an encoded credential for a plain password.
type PasswordHasher func(password string) (string, error)

// PasswordVerifier compares a stored credential with a candidate password.
type PasswordVerifier func(hashedPassword, password string) error

// NewArgon2idHasher returns a PasswordHasher bound to params.
func NewArgon2idHasher(params Argon2idParams) PasswordHasher {
	return func(password string) (string, error) {
		return CreatePasswordHash(password, params)
	}
}

func CreatePasswordHash(password string, params Argon2idParams) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	// Format is $argon2id$v=19$m=...,t=...,p=...$salt$hash
	format := "$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s"
	return fmt.Sprintf(format, argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash), nil
}

// VerifyPassword checks password against an argon2id credential or a
// converted legacy PBKDF2 credential.
func VerifyPassword(hashedPassword, password string) error {
	if IsLegacyPasswordHash(hashedPassword) {
		return verifyLegacyPassword(hashedPassword, password)
	}

	parts := strings.Split(hashedPassword, "$")
	if len(parts) != 6 {
		return ErrInvalidPasswordHash
	}

	if parts[1] != "argon2id" {
		return ErrInvalidPasswordHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return err
	}
	if version != argon2.Version {
		return ErrIncompatiblePasswordVersion
	}

	var params Argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.Memory, &params.Iterations, &params.Parallelism); err != nil {
		return err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return err
	}
	params.SaltLength = uint32(len(salt))

	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return err
	}
	params.KeyLength = uint32(len(decodedHash))

	comparisonHash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)

	if subtle.ConstantTimeCompare(decodedHash, comparisonHash) == 1 {
		return nil
	}

	return ErrInvalidCredentials
}

// IsLegacyPasswordHash reports whether the credential predates argon2id and
// should be rehashed after the next successful sign-in.
func IsLegacyPasswordHash(hashedPassword string) bool {
	return strings.HasPrefix(hashedPassword, sharded.LegacyPasswordPrefix)
}

// EncodeLegacyPasswordHash derives a PBKDF2 credential in the legacy layout.
func EncodeLegacyPasswordHash(password, algo string, iterations int, salt []byte) (string, error) {
	newHash, err := pbkdf2Hash(algo)
	if err != nil {
		return "", err
	}
	digest := pbkdf2.Key([]byte(password), salt, iterations, newHash().Size(), newHash)
	return fmt.Sprintf("%s%s$%d$%s$%s", sharded.LegacyPasswordPrefix, algo, iterations,
		base64.StdEncoding.EncodeToString(salt), base64.StdEncoding.EncodeToString(digest)), nil
}

func verifyLegacyPassword(hashedPassword, password string) error {
	parts := strings.Split(strings.TrimPrefix(hashedPassword, sharded.LegacyPasswordPrefix), "$")
	if len(parts) != 4 {
		return ErrInvalidPasswordHash
	}
	newHash, err := pbkdf2Hash(parts[0])
	if err != nil {
		return err
	}
	iterations, err := strconv.Atoi(parts[1])
	if err != nil || iterations <= 0 {
		return ErrInvalidPasswordHash
	}
	salt, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return ErrInvalidPasswordHash
	}
	expected, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil || len(expected) == 0 {
		return ErrInvalidPasswordHash
	}

	digest := pbkdf2.Key([]byte(password), salt, iterations, len(expected), newHash)
	if subtle.ConstantTimeCompare(expected, digest) == 1 {
		return nil
	}
	return ErrInvalidCredentials
}

func pbkdf2Hash(algo string) (func() hash.Hash, error) {
	switch algo {
	case "sha256":
		return sha256.New, nil
	case "sha512":
		return sha512.New, nil
	case "sha1":
		return sha1.New, nil
	}
	return nil, fmt.Errorf("%w: unsupported digest %q", ErrInvalidPasswordHash, algo)
}
