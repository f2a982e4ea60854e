package identity

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/crypto/argon2"
)

// argon2id parameters. 64MB memory keeps the hash memory-hard without
// starving concurrent logins.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Argon2Hasher implements PasswordHasher with argon2id and PHC-formatted
// hash strings.
type Argon2Hasher struct{}

var _ PasswordHasher = Argon2Hasher{}

// HashPassword generates an argon2id hash with a fresh random salt.
func (Argon2Hasher) HashPassword(password string) (string, error) {
	return HashPassword(password)
}

// ComparePasswordAndHash validates the cleartext password against the
// stored hash in constant time.
func (Argon2Hasher) ComparePasswordAndHash(password, hash string) error {
	return ComparePasswordAndHash(password, hash)
}

// HashPassword will generate a password hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", goerrors.New("password must not be empty", goerrors.CategoryValidation)
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate salt")
	}

	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	encoded := fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	)

	return encoded, nil
}

// ComparePasswordAndHash will validate the given cleartext password
// matches the hashed password. Any failure maps to the uniform
// bad-credential error.
func ComparePasswordAndHash(password, hash string) error {
	salt, key, params, err := decodeArgon2Hash(hash)
	if err != nil {
		return err
	}

	candidate := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(key)))

	if subtle.ConstantTimeCompare(key, candidate) != 1 {
		return ErrBadCredentials
	}
	return nil
}

type argon2Params struct {
	memory  uint32
	time    uint32
	threads uint8
}

func decodeArgon2Hash(hash string) (salt, key []byte, params argon2Params, err error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return nil, nil, params, ErrBadCredentials
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, nil, params, ErrBadCredentials
	}

	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &params.memory, &params.time, &params.threads); err != nil {
		return nil, nil, params, ErrBadCredentials
	}

	if salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, nil, params, ErrBadCredentials
	}
	if key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, nil, params, ErrBadCredentials
	}

	return salt, key, params, nil
}
