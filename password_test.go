package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashPasswordAndCompare(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"))

	assert.NoError(t, ComparePasswordAndHash("correct horse battery staple", hash))

	err = ComparePasswordAndHash("wrong password", hash)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadCredentials)
}

func TestHashPasswordSaltsAreUnique(t *testing.T) {
	first, err := HashPassword("same password")
	require.NoError(t, err)
	second, err := HashPassword("same password")
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

func TestComparePasswordAndHashMalformed(t *testing.T) {
	cases := []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=65536,t=1,p=4$short",
		"$bcrypt$something",
	}

	for _, hash := range cases {
		err := ComparePasswordAndHash("password", hash)
		require.Error(t, err, "hash: %q", hash)
		assert.ErrorIs(t, err, ErrBadCredentials)
	}
}

func TestArgon2HasherImplementsInterface(t *testing.T) {
	var hasher PasswordHasher = Argon2Hasher{}

	hash, err := hasher.HashPassword("hunter2hunter2")
	require.NoError(t, err)
	assert.NoError(t, hasher.ComparePasswordAndHash("hunter2hunter2", hash))
}
