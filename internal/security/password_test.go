package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastParams = Argon2Params{Time: 1, Memory: 8 * 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPasswordWithParams("correct horse battery", fastParams)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$"))

	ok, err := VerifyPassword("correct horse battery", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("wrong", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHashesAreSalted(t *testing.T) {
	a, err := HashPasswordWithParams("pw", fastParams)
	require.NoError(t, err)
	b, err := HashPasswordWithParams("pw", fastParams)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerifyPasswordMalformed(t *testing.T) {
	for _, encoded := range []string{"", "plain", "$bcrypt$v=19$m=1,t=1,p=1$a$b", "$argon2id$v=18$m=1,t=1,p=1$a$b"} {
		_, err := VerifyPassword("pw", encoded)
		assert.Error(t, err, encoded)
	}
}

func TestNeedsRehash(t *testing.T) {
	hash, err := HashPasswordWithParams("pw", fastParams)
	require.NoError(t, err)

	assert.False(t, NeedsRehash(hash, fastParams))
	assert.True(t, NeedsRehash(hash, DefaultArgon2Params))
	assert.True(t, NeedsRehash("garbage", fastParams))
}
