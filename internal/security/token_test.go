package security

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/apperr"
	"backoffice/internal/rbac"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCodec(t *testing.T, clock *fakeClock) *Codec {
	t.Helper()
	codec, err := NewCodec(testSecret, WithClock(clock.Now))
	require.NoError(t, err)
	return codec
}

func staffClaims() TokenClaims {
	return TokenClaims{
		SubjectID:   "user-1",
		Email:       "staff@example.com",
		Role:        rbac.RoleStaff,
		Permissions: rbac.PermissionsFor(rbac.RoleStaff).Slice(),
		SessionID:   "session-1",
		Kind:        TokenKindAccess,
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	_, err := NewCodec("")
	assert.Error(t, err)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	for _, kind := range []TokenKind{TokenKindAccess, TokenKindRefresh} {
		t.Run(string(kind), func(t *testing.T) {
			in := staffClaims()
			in.Kind = kind

			token, err := codec.Sign(in, 15*time.Minute)
			require.NoError(t, err)
			assert.Len(t, strings.Split(token, "."), 3)

			out, err := codec.Verify(token)
			require.NoError(t, err)

			assert.NotEmpty(t, out.ID)
			assert.Equal(t, in.SubjectID, out.SubjectID)
			assert.Equal(t, in.Email, out.Email)
			assert.Equal(t, in.Role, out.Role)
			assert.Equal(t, in.Permissions, out.Permissions)
			assert.Equal(t, in.SessionID, out.SessionID)
			assert.Equal(t, kind, out.Kind)
			assert.True(t, out.IssuedAt.Equal(clock.Now()))
			assert.True(t, out.ExpiresAt.Equal(clock.Now().Add(15*time.Minute)))
		})
	}
}

func TestSignRejectsNonPositiveTTL(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	_, err := codec.Sign(staffClaims(), 0)
	assert.Error(t, err)
}

// flipChar swaps s[i] for a different character from the base64url alphabet.
func flipChar(s string, i int) string {
	b := []byte(s)
	if b[i] == 'A' {
		b[i] = 'B'
	} else {
		b[i] = 'A'
	}
	return string(b)
}

func TestTamperedTokenFailsWithInvalidSignature(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	token, err := codec.Sign(staffClaims(), time.Hour)
	require.NoError(t, err)

	parts := strings.Split(token, ".")
	headerEnd := len(parts[0])
	payloadEnd := headerEnd + 1 + len(parts[1])

	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			continue
		}
		tampered := flipChar(token, i)
		_, err := codec.Verify(tampered)
		require.Error(t, err, "byte %d flipped but token verified", i)
		assert.Equal(t, apperr.CodeInvalidSignature, apperr.CodeOf(err), "byte %d (header<%d payload<%d)", i, headerEnd, payloadEnd)
	}
}

func TestVerifyWithWrongSecret(t *testing.T) {
	clock := newFakeClock()
	token, err := newTestCodec(t, clock).Sign(staffClaims(), time.Hour)
	require.NoError(t, err)

	other, err := NewCodec("another-secret-another-secret-xx", WithClock(clock.Now))
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Equal(t, apperr.CodeInvalidSignature, apperr.CodeOf(err))
}

func TestExpiredTokenFailsWithExpired(t *testing.T) {
	clock := newFakeClock()
	codec := newTestCodec(t, clock)

	token, err := codec.Sign(staffClaims(), time.Second)
	require.NoError(t, err)

	_, err = codec.Verify(token)
	require.NoError(t, err)

	clock.Advance(2 * time.Second)

	_, err = codec.Verify(token)
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeTokenExpired, apperr.CodeOf(err))
}

func TestExpiryBoundary(t *testing.T) {
	t.Run("valid through exp", func(t *testing.T) {
		clock := newFakeClock()
		codec := newTestCodec(t, clock)
		token, err := codec.Sign(staffClaims(), time.Second)
		require.NoError(t, err)

		clock.Advance(time.Second)
		_, err = codec.Verify(token)
		require.NoError(t, err)

		clock.Advance(time.Nanosecond)
		_, err = codec.Verify(token)
		assert.Equal(t, apperr.CodeTokenExpired, apperr.CodeOf(err))
	})

	t.Run("fractional issue time", func(t *testing.T) {
		clock := newFakeClock()
		clock.Advance(900 * time.Millisecond)
		codec := newTestCodec(t, clock)
		token, exp, err := codec.SignExpiring(staffClaims(), time.Second)
		require.NoError(t, err)
		assert.True(t, exp.Equal(time.Date(2026, 3, 1, 12, 0, 2, 0, time.UTC)), "exp %s", exp)

		clock.Advance(200 * time.Millisecond)
		claims, err := codec.Verify(token)
		require.NoError(t, err)
		assert.True(t, claims.ExpiresAt.Equal(exp))
	})

	t.Run("sub-second ttl", func(t *testing.T) {
		clock := newFakeClock()
		codec := newTestCodec(t, clock)
		token, err := codec.Sign(staffClaims(), 500*time.Millisecond)
		require.NoError(t, err)

		_, err = codec.Verify(token)
		require.NoError(t, err)
	})
}

func TestExpiryAfterRoundsUp(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, base.Add(time.Minute), ExpiryAfter(base, time.Minute))
	assert.Equal(t, base.Add(time.Second), ExpiryAfter(base, time.Nanosecond))
	assert.Equal(t, base.Add(2*time.Second), ExpiryAfter(base.Add(100*time.Millisecond), 1500*time.Millisecond))
}

func TestExpiredTokenWithRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("sleeps")
	}
	codec, err := NewCodec(testSecret)
	require.NoError(t, err)

	token, err := codec.Sign(staffClaims(), time.Second)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	_, err = codec.Verify(token)
	assert.Equal(t, apperr.CodeTokenExpired, apperr.CodeOf(err))
}

func TestMalformedTokens(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())
	for _, token := range []string{"", "abc", "a.b", "a..c", "a.b.c.d", ".."} {
		_, err := codec.Verify(token)
		assert.Equal(t, apperr.CodeMalformedToken, apperr.CodeOf(err), "token %q", token)
	}
}

func TestVerifyKind(t *testing.T) {
	codec := newTestCodec(t, newFakeClock())

	access, err := codec.Sign(staffClaims(), time.Minute)
	require.NoError(t, err)

	_, err = codec.VerifyKind(access, TokenKindRefresh)
	assert.Equal(t, apperr.CodeWrongTokenKind, apperr.CodeOf(err))

	claims, err := codec.VerifyKind(access, TokenKindAccess)
	require.NoError(t, err)
	assert.Equal(t, TokenKindAccess, claims.Kind)
}

func TestExtractTokenFromHeader(t *testing.T) {
	tests := []struct {
		header string
		token  string
		code   string
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", ""},
		{"", "", apperr.CodeMissingHeader},
		{"Token abc", "", apperr.CodeMalformedHeader},
		{"Bearer", "", apperr.CodeMalformedHeader},
		{"Bearer ", "", apperr.CodeMalformedHeader},
		{"bearer abc", "", apperr.CodeMalformedHeader},
		{"Bearer  abc", "", apperr.CodeMalformedHeader},
		{"Bearer abc def", "", apperr.CodeMalformedHeader},
	}
	for _, tc := range tests {
		t.Run(tc.header, func(t *testing.T) {
			token, err := ExtractTokenFromHeader(tc.header)
			if tc.code == "" {
				require.NoError(t, err)
				assert.Equal(t, tc.token, token)
				return
			}
			require.Error(t, err)
			assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))
			assert.Equal(t, tc.code, apperr.CodeOf(err))
		})
	}
}
