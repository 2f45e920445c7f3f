package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"backoffice/internal/ids"
)

const stateAudience = "oauth-state"

// StateSigner mints the OAuth2 state parameter as a short-lived signed token so
// the callback can be checked without server-side storage.
type StateSigner struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

type StateClaims struct {
	ID        string
	ExpiresAt time.Time
}

func NewStateSigner(secret string, ttl time.Duration, opts ...CodecOption) (*StateSigner, error) {
	if secret == "" {
		return nil, errors.New("state signing secret is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("state ttl must be positive, got %s", ttl)
	}
	// reuse the codec options so a single clock drives both signers in tests
	c := &Codec{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return &StateSigner{secret: []byte(secret), ttl: ttl, now: c.now}, nil
}

func (s *StateSigner) TTL() time.Duration {
	return s.ttl
}

func (s *StateSigner) Issue() (string, StateClaims, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		ID:        ids.New(),
		Audience:  jwt.ClaimStrings{stateAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(ExpiryAfter(now, s.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", StateClaims{}, fmt.Errorf("sign state: %w", err)
	}
	return signed, StateClaims{ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

func (s *StateSigner) Parse(state string) (StateClaims, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(state, &claims, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return StateClaims{}, fmt.Errorf("parse state: %w", err)
	}
	if claims.ID == "" {
		return StateClaims{}, errors.New("state has no id")
	}
	return StateClaims{ID: claims.ID, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Verify fails closed: any parse, signature or expiry problem yields false.
func (s *StateSigner) Verify(state string) bool {
	_, err := s.Parse(state)
	return err == nil
}
