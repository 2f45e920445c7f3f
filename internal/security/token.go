package security

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"backoffice/internal/apperr"
	"backoffice/internal/ids"
	"backoffice/internal/rbac"
)

type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// TokenClaims is the identity carried by a signed credential. A signed token is
// never edited; a change always means signing a new one.
type TokenClaims struct {
	ID          string
	SubjectID   string
	Email       string
	Role        rbac.Role
	Permissions []rbac.Permission
	SessionID   string
	Kind        TokenKind
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type wireClaims struct {
	UserID      string            `json:"userId"`
	Email       string            `json:"email"`
	Role        rbac.Role         `json:"role"`
	Permissions []rbac.Permission `json:"permissions"`
	SessionID   string            `json:"sessionId,omitempty"`
	Type        TokenKind         `json:"type"`
	jwt.RegisteredClaims
}

var signingMethod = jwt.SigningMethodHS512

var (
	errMalformed        = apperr.Unauthorized(apperr.CodeMalformedToken, "token is malformed")
	errInvalidSignature = apperr.Unauthorized(apperr.CodeInvalidSignature, "token signature is invalid")
	errExpired          = apperr.Unauthorized(apperr.CodeTokenExpired, "token has expired")
)

// Codec signs and verifies credential tokens with a process-wide secret. It is
// safe for concurrent use.
type Codec struct {
	secret []byte
	now    func() time.Time
}

type CodecOption func(*Codec)

func WithClock(now func() time.Time) CodecOption {
	return func(c *Codec) {
		if now != nil {
			c.now = now
		}
	}
}

func NewCodec(secret string, opts ...CodecOption) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token signing secret is required")
	}
	c := &Codec{
		secret: []byte(secret),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Codec) Now() time.Time {
	return c.now()
}

// ExpiryAfter returns now+ttl rounded up to the next whole second, the
// precision of the exp claim. A token is valid through that instant.
func ExpiryAfter(now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	whole := exp.Truncate(time.Second)
	if whole.Before(exp) {
		whole = whole.Add(time.Second)
	}
	return whole
}

func (c *Codec) Sign(claims TokenClaims, ttl time.Duration) (string, error) {
	token, _, err := c.SignExpiring(claims, ttl)
	return token, err
}

// SignExpiring is Sign that also reports the exp written into the token.
func (c *Codec) SignExpiring(claims TokenClaims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	if claims.Kind == "" {
		claims.Kind = TokenKindAccess
	}
	if claims.ID == "" {
		claims.ID = ids.New()
	}

	now := c.now()
	exp := ExpiryAfter(now, ttl)
	wire := wireClaims{
		UserID:      claims.SubjectID,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: claims.Permissions,
		SessionID:   claims.SessionID,
		Type:        claims.Kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   claims.SubjectID,
			ID:        claims.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(signingMethod, wire).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign jwt: %w", err)
	}
	return signed, exp, nil
}

// Verify checks structure, then signature, then expiry. The signature is
// recomputed over the raw header and payload text before anything is decoded,
// so any edit to either segment reports invalid_signature.
func (c *Codec) Verify(tokenStr string) (TokenClaims, error) {
	parts := strings.Split(tokenStr, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return TokenClaims{}, errMalformed
	}

	sig, err := base64.RawURLEncoding.Strict().DecodeString(parts[2])
	if err != nil {
		return TokenClaims{}, errInvalidSignature
	}
	if err := signingMethod.Verify(parts[0]+"."+parts[1], sig, c.secret); err != nil {
		return TokenClaims{}, errInvalidSignature
	}

	// Expiry is checked below against the codec clock, inclusive of exp.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	var wire wireClaims
	_, err = parser.ParseWithClaims(tokenStr, &wire, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return TokenClaims{}, errInvalidSignature
	default:
		return TokenClaims{}, apperr.Wrap(apperr.KindUnauthorized, apperr.CodeMalformedToken, "token is malformed", err)
	}

	claims, err := fromWire(wire)
	if err != nil {
		return TokenClaims{}, err
	}
	if c.now().After(claims.ExpiresAt) {
		return TokenClaims{}, errExpired
	}
	return claims, nil
}

// VerifyKind is Verify plus a check that the token is of the expected kind.
func (c *Codec) VerifyKind(tokenStr string, kind TokenKind) (TokenClaims, error) {
	claims, err := c.Verify(tokenStr)
	if err != nil {
		return TokenClaims{}, err
	}
	if claims.Kind != kind {
		return TokenClaims{}, apperr.Unauthorized(apperr.CodeWrongTokenKind, "token kind "+string(claims.Kind)+" where "+string(kind)+" is required")
	}
	return claims, nil
}

func fromWire(w wireClaims) (TokenClaims, error) {
	subject := w.Subject
	if subject == "" {
		subject = w.UserID
	}
	if subject == "" || w.IssuedAt == nil || w.ExpiresAt == nil {
		return TokenClaims{}, errMalformed
	}
	switch w.Type {
	case TokenKindAccess, TokenKindRefresh:
	default:
		return TokenClaims{}, errMalformed
	}
	if !w.Role.Valid() {
		return TokenClaims{}, errMalformed
	}

	return TokenClaims{
		ID:          w.ID,
		SubjectID:   subject,
		Email:       w.Email,
		Role:        w.Role,
		Permissions: w.Permissions,
		SessionID:   w.SessionID,
		Kind:        w.Type,
		IssuedAt:    w.IssuedAt.Time,
		ExpiresAt:   w.ExpiresAt.Time,
	}, nil
}

// ExtractTokenFromHeader accepts exactly "Bearer <token>".
func ExtractTokenFromHeader(header string) (string, error) {
	if header == "" {
		return "", apperr.Unauthorized(apperr.CodeMissingHeader, "authorization header is missing")
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", apperr.Unauthorized(apperr.CodeMalformedHeader, "authorization header must be \"Bearer <token>\"")
	}
	return parts[1], nil
}
