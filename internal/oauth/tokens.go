package oauth

import (
	"errors"
	"fmt"
	"time"

	"backoffice/internal/ids"
	"backoffice/internal/rbac"
	"backoffice/internal/security"
)

// TokenPair is a freshly minted access and refresh token sharing one session.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	RefreshTokenID   string
	SessionID        string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Issuer mints local token pairs. It does not look at provider token
// lifetimes.
type Issuer struct {
	codec      *security.Codec
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewIssuer(codec *security.Codec, accessTTL, refreshTTL time.Duration) (*Issuer, error) {
	if codec == nil {
		return nil, errors.New("token codec is required")
	}
	if accessTTL <= 0 || refreshTTL <= accessTTL {
		return nil, fmt.Errorf("access ttl %s must be positive and shorter than refresh ttl %s", accessTTL, refreshTTL)
	}
	return &Issuer{codec: codec, accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

func (i *Issuer) Codec() *security.Codec {
	return i.codec
}

func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// IssuePair signs an access and a refresh token for the same session. An
// empty sessionID starts a new session.
func (i *Issuer) IssuePair(userID, email string, role rbac.Role, sessionID string) (TokenPair, error) {
	if userID == "" {
		return TokenPair{}, errors.New("user id is required")
	}
	if !role.Valid() {
		return TokenPair{}, fmt.Errorf("unknown role %q", role)
	}
	if sessionID == "" {
		sessionID = ids.New()
	}

	base := security.TokenClaims{
		SubjectID:   userID,
		Email:       email,
		Role:        role,
		Permissions: rbac.PermissionsFor(role).Slice(),
		SessionID:   sessionID,
	}

	access := base
	access.Kind = security.TokenKindAccess
	accessToken, accessExp, err := i.codec.SignExpiring(access, i.accessTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}

	refresh := base
	refresh.Kind = security.TokenKindRefresh
	refresh.ID = ids.New()
	refreshToken, refreshExp, err := i.codec.SignExpiring(refresh, i.refreshTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}

	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		RefreshTokenID:   refresh.ID,
		SessionID:        sessionID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}
