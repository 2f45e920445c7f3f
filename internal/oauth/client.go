package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"backoffice/internal/apperr"
	"backoffice/internal/config"
	"backoffice/internal/models"
	"backoffice/internal/rbac"
	"backoffice/internal/repository"
	"backoffice/internal/security"
)

const maxProviderBody = 1 << 20

// Sessions is the session store used by refresh rotation.
type Sessions interface {
	GetByID(ctx context.Context, id string) (models.Session, error)
	Rotate(ctx context.Context, id, currentTokenID, nextTokenID string, expiresAt time.Time) error
	Revoke(ctx context.Context, id string) error
}

// Users re-resolves the role of a refreshing user.
type Users interface {
	GetByID(ctx context.Context, id string) (models.User, error)
}

// ProviderTokens is the provider's grant as returned by the token endpoint.
type ProviderTokens struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	IDToken      string
	Scope        string
	ExpiresAt    time.Time
}

// Profile is the subset of the provider userinfo document used here. Both the
// legacy Google shape (id, verified_email) and the OIDC shape (sub,
// email_verified) are accepted.
type Profile struct {
	ID                  string `json:"id"`
	Subject             string `json:"sub"`
	Email               string `json:"email"`
	EmailVerified       bool   `json:"email_verified"`
	LegacyEmailVerified bool   `json:"verified_email"`
	Name                string `json:"name"`
	Picture             string `json:"picture"`
}

func (p Profile) AccountID() string {
	if p.Subject != "" {
		return p.Subject
	}
	return p.ID
}

func (p Profile) Verified() bool {
	return p.EmailVerified || p.LegacyEmailVerified
}

// Client drives the authorization-code flow against one external provider and
// issues local tokens for federated and local logins alike. Provider calls
// block on the network and carry no internal timeout; callers bound them with
// ctx.
type Client struct {
	cfg        config.OAuthConfig
	provider   *oauth2.Config
	states     *security.StateSigner
	issuer     *Issuer
	sessions   Sessions
	users      Users
	httpClient *http.Client
	log        zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func NewClient(
	cfg config.OAuthConfig,
	issuer *Issuer,
	states *security.StateSigner,
	sessions Sessions,
	users Users,
	log zerolog.Logger,
	opts ...Option,
) *Client {
	c := &Client{
		cfg:        cfg,
		states:     states,
		issuer:     issuer,
		sessions:   sessions,
		users:      users,
		httpClient: http.DefaultClient,
		log:        log.With().Str("component", "oauth").Str("provider", cfg.Provider).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if cfg.Enabled() {
		c.provider = &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
	} else {
		c.log.Warn().Msg("oauth client credentials missing, federation unavailable")
	}
	return c
}

// Enabled reports whether provider federation is configured.
func (c *Client) Enabled() bool {
	return c.provider != nil && c.states != nil
}

func (c *Client) Provider() string {
	return c.cfg.Provider
}

func (c *Client) unavailable() error {
	return apperr.New(apperr.KindExternalService, apperr.CodeFederationUnavailable, "oauth federation is not configured")
}

// BuildAuthorizationURL returns the provider authorize URL and the signed
// state embedded in it.
func (c *Client) BuildAuthorizationURL() (string, string, error) {
	if !c.Enabled() {
		return "", "", c.unavailable()
	}
	state, _, err := c.states.Issue()
	if err != nil {
		return "", "", apperr.Internal("issue oauth state", err)
	}
	authURL := c.provider.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	return authURL, state, nil
}

// VerifyState is the CSRF check on the redirect callback. It never errors.
func (c *Client) VerifyState(state string) bool {
	if c.states == nil {
		return false
	}
	return c.states.Verify(state)
}

// ParseState is VerifyState that also returns the state id for single-use
// bookkeeping.
func (c *Client) ParseState(state string) (security.StateClaims, bool) {
	if c.states == nil {
		return security.StateClaims{}, false
	}
	claims, err := c.states.Parse(state)
	if err != nil {
		return security.StateClaims{}, false
	}
	return claims, true
}

func (c *Client) ExchangeCodeForProviderTokens(ctx context.Context, code string) (ProviderTokens, error) {
	if !c.Enabled() {
		return ProviderTokens{}, c.unavailable()
	}
	if strings.TrimSpace(code) == "" {
		return ProviderTokens{}, apperr.Validation("authorization code is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.provider.Exchange(ctx, code)
	if err != nil {
		appErr := apperr.ExternalService("provider token exchange failed", err)
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			appErr = appErr.WithDetail("status", fmt.Sprint(retrieveErr.Response.StatusCode))
			if retrieveErr.ErrorCode != "" {
				appErr = appErr.WithDetail("provider_error", retrieveErr.ErrorCode)
			}
		}
		return ProviderTokens{}, appErr
	}

	out := ProviderTokens{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		out.IDToken = idToken
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		out.Scope = scope
	}
	return out, nil
}

func (c *Client) FetchProfile(ctx context.Context, providerAccessToken string) (Profile, error) {
	if !c.Enabled() {
		return Profile{}, c.unavailable()
	}
	if providerAccessToken == "" {
		return Profile{}, apperr.Validation("provider access token is required")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	hc := c.provider.Client(ctx, &oauth2.Token{AccessToken: providerAccessToken, TokenType: "Bearer"})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.UserInfoURL, nil)
	if err != nil {
		return Profile{}, apperr.Internal("build userinfo request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return Profile{}, apperr.ExternalService("provider profile request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderBody))
	if err != nil {
		return Profile{}, apperr.ExternalService("read provider profile", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Profile{}, apperr.ExternalService("provider profile request rejected", fmt.Errorf("userinfo status %d", resp.StatusCode)).
			WithDetail("status", fmt.Sprint(resp.StatusCode))
	}

	var profile Profile
	if err := json.Unmarshal(body, &profile); err != nil {
		return Profile{}, apperr.ExternalService("decode provider profile", err)
	}
	profile.Email = strings.ToLower(strings.TrimSpace(profile.Email))
	if profile.AccountID() == "" || profile.Email == "" {
		return Profile{}, apperr.ExternalService("provider profile is missing id or email", nil)
	}
	return profile, nil
}

// Federate runs the code exchange and uses the provider access token once to
// fetch the profile.
func (c *Client) Federate(ctx context.Context, code string) (Profile, ProviderTokens, error) {
	tokens, err := c.ExchangeCodeForProviderTokens(ctx, code)
	if err != nil {
		return Profile{}, ProviderTokens{}, err
	}
	profile, err := c.FetchProfile(ctx, tokens.AccessToken)
	if err != nil {
		return Profile{}, ProviderTokens{}, err
	}
	return profile, tokens, nil
}

// RevokeProviderTokens asks the provider to revoke token. Failures are logged
// and swallowed so local logout is never blocked.
func (c *Client) RevokeProviderTokens(ctx context.Context, token string) {
	if c.provider == nil || token == "" || c.cfg.RevokeURL == "" {
		return
	}

	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		c.log.Warn().Err(err).Msg("build revoke request failed")
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("provider token revocation failed")
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderBody))

	if resp.StatusCode >= 300 {
		c.log.Warn().Int("status", resp.StatusCode).Msg("provider token revocation rejected")
		return
	}
	c.log.Debug().Msg("provider token revoked")
}

// IssueLocalTokens mints a local pair for a federated or locally
// authenticated user.
func (c *Client) IssueLocalTokens(userID, email string, role rbac.Role, sessionID string) (TokenPair, error) {
	pair, err := c.issuer.IssuePair(userID, email, role, sessionID)
	if err != nil {
		return TokenPair{}, apperr.Internal("issue local tokens", err)
	}
	return pair, nil
}

// RefreshLocalTokens exchanges a refresh token for a new pair on the same
// session. Refresh tokens rotate: the session remembers the id of the only
// acceptable one, and presenting an older one revokes the session.
func (c *Client) RefreshLocalTokens(ctx context.Context, refreshToken string) (TokenPair, models.User, error) {
	claims, err := c.issuer.Codec().VerifyKind(refreshToken, security.TokenKindRefresh)
	if err != nil {
		return TokenPair{}, models.User{}, err
	}
	if claims.SessionID == "" || claims.ID == "" {
		return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeMalformedToken, "refresh token has no session")
	}

	session, err := c.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeSessionRevoked, "session not found")
		}
		return TokenPair{}, models.User{}, apperr.Internal("load session", err)
	}
	if session.UserID != claims.SubjectID {
		return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeSessionRevoked, "session does not belong to token subject")
	}
	now := c.issuer.Codec().Now()
	if session.RevokedAt != nil {
		return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeSessionRevoked, "session has been revoked")
	}
	if !session.Active(now) {
		return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeSessionExpired, "session has expired")
	}
	if session.RefreshTokenID != claims.ID {
		c.revokeOnReplay(ctx, session)
		return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeSessionRevoked, "refresh token reuse detected")
	}

	user, err := c.users.GetByID(ctx, claims.SubjectID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeSessionRevoked, "user no longer exists")
		}
		return TokenPair{}, models.User{}, apperr.Internal("load user", err)
	}
	if user.Status != models.UserStatusActive {
		return TokenPair{}, models.User{}, apperr.Forbidden("account is not active", map[string]string{"status": string(user.Status)})
	}

	pair, err := c.IssueLocalTokens(user.ID, user.Email, user.Role, session.ID)
	if err != nil {
		return TokenPair{}, models.User{}, err
	}

	if err := c.sessions.Rotate(ctx, session.ID, claims.ID, pair.RefreshTokenID, pair.RefreshExpiresAt); err != nil {
		if errors.Is(err, repository.ErrRefreshReplay) {
			c.revokeOnReplay(ctx, session)
			return TokenPair{}, models.User{}, apperr.Unauthorized(apperr.CodeSessionRevoked, "refresh token reuse detected")
		}
		return TokenPair{}, models.User{}, apperr.Internal("rotate session", err)
	}

	return pair, user, nil
}

func (c *Client) revokeOnReplay(ctx context.Context, session models.Session) {
	c.log.Warn().
		Str("session_id", session.ID).
		Str("user_id", session.UserID).
		Msg("refresh token replay detected, revoking session")
	if err := c.sessions.Revoke(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		c.log.Error().Err(err).Str("session_id", session.ID).Msg("revoke replayed session failed")
	}
}
