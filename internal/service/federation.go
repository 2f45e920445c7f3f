package service

import (
	"context"
	"errors"
	"time"

	"backoffice/internal/apperr"
	"backoffice/internal/ids"
	"backoffice/internal/models"
	"backoffice/internal/oauth"
	"backoffice/internal/repository"
)

var errInvalidState = apperr.New(apperr.KindForbidden, apperr.CodeInvalidState, "oauth state is invalid or expired")

// StartFederation returns the provider URL the browser should be sent to.
func (s *AuthService) StartFederation() (string, error) {
	authURL, _, err := s.federation.BuildAuthorizationURL()
	if err != nil {
		return "", err
	}
	return authURL, nil
}

type FederationInput struct {
	State  string
	Code   string
	Client ClientInfo
}

// CompleteFederation handles the provider callback: it checks the state, trades
// the code for the provider profile and starts a local session. Accounts are
// linked by verified email; unknown emails get a new account with the default
// role.
func (s *AuthService) CompleteFederation(ctx context.Context, input FederationInput) (AuthResult, error) {
	if !s.federation.Enabled() {
		return AuthResult{}, apperr.New(apperr.KindExternalService, apperr.CodeFederationUnavailable, "oauth federation is not configured")
	}

	claims, ok := s.federation.ParseState(input.State)
	if !ok {
		return AuthResult{}, errInvalidState
	}
	if s.states != nil {
		fresh, err := s.states.Claim(ctx, claims.ID, time.Until(claims.ExpiresAt))
		if err != nil {
			return AuthResult{}, apperr.Internal("claim oauth state", err)
		}
		if !fresh {
			return AuthResult{}, errInvalidState.WithDetail("reason", "reused")
		}
	}
	if input.Code == "" {
		return AuthResult{}, apperr.Validation("authorization code is required").WithDetail("code", "required")
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	profile, grant, err := s.federation.Federate(callCtx, input.Code)
	cancel()
	if err != nil {
		return AuthResult{}, err
	}
	if !profile.Verified() {
		return AuthResult{}, apperr.Forbidden("provider email is not verified", map[string]string{"email": profile.Email})
	}

	user, err := s.findOrCreateFederatedUser(ctx, profile)
	if err != nil {
		return AuthResult{}, err
	}
	if user.Status != models.UserStatusActive {
		return AuthResult{}, apperr.Forbidden("account is not active", map[string]string{"status": string(user.Status)})
	}

	provider := s.federation.Provider()
	if err := s.credentials.Upsert(ctx, models.OAuthCredential{
		Provider:          provider,
		ProviderAccountID: profile.AccountID(),
		UserID:            user.ID,
		AccessToken:       grant.AccessToken,
		RefreshToken:      grant.RefreshToken,
		Scope:             grant.Scope,
		ExpiresAt:         grant.ExpiresAt,
	}); err != nil {
		return AuthResult{}, apperr.Internal("store provider credential", err)
	}

	return s.createSession(ctx, user, provider, input.Client)
}

func (s *AuthService) findOrCreateFederatedUser(ctx context.Context, profile oauth.Profile) (models.User, error) {
	user, err := s.users.FindByEmail(ctx, profile.Email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return models.User{}, apperr.Internal("load user", err)
	}

	user = models.User{
		ID:          ids.New(),
		Email:       profile.Email,
		DisplayName: profile.Name,
		Role:        s.opts.DefaultRole,
		Status:      models.UserStatusActive,
	}
	if profile.Picture != "" {
		picture := profile.Picture
		user.AvatarURL = &picture
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			// lost a race with a concurrent first login
			existing, err := s.users.FindByEmail(ctx, profile.Email)
			if err != nil {
				return models.User{}, apperr.Internal("load user", err)
			}
			return existing, nil
		}
		return models.User{}, apperr.Internal("create user", err)
	}
	s.log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("federated account created")
	return user, nil
}
