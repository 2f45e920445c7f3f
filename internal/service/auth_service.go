package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"backoffice/internal/apperr"
	"backoffice/internal/auth"
	"backoffice/internal/ids"
	"backoffice/internal/models"
	"backoffice/internal/oauth"
	"backoffice/internal/rbac"
	"backoffice/internal/repository"
	"backoffice/internal/security"
)

const providerLocal = "local"

var errInvalidCredentials = apperr.Unauthorized(apperr.CodeInvalidCredentials, "invalid email or password")

type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id string) (models.User, error)
	List(ctx context.Context, limit, offset int) ([]models.User, error)
	UpdateStatus(ctx context.Context, id string, status models.UserStatus) error
	UpdateRole(ctx context.Context, id string, role rbac.Role) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
	TouchLastLogin(ctx context.Context, id string) error
}

type SessionStore interface {
	Create(ctx context.Context, session models.Session) error
	GetByID(ctx context.Context, id string) (models.Session, error)
	Revoke(ctx context.Context, id string) error
	RevokeAllForUser(ctx context.Context, userID string) error
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	RevokeOldest(ctx context.Context, userID string, keepLatest int) error
	ListActiveByUser(ctx context.Context, userID string) ([]models.Session, error)
}

type CredentialStore interface {
	Upsert(ctx context.Context, cred models.OAuthCredential) error
}

// Federation is the token and provider side of authentication.
type Federation interface {
	Enabled() bool
	Provider() string
	BuildAuthorizationURL() (string, string, error)
	ParseState(state string) (security.StateClaims, bool)
	Federate(ctx context.Context, code string) (oauth.Profile, oauth.ProviderTokens, error)
	IssueLocalTokens(userID, email string, role rbac.Role, sessionID string) (oauth.TokenPair, error)
	RefreshLocalTokens(ctx context.Context, refreshToken string) (oauth.TokenPair, models.User, error)
}

// StateClaimer marks an OAuth state as consumed.
type StateClaimer interface {
	Claim(ctx context.Context, id string, ttl time.Duration) (bool, error)
}

type RevocationQueue interface {
	EnqueueRevocation(ctx context.Context, provider, userID, sessionID string) error
}

type AuthOptions struct {
	MaxSessions    int
	DefaultRole    rbac.Role
	RequestTimeout time.Duration
}

type AuthService struct {
	users       UserStore
	sessions    SessionStore
	credentials CredentialStore
	federation  Federation
	states      StateClaimer
	revocations RevocationQueue
	opts        AuthOptions
	validate    *validator.Validate
	log         zerolog.Logger
}

func NewAuthService(
	users UserStore,
	sessions SessionStore,
	credentials CredentialStore,
	federation Federation,
	states StateClaimer,
	revocations RevocationQueue,
	opts AuthOptions,
	log zerolog.Logger,
) *AuthService {
	if !opts.DefaultRole.Valid() {
		opts.DefaultRole = rbac.RoleCustomer
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	return &AuthService{
		users:       users,
		sessions:    sessions,
		credentials: credentials,
		federation:  federation,
		states:      states,
		revocations: revocations,
		opts:        opts,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		log:         log.With().Str("component", "auth").Logger(),
	}
}

type AuthResult struct {
	Tokens oauth.TokenPair
	User   models.User
}

type ClientInfo struct {
	IPAddress string
	UserAgent string
}

type RegisterInput struct {
	Email       string `validate:"required,email,max=254"`
	Password    string `validate:"required,min=8,max=128"`
	DisplayName string `validate:"max=120"`
	Client      ClientInfo
}

// Register creates a customer account and signs it in.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (AuthResult, error) {
	input.Email = normalizeEmail(input.Email)
	input.DisplayName = strings.TrimSpace(input.DisplayName)
	if err := s.check(input); err != nil {
		return AuthResult{}, err
	}

	passwordHash, err := security.HashPassword(input.Password)
	if err != nil {
		return AuthResult{}, apperr.Internal("hash password", err)
	}

	user := models.User{
		ID:           ids.New(),
		Email:        input.Email,
		PasswordHash: passwordHash,
		DisplayName:  input.DisplayName,
		Role:         rbac.RoleCustomer,
		Status:       models.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return AuthResult{}, apperr.Conflict("email already registered")
		}
		return AuthResult{}, apperr.Internal("create user", err)
	}

	return s.createSession(ctx, user, providerLocal, input.Client)
}

type LoginInput struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
	Client   ClientInfo
}

func (s *AuthService) Login(ctx context.Context, input LoginInput) (AuthResult, error) {
	input.Email = normalizeEmail(input.Email)
	if err := s.check(input); err != nil {
		return AuthResult{}, err
	}

	user, err := s.users.FindByEmail(ctx, input.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return AuthResult{}, errInvalidCredentials
		}
		return AuthResult{}, apperr.Internal("load user", err)
	}

	ok, err := security.VerifyPassword(input.Password, user.PasswordHash)
	if err != nil || !ok {
		return AuthResult{}, errInvalidCredentials
	}
	if user.Status != models.UserStatusActive {
		return AuthResult{}, apperr.Forbidden("account is not active", map[string]string{"status": string(user.Status)})
	}

	if security.NeedsRehash(user.PasswordHash, security.DefaultArgon2Params) {
		if hash, err := security.HashPassword(input.Password); err == nil {
			if err := s.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
				s.log.Warn().Err(err).Str("user_id", user.ID).Msg("password rehash failed")
			}
		}
	}

	return s.createSession(ctx, user, providerLocal, input.Client)
}

// Refresh trades a refresh token for a new pair on the same session.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (AuthResult, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return AuthResult{}, apperr.Validation("refresh token is required").WithDetail("refreshToken", "required")
	}
	pair, user, err := s.federation.RefreshLocalTokens(ctx, refreshToken)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{Tokens: pair, User: user}, nil
}

// Logout ends the caller's session. The access token stays valid until it
// expires. Provider grants of federated sessions are revoked in the
// background.
func (s *AuthService) Logout(ctx context.Context, user *auth.User) error {
	if err := auth.RequireAuthentication(user); err != nil {
		return err
	}
	if user.SessionID == "" {
		return nil
	}

	session, err := s.sessions.GetByID(ctx, user.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil
		}
		return apperr.Internal("load session", err)
	}
	if session.UserID != user.ID {
		return nil
	}

	if err := s.sessions.Revoke(ctx, session.ID); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		return apperr.Internal("revoke session", err)
	}
	s.enqueueProviderRevocation(ctx, session)
	return nil
}

func (s *AuthService) enqueueProviderRevocation(ctx context.Context, session models.Session) {
	if session.Provider == providerLocal || session.Provider == "" || s.revocations == nil {
		return
	}
	if err := s.revocations.EnqueueRevocation(ctx, session.Provider, session.UserID, session.ID); err != nil {
		s.log.Warn().Err(err).Str("session_id", session.ID).Msg("enqueue provider revocation failed")
	}
}

func (s *AuthService) ListSessions(ctx context.Context, user *auth.User) ([]models.Session, error) {
	if err := auth.RequireAuthentication(user); err != nil {
		return nil, err
	}
	sessions, err := s.sessions.ListActiveByUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal("list sessions", err)
	}
	return sessions, nil
}

// RevokeSession ends one of the caller's own sessions. Sessions of other users
// are reported as not found.
func (s *AuthService) RevokeSession(ctx context.Context, user *auth.User, sessionID string) error {
	if err := auth.RequireAuthentication(user); err != nil {
		return err
	}
	if !ids.Valid(sessionID) {
		return apperr.NotFound("session not found")
	}
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return apperr.NotFound("session not found")
		}
		return apperr.Internal("load session", err)
	}
	if session.UserID != user.ID || session.RevokedAt != nil {
		return apperr.NotFound("session not found")
	}
	if err := s.sessions.Revoke(ctx, session.ID); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return apperr.NotFound("session not found")
		}
		return apperr.Internal("revoke session", err)
	}
	s.enqueueProviderRevocation(ctx, session)
	return nil
}

func (s *AuthService) createSession(ctx context.Context, user models.User, provider string, client ClientInfo) (AuthResult, error) {
	pair, err := s.federation.IssueLocalTokens(user.ID, user.Email, user.Role, "")
	if err != nil {
		return AuthResult{}, err
	}

	session := models.Session{
		ID:             pair.SessionID,
		UserID:         user.ID,
		RefreshTokenID: pair.RefreshTokenID,
		Provider:       provider,
		IPAddress:      client.IPAddress,
		UserAgent:      client.UserAgent,
		ExpiresAt:      pair.RefreshExpiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return AuthResult{}, apperr.Internal("create session", err)
	}

	if err := s.enforceSessionLimit(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("enforce session limit failed")
	}
	if err := s.users.TouchLastLogin(ctx, user.ID); err != nil {
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("touch last login failed")
	}

	s.log.Info().
		Str("user_id", user.ID).
		Str("session_id", session.ID).
		Str("provider", provider).
		Msg("session started")

	return AuthResult{Tokens: pair, User: user}, nil
}

func (s *AuthService) enforceSessionLimit(ctx context.Context, userID string) error {
	if s.opts.MaxSessions <= 0 {
		return nil
	}
	count, err := s.sessions.CountActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	if count <= s.opts.MaxSessions {
		return nil
	}
	return s.sessions.RevokeOldest(ctx, userID, s.opts.MaxSessions)
}

func (s *AuthService) check(input any) error {
	err := s.validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperr.Validation("invalid input")
	}
	appErr := apperr.Validation("invalid input")
	for _, fe := range fieldErrs {
		appErr = appErr.WithDetail(lowerFirst(fe.Field()), fe.Tag())
	}
	return appErr
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
