package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"backoffice/internal/apperr"
	"backoffice/internal/auth"
	"backoffice/internal/ids"
	"backoffice/internal/models"
	"backoffice/internal/rbac"
	"backoffice/internal/repository"
)

// UserService is the user directory as seen by administrators. Callers are
// expected to have passed the route guards already; the checks here only
// protect against self-lockout.
type UserService struct {
	users    UserStore
	sessions SessionStore
	log      zerolog.Logger
}

func NewUserService(users UserStore, sessions SessionStore, log zerolog.Logger) *UserService {
	return &UserService{users: users, sessions: sessions, log: log.With().Str("component", "users").Logger()}
}

func (s *UserService) Get(ctx context.Context, id string) (models.User, error) {
	if !ids.Valid(id) {
		return models.User{}, apperr.NotFound("user not found")
	}
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return models.User{}, apperr.NotFound("user not found")
		}
		return models.User{}, apperr.Internal("load user", err)
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	users, err := s.users.List(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Internal("list users", err)
	}
	return users, nil
}

// ChangeRole takes effect on the user's next refresh; outstanding access
// tokens keep the old role until they expire.
func (s *UserService) ChangeRole(ctx context.Context, actor *auth.User, id string, role string) (models.User, error) {
	parsed, err := rbac.ParseRole(role)
	if err != nil {
		return models.User{}, apperr.Validation("unknown role").WithDetail("role", role)
	}
	if actor != nil && actor.ID == id && parsed != actor.Role {
		return models.User{}, apperr.Forbidden("cannot change your own role", nil)
	}
	if err := s.users.UpdateRole(ctx, id, parsed); err != nil {
		return models.User{}, s.mapUpdateErr(err, "update role")
	}
	s.log.Info().Str("user_id", id).Str("role", string(parsed)).Str("actor", actorID(actor)).Msg("role changed")
	return s.Get(ctx, id)
}

// ChangeStatus suspending a user also revokes all of their sessions.
func (s *UserService) ChangeStatus(ctx context.Context, actor *auth.User, id string, status string) (models.User, error) {
	parsed := models.UserStatus(status)
	if !parsed.Valid() {
		return models.User{}, apperr.Validation("unknown status").WithDetail("status", status)
	}
	if actor != nil && actor.ID == id && parsed != models.UserStatusActive {
		return models.User{}, apperr.Forbidden("cannot deactivate yourself", nil)
	}
	if err := s.users.UpdateStatus(ctx, id, parsed); err != nil {
		return models.User{}, s.mapUpdateErr(err, "update status")
	}
	if parsed != models.UserStatusActive {
		if err := s.sessions.RevokeAllForUser(ctx, id); err != nil {
			return models.User{}, apperr.Internal("revoke sessions", err)
		}
	}
	s.log.Info().Str("user_id", id).Str("status", status).Str("actor", actorID(actor)).Msg("status changed")
	return s.Get(ctx, id)
}

func (s *UserService) mapUpdateErr(err error, op string) error {
	if errors.Is(err, repository.ErrUserNotFound) {
		return apperr.NotFound("user not found")
	}
	return apperr.Internal(op, err)
}

func actorID(actor *auth.User) string {
	if actor == nil {
		return ""
	}
	return actor.ID
}
