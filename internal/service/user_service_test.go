package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/internal/apperr"
	"backoffice/internal/models"
	"backoffice/internal/rbac"
)

func TestUserServiceGetAndList(t *testing.T) {
	h := newHarness(t, 0)
	users := NewUserService(h.users, h.sessions, zerolog.Nop())
	ada := h.register(t, "ada@example.com")
	h.register(t, "bob@example.com")

	got, err := users.Get(context.Background(), ada.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", got.Email)

	_, err = users.Get(context.Background(), "not-an-id")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	page, err := users.List(context.Background(), 0, -5)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	page, err = users.List(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "bob@example.com", page[0].Email)
}

func TestChangeRole(t *testing.T) {
	h := newHarness(t, 0)
	users := NewUserService(h.users, h.sessions, zerolog.Nop())
	admin := h.register(t, "ada@example.com")
	require.NoError(t, h.users.UpdateRole(context.Background(), admin.User.ID, rbac.RoleAdmin))
	actor := h.authUser(t, admin)
	actor.Role = rbac.RoleAdmin
	bob := h.register(t, "bob@example.com")

	updated, err := users.ChangeRole(context.Background(), actor, bob.User.ID, "staff")
	require.NoError(t, err)
	assert.Equal(t, rbac.RoleStaff, updated.Role)

	_, err = users.ChangeRole(context.Background(), actor, bob.User.ID, "superuser")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = users.ChangeRole(context.Background(), actor, actor.ID, "customer")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	_, err = users.ChangeRole(context.Background(), actor, "2Dz4rSgmPDmYCI3DuA6YDxaVlQF", "staff")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestSuspendRevokesSessions(t *testing.T) {
	h := newHarness(t, 0)
	users := NewUserService(h.users, h.sessions, zerolog.Nop())
	admin := h.register(t, "ada@example.com")
	bob := h.register(t, "bob@example.com")

	_, err := users.ChangeStatus(context.Background(), h.authUser(t, admin), bob.User.ID, "archived")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = users.ChangeStatus(context.Background(), h.authUser(t, admin), admin.User.ID, "suspended")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	updated, err := users.ChangeStatus(context.Background(), h.authUser(t, admin), bob.User.ID, "suspended")
	require.NoError(t, err)
	assert.Equal(t, models.UserStatusSuspended, updated.Status)

	active, err := h.sessions.ListActiveByUser(context.Background(), bob.User.ID)
	require.NoError(t, err)
	assert.Empty(t, active)

	_, err = h.svc.Refresh(context.Background(), bob.Tokens.RefreshToken)
	assert.Equal(t, apperr.CodeSessionRevoked, apperr.CodeOf(err))

	_, err = h.svc.Login(context.Background(), LoginInput{Email: "bob@example.com", Password: "correct horse"})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}
