package auth

import (
	"context"

	"backoffice/internal/apperr"
	"backoffice/internal/rbac"
	"backoffice/internal/security"
)

// User is the identity attached to a request. Permissions are always derived
// from Role, never taken from the token body.
type User struct {
	ID          string
	Email       string
	Role        rbac.Role
	Permissions rbac.PermissionSet
	SessionID   string
}

// UserFromClaims rebuilds the request identity from verified access claims.
func UserFromClaims(claims security.TokenClaims) *User {
	return &User{
		ID:          claims.SubjectID,
		Email:       claims.Email,
		Role:        claims.Role,
		Permissions: rbac.PermissionsFor(claims.Role),
		SessionID:   claims.SessionID,
	}
}

// Resolver turns an Authorization header into a User.
type Resolver struct {
	codec *security.Codec
}

func NewResolver(codec *security.Codec) *Resolver {
	return &Resolver{codec: codec}
}

// Resolve returns (nil, nil) for an absent header. A present but unusable
// header yields an Unauthorized error carrying the precise reason.
func (r *Resolver) Resolve(header string) (*User, error) {
	if header == "" {
		return nil, nil
	}
	token, err := security.ExtractTokenFromHeader(header)
	if err != nil {
		return nil, err
	}
	claims, err := r.codec.VerifyKind(token, security.TokenKindAccess)
	if err != nil {
		return nil, err
	}
	if claims.SubjectID == "" {
		return nil, apperr.Unauthorized(apperr.CodeMalformedToken, "token has no subject")
	}
	return UserFromClaims(claims), nil
}

type (
	ctxKey        struct{}
	resolveErrKey struct{}
)

func WithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, ctxKey{}, user)
}

// FromContext returns the authenticated user, or nil for anonymous requests.
func FromContext(ctx context.Context) *User {
	user, _ := ctx.Value(ctxKey{}).(*User)
	return user
}

// WithResolveError records why a presented credential was rejected so a later
// authentication guard can report the precise reason.
func WithResolveError(ctx context.Context, err error) context.Context {
	if err == nil {
		return ctx
	}
	return context.WithValue(ctx, resolveErrKey{}, err)
}

func ResolveErrorFromContext(ctx context.Context) error {
	err, _ := ctx.Value(resolveErrKey{}).(error)
	return err
}
