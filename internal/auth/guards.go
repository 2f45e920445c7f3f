package auth

import (
	"context"

	"backoffice/internal/apperr"
	"backoffice/internal/rbac"
)

// Guard inspects the request identity and returns nil to let it through. A nil
// user means the request is anonymous.
type Guard func(user *User) error

var errUnauthenticated = apperr.Unauthorized(apperr.CodeUnauthenticated, "authentication required")

func RequireAuthentication(user *User) error {
	if user == nil {
		return errUnauthenticated
	}
	return nil
}

func RequirePermission(user *User, permission rbac.Permission) error {
	if err := RequireAuthentication(user); err != nil {
		return err
	}
	return rbac.RequirePermission(user.Permissions, permission)
}

func RequireAnyPermission(user *User, permissions ...rbac.Permission) error {
	if err := RequireAuthentication(user); err != nil {
		return err
	}
	return rbac.RequireAnyPermission(user.Permissions, permissions...)
}

func RequireRole(user *User, role rbac.Role) error {
	if err := RequireAuthentication(user); err != nil {
		return err
	}
	return rbac.RequireRole(user.Role, role)
}

// OwnershipOrStaff admits the owner of a resource and anyone whose grant
// covers the staff permission set.
func OwnershipOrStaff(user *User, ownerID string) error {
	if err := RequireAuthentication(user); err != nil {
		return err
	}
	if ownerID != "" && user.ID == ownerID {
		return nil
	}
	if rbac.IsStaffLevel(user.Permissions) {
		return nil
	}
	return apperr.Forbidden("resource belongs to another user", map[string]string{"owner": ownerID})
}

// Options declares what a protected operation needs. The zero value requires
// authentication only. Optional lets anonymous callers through when no other
// check is configured.
type Options struct {
	Permission rbac.Permission
	AnyOf      []rbac.Permission
	Role       rbac.Role
	Optional   bool
}

func (o Options) hasChecks() bool {
	return o.Permission != "" || len(o.AnyOf) > 0 || o.Role != ""
}

// Guards returns the checks to run in order. Authentication always comes
// first unless the operation is optional and has nothing else to check.
func (o Options) Guards() []Guard {
	if o.Optional && !o.hasChecks() {
		return nil
	}

	guards := []Guard{RequireAuthentication}
	if o.Role != "" {
		role := o.Role
		guards = append(guards, func(u *User) error { return RequireRole(u, role) })
	}
	if o.Permission != "" {
		perm := o.Permission
		guards = append(guards, func(u *User) error { return RequirePermission(u, perm) })
	}
	if len(o.AnyOf) > 0 {
		anyOf := append([]rbac.Permission(nil), o.AnyOf...)
		guards = append(guards, func(u *User) error { return RequireAnyPermission(u, anyOf...) })
	}
	return guards
}

// Check runs guards in order and stops at the first failure.
func Check(user *User, guards ...Guard) error {
	for _, guard := range guards {
		if err := guard(user); err != nil {
			return err
		}
	}
	return nil
}

// Handler is a protected operation. It only runs once every guard has passed.
type Handler[T any] func(ctx context.Context, user *User) (T, error)

// Authorize runs guards against the identity carried by ctx. When the request
// presented a credential that failed to resolve, that failure is reported
// instead of a generic unauthenticated error.
func Authorize(ctx context.Context, guards ...Guard) (*User, error) {
	user := FromContext(ctx)
	if err := Check(user, guards...); err != nil {
		if user == nil {
			if cause := ResolveErrorFromContext(ctx); cause != nil {
				return nil, cause
			}
		}
		return nil, err
	}
	return user, nil
}

// Wrap guards handler with opts. The identity is read from ctx.
func Wrap[T any](handler Handler[T], opts Options) func(ctx context.Context) (T, error) {
	guards := opts.Guards()
	return func(ctx context.Context) (T, error) {
		user, err := Authorize(ctx, guards...)
		if err != nil {
			var zero T
			return zero, err
		}
		return handler(ctx, user)
	}
}
