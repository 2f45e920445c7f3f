package rbac

import (
	"fmt"
	"sort"
	"strings"

	"backoffice/internal/apperr"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

func (r Role) Valid() bool {
	_, ok := policy[r]
	return ok
}

func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

type Permission string

const (
	CreateProduct Permission = "create:product"
	ReadProduct   Permission = "read:product"
	UpdateProduct Permission = "update:product"
	DeleteProduct Permission = "delete:product"

	CreateOrder Permission = "create:order"
	ReadOrder   Permission = "read:order"
	UpdateOrder Permission = "update:order"
	DeleteOrder Permission = "delete:order"

	ReadUsers   Permission = "read:users"
	ManageUsers Permission = "manage:users"

	ReadAnalytics Permission = "read:analytics"
	ManageSystem  Permission = "manage:system"
)

var universe = []Permission{
	CreateProduct, ReadProduct, UpdateProduct, DeleteProduct,
	CreateOrder, ReadOrder, UpdateOrder, DeleteOrder,
	ReadUsers, ManageUsers,
	ReadAnalytics, ManageSystem,
}

func (p Permission) Valid() bool {
	for _, known := range universe {
		if p == known {
			return true
		}
	}
	return false
}

func ParsePermission(s string) (Permission, error) {
	p := Permission(strings.TrimSpace(s))
	if !p.Valid() {
		return "", fmt.Errorf("unknown permission %q", s)
	}
	return p, nil
}

// PermissionSet is treated as immutable once built. Functions in this package
// hand out copies so callers cannot edit the policy table.
type PermissionSet map[Permission]struct{}

func NewPermissionSet(perms ...Permission) PermissionSet {
	set := make(PermissionSet, len(perms))
	for _, p := range perms {
		set[p] = struct{}{}
	}
	return set
}

func (s PermissionSet) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Slice returns the permissions sorted, the form stored in token claims.
func (s PermissionSet) Slice() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s PermissionSet) Strings() []string {
	perms := s.Slice()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

func (s PermissionSet) clone() PermissionSet {
	cp := make(PermissionSet, len(s))
	for p := range s {
		cp[p] = struct{}{}
	}
	return cp
}

var policy = map[Role]PermissionSet{
	RoleAdmin: NewPermissionSet(universe...),
	RoleStaff: NewPermissionSet(
		CreateProduct, ReadProduct, UpdateProduct,
		ReadOrder, UpdateOrder,
		ReadUsers,
		ReadAnalytics,
	),
	RoleCustomer: NewPermissionSet(
		ReadProduct,
		CreateOrder, ReadOrder,
	),
}

// All returns the full permission universe in declaration order.
func All() []Permission {
	return append([]Permission(nil), universe...)
}

// Roles returns every known role, most privileged first.
func Roles() []Role {
	return []Role{RoleAdmin, RoleStaff, RoleCustomer}
}

// PermissionsFor returns the permissions granted to role. Unknown roles get an
// empty set.
func PermissionsFor(role Role) PermissionSet {
	set, ok := policy[role]
	if !ok {
		return PermissionSet{}
	}
	return set.clone()
}

func HasPermission(granted PermissionSet, required Permission) bool {
	return granted.Has(required)
}

func HasAnyPermission(granted PermissionSet, required ...Permission) bool {
	for _, p := range required {
		if granted.Has(p) {
			return true
		}
	}
	return false
}

// HasRole reports whether actual satisfies required. Admin satisfies every role.
func HasRole(actual, required Role) bool {
	if actual == RoleAdmin {
		return actual.Valid()
	}
	return actual == required && actual.Valid()
}

// IsStaffLevel reports whether granted covers everything the staff role holds.
func IsStaffLevel(granted PermissionSet) bool {
	for p := range policy[RoleStaff] {
		if !granted.Has(p) {
			return false
		}
	}
	return true
}

func RequirePermission(granted PermissionSet, required Permission) error {
	if HasPermission(granted, required) {
		return nil
	}
	return apperr.Forbidden("missing required permission", map[string]string{
		"permission": string(required),
	})
}

func RequireAnyPermission(granted PermissionSet, required ...Permission) error {
	if HasAnyPermission(granted, required...) {
		return nil
	}
	names := make([]string, len(required))
	for i, p := range required {
		names[i] = string(p)
	}
	return apperr.Forbidden("missing any of the required permissions", map[string]string{
		"permissions": strings.Join(names, ","),
	})
}

func RequireRole(actual, required Role) error {
	if HasRole(actual, required) {
		return nil
	}
	return apperr.Forbidden("missing required role", map[string]string{
		"role":   string(required),
		"actual": string(actual),
	})
}
