package auth

import (
	"context"
	"slices"
)

// Roles carried in the "role" claim.
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
	RoleStudent = "student"
	RoleParent  = "parent"
)

// KnownRole reports whether role is one of the roles above.
func KnownRole(role string) bool {
	switch role {
	case RoleAdmin, RoleTeacher, RoleStudent, RoleParent:
		return true
	}
	return false
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID string
	Role   string
}

// HasRole reports whether the principal holds any of roles.
func (p Principal) HasRole(roles ...string) bool {
	return slices.Contains(roles, p.Role)
}

type ctxKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal stored by the authentication middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
