package model

import (
	"context"
	"errors"
	"fmt"
)

// RoleAdmin may act on executions owned by other users.
const RoleAdmin = "admin"

// AuthContext carries the verified caller identity for the lifetime of an
// engine operation. Authentication happens upstream; the engine only consumes
// the result. It is immutable after construction and safe for concurrent
// reads.
type AuthContext struct {
	UserID        string
	Email         string
	Roles         []string
	CorrelationID string
	TraceID       string
}

// Validate checks that the mandatory identity fields are present.
func (a *AuthContext) Validate() error {
	var errs []error
	if a.UserID == "" {
		errs = append(errs, fmt.Errorf("UserID is required"))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// HasRole returns true if the AuthContext contains the given role.
func (a *AuthContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the caller holds the admin role.
func (a *AuthContext) IsAdmin() bool {
	return a.HasRole(RoleAdmin)
}

// CanActOn reports whether the caller may mutate or inspect an execution
// owned by ownerID. Owners and admins qualify.
func (a *AuthContext) CanActOn(ownerID string) bool {
	return a.UserID == ownerID || a.IsAdmin()
}

type contextKey struct{}

// WithAuthContext attaches an AuthContext to the given context.
func WithAuthContext(ctx context.Context, actx *AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, actx)
}

// AuthContextFrom extracts the AuthContext from the context, or returns nil
// if not present.
func AuthContextFrom(ctx context.Context) *AuthContext {
	actx, _ := ctx.Value(contextKey{}).(*AuthContext)
	return actx
}

// MustAuthContext extracts the AuthContext from the context, panicking if it
// is not present. Safe to call in handlers guaranteed to run behind the
// authentication middleware.
func MustAuthContext(ctx context.Context) *AuthContext {
	actx := AuthContextFrom(ctx)
	if actx == nil {
		panic("model: AuthContext not found in context")
	}
	return actx
}
