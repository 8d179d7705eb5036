package handler

import (
	"context"

	"github.com/shepherd-cms/identity/internal/repository"
)

// AuthUser is the authenticated caller derived from a validated access
// token. Role and Status are parsed into their closed sets at the boundary;
// a token carrying an unknown value never reaches a handler.
type AuthUser struct {
	ID     string
	Email  string
	Role   repository.Role
	Status repository.Status
}

type ctxKey int

const authUserKey ctxKey = iota

// ContextWithAuthUser attaches the caller to the request context.
func ContextWithAuthUser(ctx context.Context, user AuthUser) context.Context {
	return context.WithValue(ctx, authUserKey, user)
}

// AuthUserFromContext extracts the caller, if any.
func AuthUserFromContext(ctx context.Context) (AuthUser, bool) {
	user, ok := ctx.Value(authUserKey).(AuthUser)
	return user, ok
}
