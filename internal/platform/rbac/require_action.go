// Package rbac holds the per-handler role checks layered on top of the session gate.
package rbac

import (
	"context"

	identitydomain "coachhub/internal/identity/domain"
	policydomain "coachhub/internal/policy/domain"
	"coachhub/internal/server/middleware"
)

// Authorizer decides whether an identity may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, ident *identitydomain.Identity, action string) error
}

// RequireAction ensures the caller is authenticated and allowed to perform action.
// Returns the caller on success; returns ErrUnauthenticated or ErrUnauthorized on failure.
func RequireAction(ctx context.Context, authz Authorizer, action string) (*identitydomain.Identity, error) {
	ident, ok := middleware.IdentityFromContext(ctx)
	if !ok {
		return nil, policydomain.ErrUnauthenticated
	}
	if err := authz.Authorize(ctx, ident, action); err != nil {
		return nil, err
	}
	return ident, nil
}
