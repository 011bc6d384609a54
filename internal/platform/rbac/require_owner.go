package rbac

import (
	"context"

	identitydomain "coachhub/internal/identity/domain"
	policydomain "coachhub/internal/policy/domain"
)

// RequireOwner ensures the caller may perform action and is the identity ownerID names. Used by
// the role-scoped dashboards, where the path carries the owner's id.
func RequireOwner(ctx context.Context, authz Authorizer, action, ownerID string) (*identitydomain.Identity, error) {
	ident, err := RequireAction(ctx, authz, action)
	if err != nil {
		return nil, err
	}
	if ownerID == "" || ident.ID != ownerID {
		return nil, policydomain.ErrUnauthorized
	}
	return ident, nil
}
