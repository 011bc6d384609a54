package repository

import (
	"context"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	// Create stores s. ident is the session's owner; stores that cache the identity alongside
	// the session snapshot it here.
	Create(ctx context.Context, s *domain.Session, ident *identitydomain.Identity) error
	// Lookup returns the session and its identity for tokenHash in one round trip.
	// Returns (nil, nil, nil) when no session matches. Expiry is left to the caller.
	Lookup(ctx context.Context, tokenHash string) (*domain.Session, *identitydomain.Identity, error)
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, tokenHash string) error
}
