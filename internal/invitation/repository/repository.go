package repository

import (
	"context"
	"time"

	identityrepo "coachhub/internal/identity/repository"
	"coachhub/internal/invitation/domain"
)

// Repository defines persistence for invitations. Getters return (nil, nil) when no row matches.
type Repository interface {
	Create(ctx context.Context, inv *domain.Invitation) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error)
	ListByIssuer(ctx context.Context, issuerID string) ([]*domain.Invitation, error)
	// MarkUsed flips used to true only if it is still false and the invitation has not expired at
	// now. It reports whether this call performed the flip.
	MarkUsed(ctx context.Context, id, redeemedBy string, now time.Time) (bool, error)
}

// TxRunner runs fn with repositories bound to one transaction. fn returning an error rolls back
// every write it made; the error is returned unchanged.
type TxRunner interface {
	InTx(ctx context.Context, fn func(identities identityrepo.Repository, invitations Repository) error) error
}
