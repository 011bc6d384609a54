package repository

import (
	"context"
	"errors"

	"coachhub/internal/identity/domain"
)

// ErrEmailTaken is returned by Create when another identity already uses the email.
var ErrEmailTaken = errors.New("email already registered")

// Repository defines persistence for identities. Getters return (nil, nil) when no row matches.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
	GetByEmail(ctx context.Context, email string) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
}
