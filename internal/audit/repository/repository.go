package repository

import (
	"context"

	"coachhub/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*domain.AuditLog, error)
}
