package repository

import (
	"context"
	"database/sql"
	"errors"

	"coachhub/internal/db"
	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/session/domain"
)

type PostgresRepository struct {
	db db.DBTX
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists the session. ident is only used for its ID; Postgres joins identities on read.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session, ident *identitydomain.Identity) error {
	identityID := s.IdentityID
	if identityID == "" && ident != nil {
		identityID = ident.ID
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (token_hash, identity_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		s.TokenHash, identityID, s.CreatedAt, s.ExpiresAt,
	)
	return err
}

// Lookup returns the session and identity for tokenHash with a single JOIN, or nils if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) Lookup(ctx context.Context, tokenHash string) (*domain.Session, *identitydomain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT s.token_hash, s.identity_id, s.created_at, s.expires_at,
		       i.id, i.email, i.name, i.role, i.email_verified, i.created_at
		FROM sessions s
		JOIN identities i ON i.id = s.identity_id
		WHERE s.token_hash = $1`, tokenHash)

	var (
		s    domain.Session
		i    identitydomain.Identity
		role string
	)
	err := row.Scan(&s.TokenHash, &s.IdentityID, &s.CreatedAt, &s.ExpiresAt,
		&i.ID, &i.Email, &i.Name, &role, &i.EmailVerified, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	i.Role = identitydomain.ParseRole(role)
	return &s, &i, nil
}

// Delete removes the session with the given token hash.
func (r *PostgresRepository) Delete(ctx context.Context, tokenHash string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE token_hash = $1`, tokenHash)
	return err
}
