package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"coachhub/internal/db"
	identityrepo "coachhub/internal/identity/repository"
	"coachhub/internal/invitation/domain"
)

const invitationColumns = `id, token_hash, issuer_id, intended_email, created_at, expires_at, used, used_at, redeemed_by`

type PostgresRepository struct {
	db db.DBTX
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository returns an invitation repository that uses the given db for persistence.
func NewPostgresRepository(conn db.DBTX) *PostgresRepository {
	return &PostgresRepository{db: conn}
}

// Create persists a new, unused invitation.
func (r *PostgresRepository) Create(ctx context.Context, inv *domain.Invitation) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO invitations (id, token_hash, issuer_id, intended_email, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		inv.ID, inv.TokenHash, inv.IssuerID, inv.IntendedEmail, inv.CreatedAt, inv.ExpiresAt,
	)
	return err
}

// GetByTokenHash returns the invitation for tokenHash, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.Invitation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+invitationColumns+` FROM invitations WHERE token_hash = $1`, tokenHash)
	inv, err := scanInvitation(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return inv, err
}

// ListByIssuer returns the issuer's invitations, newest first.
func (r *PostgresRepository) ListByIssuer(ctx context.Context, issuerID string) ([]*domain.Invitation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+invitationColumns+` FROM invitations WHERE issuer_id = $1 ORDER BY created_at DESC`, issuerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// MarkUsed is the single check-and-set guarding redemption. Concurrent callers race on the row
// lock; exactly one sees a row affected.
func (r *PostgresRepository) MarkUsed(ctx context.Context, id, redeemedBy string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE invitations SET used = true, used_at = $2, redeemed_by = $3
		 WHERE id = $1 AND used = false AND expires_at >= $2`,
		id, now, redeemedBy,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func scanInvitation(scan func(dest ...any) error) (*domain.Invitation, error) {
	var (
		inv        domain.Invitation
		usedAt     sql.NullTime
		redeemedBy sql.NullString
	)
	if err := scan(&inv.ID, &inv.TokenHash, &inv.IssuerID, &inv.IntendedEmail, &inv.CreatedAt, &inv.ExpiresAt,
		&inv.Used, &usedAt, &redeemedBy); err != nil {
		return nil, err
	}
	if usedAt.Valid {
		t := usedAt.Time
		inv.UsedAt = &t
	}
	inv.RedeemedBy = redeemedBy.String
	return &inv, nil
}

// PostgresTxRunner implements TxRunner on a *sql.DB.
type PostgresTxRunner struct {
	db *sql.DB
}

var _ TxRunner = (*PostgresTxRunner)(nil)

// NewPostgresTxRunner returns a TxRunner that opens transactions on conn.
func NewPostgresTxRunner(conn *sql.DB) *PostgresTxRunner {
	return &PostgresTxRunner{db: conn}
}

// InTx runs fn with identity and invitation repositories bound to one transaction.
func (r *PostgresTxRunner) InTx(ctx context.Context, fn func(identityrepo.Repository, Repository) error) error {
	return db.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return fn(identityrepo.NewPostgresRepository(tx), NewPostgresRepository(tx))
	})
}
