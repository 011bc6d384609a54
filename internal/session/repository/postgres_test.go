package repository

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/session/domain"
)

var lookupCols = []string{
	"token_hash", "identity_id", "created_at", "expires_at",
	"id", "email", "name", "role", "email_verified", "created_at",
}

func TestPostgresRepository_Lookup(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer conn.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("WHERE s.token_hash = $1")).
		WithArgs("hash-1").
		WillReturnRows(sqlmock.NewRows(lookupCols).
			AddRow("hash-1", "coach-1", now, now.Add(time.Hour), "coach-1", "c@club.com", "Casey", "coach", true, now))

	s, ident, err := NewPostgresRepository(conn).Lookup(context.Background(), "hash-1")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if s == nil || ident == nil {
		t.Fatal("Lookup returned nil session or identity")
	}
	if s.IdentityID != "coach-1" || ident.Role != identitydomain.RoleCoach {
		t.Errorf("Lookup = %+v, %+v", s, ident)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresRepository_Lookup_NotFound(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer conn.Close()

	mock.ExpectQuery("FROM sessions").WillReturnRows(sqlmock.NewRows(lookupCols))

	s, ident, err := NewPostgresRepository(conn).Lookup(context.Background(), "missing")
	if err != nil || s != nil || ident != nil {
		t.Fatalf("Lookup = %v, %v, %v; want nils", s, ident, err)
	}
}

func TestPostgresRepository_Lookup_DBError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer conn.Close()

	mock.ExpectQuery("FROM sessions").WillReturnError(errors.New("timeout"))

	if _, _, err := NewPostgresRepository(conn).Lookup(context.Background(), "h"); err == nil {
		t.Fatal("expected database error")
	}
}

func TestPostgresRepository_CreateAndDelete(t *testing.T) {
	conn, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer conn.Close()

	now := time.Now().UTC()
	s := &domain.Session{TokenHash: "h", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO sessions")).
		WithArgs("h", "athlete-1", now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM sessions WHERE token_hash = $1")).
		WithArgs("h").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepository(conn)
	if err := repo.Create(context.Background(), s, &identitydomain.Identity{ID: "athlete-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Delete(context.Background(), "h"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
