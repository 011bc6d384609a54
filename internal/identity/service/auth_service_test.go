package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	auditdomain "coachhub/internal/audit/domain"
	identitydomain "coachhub/internal/identity/domain"
	identityrepo "coachhub/internal/identity/repository"
	"coachhub/internal/security"
	sessiondomain "coachhub/internal/session/domain"
	"coachhub/internal/session/resolver"
)

type memIdentityRepo struct {
	mu sync.Mutex
	m  map[string]*identitydomain.Identity
}

func (r *memIdentityRepo) GetByID(_ context.Context, id string) (*identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if i, ok := r.m[id]; ok {
		c := *i
		return &c, nil
	}
	return nil, nil
}

func (r *memIdentityRepo) GetByEmail(_ context.Context, email string) (*identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, i := range r.m {
		if i.Email == email {
			c := *i
			return &c, nil
		}
	}
	return nil, nil
}

func (r *memIdentityRepo) Create(_ context.Context, i *identitydomain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.m {
		if existing.Email == i.Email {
			return identityrepo.ErrEmailTaken
		}
	}
	c := *i
	r.m[i.ID] = &c
	return nil
}

type memSessionRepo struct {
	mu     sync.Mutex
	m      map[string]*sessiondomain.Session
	idents map[string]*identitydomain.Identity
}

func (r *memSessionRepo) Create(_ context.Context, s *sessiondomain.Session, ident *identitydomain.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[s.TokenHash] = s
	r.idents[s.TokenHash] = ident
	return nil
}

func (r *memSessionRepo) Lookup(_ context.Context, tokenHash string) (*sessiondomain.Session, *identitydomain.Identity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[tokenHash]
	if !ok {
		return nil, nil, nil
	}
	return s, r.idents[tokenHash], nil
}

func (r *memSessionRepo) Delete(_ context.Context, tokenHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, tokenHash)
	delete(r.idents, tokenHash)
	return nil
}

func (r *memSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

type recordingAudit struct {
	mu      sync.Mutex
	actions []string
}

func (a *recordingAudit) LogEvent(_ context.Context, _, action, _, _ string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions = append(a.actions, action)
}

func newTestAuthService(t *testing.T) (*AuthService, *memSessionRepo, *recordingAudit) {
	t.Helper()
	identities := &memIdentityRepo{m: make(map[string]*identitydomain.Identity)}
	sessions := &memSessionRepo{m: make(map[string]*sessiondomain.Session), idents: make(map[string]*identitydomain.Identity)}
	auditLog := &recordingAudit{}
	svc := NewAuthService(identities, sessions, security.NewHasher(4), time.Hour, WithAuditLogger(auditLog))
	return svc, sessions, auditLog
}

const password = "Password123!abc"

func TestAuthService_Register(t *testing.T) {
	svc, _, auditLog := newTestAuthService(t)
	ctx := context.Background()

	ident, err := svc.Register(ctx, " Coach@Example.com ", password, "Casey")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if ident.Role != identitydomain.RoleCoach || ident.Email != "coach@example.com" || ident.ID == "" {
		t.Fatalf("identity = %+v", ident)
	}
	if ident.PasswordHash != "" {
		t.Error("Register must not return the password hash")
	}

	if _, err := svc.Register(ctx, "coach@example.com", "Other123!abcd", "Other"); !errors.Is(err, ErrEmailAlreadyRegistered) {
		t.Errorf("duplicate email: want ErrEmailAlreadyRegistered, got %v", err)
	}
	if len(auditLog.actions) != 1 || auditLog.actions[0] != auditdomain.ActionRegister {
		t.Errorf("audit = %v", auditLog.actions)
	}
}

func TestAuthService_RegisterValidation(t *testing.T) {
	svc, _, _ := newTestAuthService(t)
	tests := []struct {
		name, email, password, displayName string
		wantErr                            error
	}{
		{"bad email", "bad-email", password, "C", identitydomain.ErrEmailInvalid},
		{"empty email", " ", password, "C", identitydomain.ErrEmailRequired},
		{"missing name", "a@b.co", password, "", identitydomain.ErrNameRequired},
		{"short password", "a@b.co", "Short1!abc", "C", identitydomain.ErrPasswordTooWeak},
		{"no uppercase", "a@b.co", "password123!abc", "C", identitydomain.ErrPasswordTooWeak},
		{"no symbol", "a@b.co", "Password1234abc", "C", identitydomain.ErrPasswordTooWeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(context.Background(), tt.email, tt.password, tt.displayName); !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthService_SignInResolveSignOut(t *testing.T) {
	svc, sessions, auditLog := newTestAuthService(t)
	ctx := context.Background()
	coach, err := svc.Register(ctx, "coach@example.com", password, "Casey")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := svc.SignIn(ctx, "COACH@example.com", password)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if !security.ValidTokenFormat(res.Token) || res.Identity.ID != coach.ID {
		t.Fatalf("SignIn result = %+v", res)
	}
	if _, ok := sessions.m[res.Token]; ok {
		t.Fatal("raw token must not be a storage key")
	}

	r := resolver.New(sessions, time.Second)
	got, ok := r.Resolve(ctx, res.Token)
	if !ok || got.ID != coach.ID {
		t.Fatalf("Resolve after SignIn = %+v, %v", got, ok)
	}

	if err := svc.SignOut(ctx, res.Token, coach.ID); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if _, ok := r.Resolve(ctx, res.Token); ok {
		t.Fatal("session must not resolve after sign-out")
	}
	if sessions.count() != 0 {
		t.Fatalf("sessions = %d, want 0", sessions.count())
	}

	want := []string{auditdomain.ActionRegister, auditdomain.ActionSignIn, auditdomain.ActionSignOut}
	if len(auditLog.actions) != len(want) {
		t.Fatalf("audit = %v, want %v", auditLog.actions, want)
	}
	for i := range want {
		if auditLog.actions[i] != want[i] {
			t.Errorf("audit[%d] = %q, want %q", i, auditLog.actions[i], want[i])
		}
	}
}

func TestAuthService_SignInFailures(t *testing.T) {
	svc, sessions, _ := newTestAuthService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "coach@example.com", password, "Casey"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tests := []struct{ name, email, password string }{
		{"wrong password", "coach@example.com", "Wrong123!abcd"},
		{"unknown email", "nobody@example.com", password},
		{"empty password", "coach@example.com", ""},
		{"empty email", "", password},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.SignIn(ctx, tt.email, tt.password); !errors.Is(err, ErrInvalidCredentials) {
				t.Fatalf("err = %v, want ErrInvalidCredentials", err)
			}
		})
	}
	if sessions.count() != 0 {
		t.Fatal("failed sign-ins must not create sessions")
	}
}

func TestAuthService_SessionExpiry(t *testing.T) {
	svc, sessions, _ := newTestAuthService(t)
	ctx := context.Background()
	start := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	ident := &identitydomain.Identity{ID: "a-1", Role: identitydomain.RoleAthlete}
	res, err := svc.StartSession(ctx, ident)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !res.ExpiresAt.Equal(start.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", res.ExpiresAt)
	}

	at := start.Add(59 * time.Minute)
	r := resolver.New(sessions, time.Second, resolver.WithClock(func() time.Time { return at }))
	if _, ok := r.Resolve(ctx, res.Token); !ok {
		t.Fatal("session should be live before expiry")
	}
	at = start.Add(time.Hour)
	if _, ok := r.Resolve(ctx, res.Token); ok {
		t.Fatal("session should be gone at expiry")
	}
}

func TestAuthService_SignOutMalformedTokenIsNoop(t *testing.T) {
	svc, _, auditLog := newTestAuthService(t)
	if err := svc.SignOut(context.Background(), "not a token", ""); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if len(auditLog.actions) != 0 {
		t.Fatalf("audit = %v, want nothing", auditLog.actions)
	}
}
