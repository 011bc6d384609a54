package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/security"
	"coachhub/internal/session/domain"
)

type memSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	idents   map[string]*identitydomain.Identity
	err      error
	block    bool
	calls    int
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{
		sessions: make(map[string]*domain.Session),
		idents:   make(map[string]*identitydomain.Identity),
	}
}

func (m *memSessionStore) Create(_ context.Context, s *domain.Session, ident *identitydomain.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.TokenHash] = s
	m.idents[s.TokenHash] = ident
	return nil
}

func (m *memSessionStore) Lookup(ctx context.Context, tokenHash string) (*domain.Session, *identitydomain.Identity, error) {
	m.mu.Lock()
	m.calls++
	block, err := m.block, m.err
	s, ident := m.sessions[tokenHash], m.idents[tokenHash]
	m.mu.Unlock()
	if block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	if err != nil {
		return nil, nil, err
	}
	return s, ident, nil
}

func (m *memSessionStore) Delete(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, tokenHash)
	delete(m.idents, tokenHash)
	return nil
}

var fixedNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func seed(t *testing.T, store *memSessionStore, expiresAt time.Time) (string, *identitydomain.Identity) {
	t.Helper()
	token, err := security.NewOpaqueToken()
	if err != nil {
		t.Fatalf("NewOpaqueToken: %v", err)
	}
	ident := &identitydomain.Identity{ID: "coach-1", Email: "coach@club.com", Role: identitydomain.RoleCoach}
	s := &domain.Session{TokenHash: security.HashToken(token), IdentityID: ident.ID, CreatedAt: fixedNow.Add(-time.Hour), ExpiresAt: expiresAt}
	_ = store.Create(context.Background(), s, ident)
	return token, ident
}

func TestResolve_ValidSession(t *testing.T) {
	store := newMemSessionStore()
	token, want := seed(t, store, fixedNow.Add(time.Hour))
	r := New(store, time.Second, WithClock(func() time.Time { return fixedNow }))

	got, ok := r.Resolve(context.Background(), "  "+token+"\n")
	if !ok {
		t.Fatal("Resolve should succeed for a live session")
	}
	if got.ID != want.ID || got.Role != identitydomain.RoleCoach {
		t.Errorf("Resolve = %+v", got)
	}
}

func TestResolve_None(t *testing.T) {
	store := newMemSessionStore()
	live, _ := seed(t, store, fixedNow.Add(time.Hour))
	expired, _ := seed(t, store, fixedNow.Add(-time.Second))
	atBoundary, _ := seed(t, store, fixedNow)
	orphan, err := security.NewOpaqueToken()
	if err != nil {
		t.Fatal(err)
	}
	_ = store.Create(context.Background(), &domain.Session{TokenHash: security.HashToken(orphan), IdentityID: "ghost", ExpiresAt: fixedNow.Add(time.Hour)}, nil)
	_ = live

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"malformed", "not a token!"},
		{"oversized", string(make([]byte, 200))},
		{"unknown", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"},
		{"expired", expired},
		{"expires exactly now", atBoundary},
		{"session without identity", orphan},
	}
	r := New(store, time.Second, WithClock(func() time.Time { return fixedNow }))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if ident, ok := r.Resolve(context.Background(), tt.token); ok || ident != nil {
				t.Errorf("Resolve(%q) = %+v, %v; want none", tt.name, ident, ok)
			}
		})
	}
}

func TestResolve_StoreErrorFailsClosed(t *testing.T) {
	store := newMemSessionStore()
	token, _ := seed(t, store, fixedNow.Add(time.Hour))
	store.err = errors.New("connection refused")
	r := New(store, time.Second, WithClock(func() time.Time { return fixedNow }))

	if ident, ok := r.Resolve(context.Background(), token); ok || ident != nil {
		t.Fatalf("Resolve on store error = %+v, %v; want none", ident, ok)
	}
	if store.calls != 1 {
		t.Errorf("store calls = %d, want 1 (no retries)", store.calls)
	}
}

func TestResolve_TimeoutBoundsLookup(t *testing.T) {
	store := newMemSessionStore()
	token, _ := seed(t, store, fixedNow.Add(time.Hour))
	store.block = true
	r := New(store, 20*time.Millisecond)

	start := time.Now()
	_, ok := r.Resolve(context.Background(), token)
	if ok {
		t.Fatal("Resolve should fail when the store does not answer")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Resolve took %v, want it bounded by the lookup timeout", elapsed)
	}
}

func TestResolve_NilResolver(t *testing.T) {
	var r *Resolver
	if _, ok := r.Resolve(context.Background(), "abc"); ok {
		t.Fatal("nil resolver must resolve nothing")
	}
	if _, ok := New(nil, 0).Resolve(context.Background(), "abc"); ok {
		t.Fatal("resolver without store must resolve nothing")
	}
}

func TestNew_DefaultTimeout(t *testing.T) {
	r := New(newMemSessionStore(), 0)
	if r.timeout != DefaultLookupTimeout {
		t.Errorf("timeout = %v, want %v", r.timeout, DefaultLookupTimeout)
	}
}
