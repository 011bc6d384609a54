// Package resolver turns a session cookie value into an authenticated identity.
package resolver

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/logging"
	"coachhub/internal/security"
	"coachhub/internal/session/repository"
)

// DefaultLookupTimeout bounds the store round trip when no timeout is configured.
const DefaultLookupTimeout = 2 * time.Second

// Resolver looks up sessions by the hash of their opaque token. It holds no per-request state.
type Resolver struct {
	store   repository.Repository
	timeout time.Duration
	now     func() time.Time
	log     logrus.FieldLogger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithLogger sets the logger used for lookup failures.
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Resolver) { r.log = l }
}

// New returns a Resolver over store. A non-positive timeout selects DefaultLookupTimeout.
func New(store repository.Repository, timeout time.Duration, opts ...Option) *Resolver {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	r := &Resolver{store: store, timeout: timeout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logging.OrDiscard(r.log)
	return r
}

// Resolve returns the identity behind token, or false when there is none. Missing, malformed and
// expired sessions all report false, and so does any store failure: the caller cannot tell an
// outage from an anonymous request. One store call, no retries.
func (r *Resolver) Resolve(ctx context.Context, token string) (*identitydomain.Identity, bool) {
	if r == nil || r.store == nil {
		return nil, false
	}
	token = strings.TrimSpace(token)
	if !security.ValidTokenFormat(token) {
		return nil, false
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	s, ident, err := r.store.Lookup(lookupCtx, security.HashToken(token))
	if err != nil {
		r.log.WithError(err).Warn("session lookup failed")
		return nil, false
	}
	if s == nil || ident == nil {
		return nil, false
	}
	if s.Expired(r.now()) {
		return nil, false
	}
	if ident.ID == "" || ident.ID != s.IdentityID {
		return nil, false
	}
	return ident, true
}
