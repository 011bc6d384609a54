// Package engine decides, per request, whether to allow, redirect or deny, and which roles may
// perform which actions.
package engine

import (
	"net/url"
	"path"
	"strings"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/policy/domain"
)

// Default route layout.
const (
	DefaultSignInPath       = "/sign-in"
	DefaultDashboardPath    = "/dashboard"
	DefaultCoachDashboard   = "/dashboard/pro/"
	DefaultAthleteDashboard = "/dashboard/client/"
)

// Engine is a pure function of (path, identity). The public-route table is fixed at construction.
type Engine struct {
	public           []string
	signIn           string
	dashboard        string
	coachDashboard   string
	athleteDashboard string
}

// Option configures an Engine.
type Option func(*Engine)

// WithSignInPath sets the redirect target for anonymous requests.
func WithSignInPath(p string) Option {
	return func(e *Engine) {
		if p != "" {
			e.signIn = p
		}
	}
}

// WithDashboardPaths overrides the dashboard entry point and the role-scoped prefixes.
// Prefixes must end in "/".
func WithDashboardPaths(entry, coachPrefix, athletePrefix string) Option {
	return func(e *Engine) {
		e.dashboard = entry
		e.coachDashboard = coachPrefix
		e.athleteDashboard = athletePrefix
	}
}

// New returns an Engine treating publicRoutes as the allow-list. Each route matches itself and
// everything below it; "/" matches only the root.
func New(publicRoutes []string, opts ...Option) *Engine {
	e := &Engine{
		signIn:           DefaultSignInPath,
		dashboard:        DefaultDashboardPath,
		coachDashboard:   DefaultCoachDashboard,
		athleteDashboard: DefaultAthleteDashboard,
	}
	for _, r := range publicRoutes {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		e.public = append(e.public, cleanPath(r))
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide returns the access decision for path given the resolved identity (nil when anonymous).
// A resolver failure arrives here as a nil identity and therefore redirects to sign-in.
func (e *Engine) Decide(p string, ident *identitydomain.Identity) domain.Decision {
	p = cleanPath(p)
	if e.IsPublic(p) {
		return domain.AllowDecision()
	}
	if ident == nil {
		return domain.RedirectTo(e.signIn)
	}
	if p != e.dashboard {
		return domain.AllowDecision()
	}
	switch ident.Role {
	case identitydomain.RoleCoach:
		return domain.RedirectTo(e.CoachDashboard(ident.ID))
	case identitydomain.RoleAthlete:
		return domain.RedirectTo(e.AthleteDashboard(ident.ID))
	case identitydomain.RoleUnknown:
		// Neutral page rather than a redirect loop. Open for product review.
		return domain.AllowDecision()
	default:
		return domain.AllowDecision()
	}
}

// IsPublic reports whether p is on the public allow-list.
func (e *Engine) IsPublic(p string) bool {
	p = cleanPath(p)
	for _, r := range e.public {
		if p == r {
			return true
		}
		if r != "/" && strings.HasPrefix(p, r+"/") {
			return true
		}
	}
	return false
}

// SignInPath returns the redirect target for anonymous requests.
func (e *Engine) SignInPath() string { return e.signIn }

// CoachDashboard returns the coach-scoped dashboard path for id.
func (e *Engine) CoachDashboard(id string) string { return e.coachDashboard + url.PathEscape(id) }

// AthleteDashboard returns the athlete-scoped dashboard path for id.
func (e *Engine) AthleteDashboard(id string) string { return e.athleteDashboard + url.PathEscape(id) }

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}
