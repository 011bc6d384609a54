package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/logging"
	policydomain "coachhub/internal/policy/domain"
	"coachhub/internal/platform/httpx"
)

// SessionResolver resolves a session cookie value to an identity.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*identitydomain.Identity, bool)
}

// PathPolicy decides what happens to a request for a path.
type PathPolicy interface {
	Decide(path string, ident *identitydomain.Identity) policydomain.Decision
}

// DecisionRecorder counts gate decisions.
type DecisionRecorder interface {
	GateDecision(decision string, authenticated bool)
}

// Gate resolves the session cookie once per request and applies the access decision.
type Gate struct {
	sessions  SessionResolver
	policy    PathPolicy
	cookie    httpx.SessionCookie
	decisions DecisionRecorder
	log       logrus.FieldLogger
}

// NewGate returns a Gate. decisions and log may be nil.
func NewGate(sessions SessionResolver, policy PathPolicy, cookie httpx.SessionCookie, decisions DecisionRecorder, log logrus.FieldLogger) *Gate {
	return &Gate{
		sessions:  sessions,
		policy:    policy,
		cookie:    cookie,
		decisions: decisions,
		log:       logging.OrDiscard(log),
	}
}

// Middleware applies the gate to next. Allowed requests carry the identity (when there is one) in
// their context. Redirects become 303 for pages and 401 for /api/ calls; denials become 403.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ident *identitydomain.Identity
		token, ok := g.cookie.Read(r)
		if ok {
			if resolved, found := g.sessions.Resolve(r.Context(), token); found {
				ident = resolved
			}
		}

		decision := g.policy.Decide(r.URL.Path, ident)
		if g.decisions != nil {
			g.decisions.GateDecision(decision.Kind.String(), ident != nil)
		}

		switch decision.Kind {
		case policydomain.Allow:
			if ident != nil {
				r = r.WithContext(WithIdentity(r.Context(), ident, token))
			}
			next.ServeHTTP(w, r)
		case policydomain.Redirect:
			if ident == nil && isAPIPath(r.URL.Path) {
				httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
				return
			}
			http.Redirect(w, r, decision.Target, http.StatusSeeOther)
		default:
			g.log.WithFields(logrus.Fields{"path": r.URL.Path, "authenticated": ident != nil}).Info("gate: request denied")
			httpx.WriteError(w, http.StatusForbidden, "forbidden", "access denied")
		}
	})
}

func isAPIPath(p string) bool {
	return p == "/api" || strings.HasPrefix(p, "/api/")
}
