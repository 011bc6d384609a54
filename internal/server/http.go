// Package server assembles the HTTP router and the gRPC ops server.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	identityhandler "coachhub/internal/identity/handler"
	invitationhandler "coachhub/internal/invitation/handler"
	"coachhub/internal/logging"
	"coachhub/internal/platform/httpx"
	"coachhub/internal/server/middleware"
)

// Rate-limit scopes, also used as metric labels.
const (
	ScopeSignIn     = "sign_in"
	ScopeInvitation = "invitation"
)

// Observer is the metrics sink used by the router.
type Observer interface {
	middleware.HTTPObserver
	middleware.RateLimitRecorder
}

// RateLimits configures per-scope request limits per client IP. A zero limit disables the scope.
type RateLimits struct {
	Limiter    middleware.RateLimiter
	SignIn     int
	Invitation int
	Window     time.Duration
}

// HTTPDeps holds everything the router serves.
type HTTPDeps struct {
	Gate        *middleware.Gate
	Auth        *identityhandler.Handler
	Invitations *invitationhandler.Handler
	Pages       *Pages
	Health      http.Handler
	// Metrics serves /metrics. Nil leaves the route unregistered.
	Metrics  http.Handler
	Observer Observer
	Limits   RateLimits
	// Proxies are the peers allowed to set the client IP through forwarding headers.
	Proxies *middleware.TrustedProxies
	Log     logrus.FieldLogger
}

// NewHTTPHandler returns the application handler. Every request, including unmatched paths, goes
// through the session gate, so unknown routes redirect anonymous callers like any private page.
func NewHTTPHandler(d HTTPDeps) http.Handler {
	r := mux.NewRouter()
	chain := []mux.MiddlewareFunc{middleware.Tracing()}
	if d.Observer != nil {
		chain = append(chain, middleware.Metrics(d.Observer))
	}
	chain = append(chain, d.Gate.Middleware)
	r.Use(chain...)

	signInLimit := middleware.RateLimit(d.Limits.Limiter, ScopeSignIn, d.Limits.SignIn, d.Limits.Window, d.Observer)
	invitationLimit := middleware.RateLimit(d.Limits.Limiter, ScopeInvitation, d.Limits.Invitation, d.Limits.Window, d.Observer)

	r.Handle("/healthz", d.Health).Methods(http.MethodGet)
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/register", d.Auth.Register).Methods(http.MethodPost)
	api.Handle("/auth/sign-in", signInLimit(http.HandlerFunc(d.Auth.SignIn))).Methods(http.MethodPost)
	api.HandleFunc("/auth/sign-out", d.Auth.SignOut).Methods(http.MethodPost)
	api.HandleFunc("/me", d.Auth.Me).Methods(http.MethodGet)

	api.HandleFunc("/invitations", d.Invitations.Issue).Methods(http.MethodPost)
	api.HandleFunc("/invitations", d.Invitations.List).Methods(http.MethodGet)
	api.Handle("/invitations/validate/{token}", invitationLimit(http.HandlerFunc(d.Invitations.Validate))).Methods(http.MethodGet)
	api.Handle("/sign-up/{token}", invitationLimit(http.HandlerFunc(d.Invitations.Redeem))).Methods(http.MethodPost)

	r.HandleFunc("/", d.Pages.Home).Methods(http.MethodGet)
	r.HandleFunc("/sign-in", d.Pages.SignIn).Methods(http.MethodGet)
	r.Handle("/sign-up/{token}", invitationLimit(http.HandlerFunc(d.Pages.SignUp))).Methods(http.MethodGet)
	r.HandleFunc("/dashboard", d.Pages.Dashboard).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/pro/{id}", d.Pages.CoachDashboard).Methods(http.MethodGet)
	r.HandleFunc("/dashboard/client/{id}", d.Pages.AthleteDashboard).Methods(http.MethodGet)

	// mux skips Use middleware for unmatched requests; wrap the fallbacks explicitly.
	fallback := func(h http.Handler) http.Handler {
		for i := len(chain) - 1; i >= 0; i-- {
			h = chain[i](h)
		}
		return h
	}
	r.NotFoundHandler = fallback(http.HandlerFunc(notFound))
	r.MethodNotAllowedHandler = fallback(http.HandlerFunc(methodNotAllowed))

	return middleware.RequestLogger(logging.OrDiscard(d.Log), d.Proxies)(r)
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteError(w, http.StatusNotFound, "not_found", "not found")
}

func methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
}
