// Package handler serves the account endpoints: coach registration, sign-in, sign-out and the
// current identity.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/identity/service"
	"coachhub/internal/logging"
	"coachhub/internal/platform/httpx"
	"coachhub/internal/platform/rbac"
	policydomain "coachhub/internal/policy/domain"
	"coachhub/internal/policy/engine"
	"coachhub/internal/server/middleware"
)

// AuthService is the subset of service.AuthService the handlers call.
type AuthService interface {
	Register(ctx context.Context, email, password, name string) (*identitydomain.Identity, error)
	SignIn(ctx context.Context, email, password string) (*service.AuthResult, error)
	StartSession(ctx context.Context, ident *identitydomain.Identity) (*service.AuthResult, error)
	SignOut(ctx context.Context, token, identityID string) error
}

// Handler serves /api/auth/* and /api/me.
type Handler struct {
	auth          AuthService
	authz         rbac.Authorizer
	cookie        httpx.SessionCookie
	dashboardPath string
	log           logrus.FieldLogger
}

// NewHandler returns the account handler. dashboardPath is where clients go after signing in.
func NewHandler(auth AuthService, authz rbac.Authorizer, cookie httpx.SessionCookie, dashboardPath string, log logrus.FieldLogger) *Handler {
	if dashboardPath == "" {
		dashboardPath = engine.DefaultDashboardPath
	}
	return &Handler{
		auth:          auth,
		authz:         authz,
		cookie:        cookie,
		dashboardPath: dashboardPath,
		log:           logging.OrDiscard(log),
	}
}

// IdentityResponse is the public view of an identity.
type IdentityResponse struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"emailVerified"`
	CreatedAt     time.Time `json:"createdAt"`
}

// SessionResponse is returned after a session is opened. The token itself travels only in the cookie.
type SessionResponse struct {
	Identity  IdentityResponse `json:"identity"`
	ExpiresAt time.Time        `json:"expiresAt"`
	Redirect  string           `json:"redirect"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ToIdentityResponse converts a domain identity for the wire.
func ToIdentityResponse(ident *identitydomain.Identity) IdentityResponse {
	return IdentityResponse{
		ID:            ident.ID,
		Email:         ident.Email,
		Name:          ident.Name,
		Role:          string(ident.Role),
		EmailVerified: ident.EmailVerified,
		CreatedAt:     ident.CreatedAt,
	}
}

// Register creates a coach account and signs it in.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	ident, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.writeError(w, err)
		return
	}
	res, err := h.auth.StartSession(r.Context(), ident)
	if err != nil {
		// The account exists; the client can still sign in normally.
		h.log.WithError(err).WithField("identity_id", ident.ID).Warn("register: session not started")
		httpx.WriteJSON(w, http.StatusCreated, SessionResponse{Identity: ToIdentityResponse(ident), Redirect: "/sign-in"})
		return
	}
	h.cookie.Write(w, res.Token, res.ExpiresAt)
	httpx.WriteJSON(w, http.StatusCreated, SessionResponse{
		Identity:  ToIdentityResponse(res.Identity),
		ExpiresAt: res.ExpiresAt,
		Redirect:  h.dashboardPath,
	})
}

// SignIn checks credentials and sets the session cookie.
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	res, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.cookie.Write(w, res.Token, res.ExpiresAt)
	httpx.WriteJSON(w, http.StatusOK, SessionResponse{
		Identity:  ToIdentityResponse(res.Identity),
		ExpiresAt: res.ExpiresAt,
		Redirect:  h.dashboardPath,
	})
}

// SignOut deletes the current session, if any, and clears the cookie.
func (h *Handler) SignOut(w http.ResponseWriter, r *http.Request) {
	token, ok := middleware.SessionTokenFromContext(r.Context())
	if !ok {
		token, _ = h.cookie.Read(r)
	}
	var identityID string
	if ident, ok := middleware.IdentityFromContext(r.Context()); ok {
		identityID = ident.ID
	}
	h.cookie.Clear(w)
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.auth.SignOut(r.Context(), token, identityID); err != nil {
		h.log.WithError(err).Error("sign-out: delete session failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the signed-in identity.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	ident, err := rbac.RequireAction(r.Context(), h.authz, engine.ActionProfileRead)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ToIdentityResponse(ident))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password")
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		httpx.WriteError(w, http.StatusConflict, "email_taken", "email already registered")
	case errors.Is(err, identitydomain.ErrEmailRequired),
		errors.Is(err, identitydomain.ErrEmailInvalid),
		errors.Is(err, identitydomain.ErrNameRequired),
		errors.Is(err, identitydomain.ErrPasswordTooWeak):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, policydomain.ErrUnauthenticated):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, policydomain.ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "not allowed")
	default:
		h.log.WithError(err).Error("auth request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
