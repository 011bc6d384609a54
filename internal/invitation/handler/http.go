// Package handler serves the invitation endpoints: issue and list for coaches, validate and
// redeem for prospective athletes.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	identitydomain "coachhub/internal/identity/domain"
	identityhandler "coachhub/internal/identity/handler"
	identityservice "coachhub/internal/identity/service"
	"coachhub/internal/invitation/domain"
	"coachhub/internal/invitation/service"
	"coachhub/internal/logging"
	"coachhub/internal/platform/httpx"
	policydomain "coachhub/internal/policy/domain"
	"coachhub/internal/policy/engine"
	"coachhub/internal/server/middleware"
)

// Lifecycle is the subset of service.Service the handlers call.
type Lifecycle interface {
	Issue(ctx context.Context, issuer *identitydomain.Identity, email string) (*service.IssueResult, error)
	Validate(ctx context.Context, token string) (*service.Details, error)
	Redeem(ctx context.Context, token string, in service.NewAthlete) (*identitydomain.Identity, error)
	ListByIssuer(ctx context.Context, issuer *identitydomain.Identity) ([]service.Listed, error)
}

// SessionStarter opens a session for a freshly registered athlete.
type SessionStarter interface {
	StartSession(ctx context.Context, ident *identitydomain.Identity) (*identityservice.AuthResult, error)
}

// Handler serves /api/invitations and /api/sign-up.
type Handler struct {
	invitations   Lifecycle
	sessions      SessionStarter
	cookie        httpx.SessionCookie
	dashboardPath string
	log           logrus.FieldLogger
}

// NewHandler returns the invitation handler.
func NewHandler(invitations Lifecycle, sessions SessionStarter, cookie httpx.SessionCookie, dashboardPath string, log logrus.FieldLogger) *Handler {
	if dashboardPath == "" {
		dashboardPath = engine.DefaultDashboardPath
	}
	return &Handler{
		invitations:   invitations,
		sessions:      sessions,
		cookie:        cookie,
		dashboardPath: dashboardPath,
		log:           logging.OrDiscard(log),
	}
}

// IssueResponse carries the raw token. It is shown once and cannot be retrieved again.
type IssueResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	Link      string    `json:"link"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// DetailsResponse is what the sign-up page shows.
type DetailsResponse struct {
	CoachID       string    `json:"coachId"`
	CoachName     string    `json:"coachName"`
	IntendedEmail string    `json:"intendedEmail"`
	ExpiresAt     time.Time `json:"expiresAt"`
}

// InvitationResponse is one row of the coach's invitation list.
type InvitationResponse struct {
	ID            string     `json:"id"`
	IntendedEmail string     `json:"intendedEmail"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
	RedeemedBy    string     `json:"redeemedBy,omitempty"`
}

type issueRequest struct {
	Email string `json:"email"`
}

type redeemRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Issue creates an invitation for the signed-in coach.
func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	issuer, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, policydomain.ErrUnauthenticated)
		return
	}
	var req issueRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	res, err := h.invitations.Issue(r.Context(), issuer, req.Email)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, IssueResponse{
		ID:        res.Invitation.ID,
		Token:     res.Token,
		Link:      res.Link,
		ExpiresAt: res.ExpiresAt,
	})
}

// List returns the signed-in coach's invitations.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	issuer, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		WriteError(w, h.log, policydomain.ErrUnauthenticated)
		return
	}
	list, err := h.invitations.ListByIssuer(r.Context(), issuer)
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"invitations": ToInvitationResponses(list)})
}

// Validate reports whether the token in the path can still be redeemed.
func (h *Handler) Validate(w http.ResponseWriter, r *http.Request) {
	d, err := h.invitations.Validate(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		WriteError(w, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ToDetailsResponse(d))
}

// Redeem registers an athlete with the token in the path and signs them in.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := httpx.ReadJSON(w, r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	ident, err := h.invitations.Redeem(r.Context(), mux.Vars(r)["token"], service.NewAthlete{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		WriteError(w, h.log, err)
		return
	}

	res, err := h.sessions.StartSession(r.Context(), ident)
	if err != nil {
		h.log.WithError(err).WithField("identity_id", ident.ID).Warn("sign-up: session not started")
		httpx.WriteJSON(w, http.StatusCreated, identityhandler.SessionResponse{
			Identity: identityhandler.ToIdentityResponse(ident),
			Redirect: "/sign-in",
		})
		return
	}
	h.cookie.Write(w, res.Token, res.ExpiresAt)
	httpx.WriteJSON(w, http.StatusCreated, identityhandler.SessionResponse{
		Identity:  identityhandler.ToIdentityResponse(res.Identity),
		ExpiresAt: res.ExpiresAt,
		Redirect:  h.dashboardPath,
	})
}

// ToDetailsResponse converts validation details for the wire.
func ToDetailsResponse(d *service.Details) DetailsResponse {
	return DetailsResponse{
		CoachID:       d.CoachID,
		CoachName:     d.CoachName,
		IntendedEmail: d.IntendedEmail,
		ExpiresAt:     d.ExpiresAt,
	}
}

// ToInvitationResponses converts a listing for the wire.
func ToInvitationResponses(list []service.Listed) []InvitationResponse {
	out := make([]InvitationResponse, 0, len(list))
	for _, l := range list {
		out = append(out, InvitationResponse{
			ID:            l.ID,
			IntendedEmail: l.IntendedEmail,
			Status:        string(l.Status),
			CreatedAt:     l.CreatedAt,
			ExpiresAt:     l.ExpiresAt,
			UsedAt:        l.UsedAt,
			RedeemedBy:    l.RedeemedBy,
		})
	}
	return out
}

// WriteError maps lifecycle errors to responses. NotFound, AlreadyUsed and Expired keep distinct
// reason codes so the sign-up page can say which one applies.
func WriteError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "invalid", "invitation is invalid")
	case errors.Is(err, domain.ErrAlreadyUsed):
		httpx.WriteError(w, http.StatusGone, "already_used", "invitation has already been used")
	case errors.Is(err, domain.ErrExpired):
		httpx.WriteError(w, http.StatusGone, "expired", "invitation has expired")
	case errors.Is(err, domain.ErrEmailMismatch):
		httpx.WriteError(w, http.StatusBadRequest, "email_mismatch", "email does not match the invitation")
	case errors.Is(err, domain.ErrEmailTaken):
		httpx.WriteError(w, http.StatusConflict, "email_taken", "an account with this email already exists")
	case errors.Is(err, identitydomain.ErrEmailRequired),
		errors.Is(err, identitydomain.ErrEmailInvalid),
		errors.Is(err, identitydomain.ErrNameRequired),
		errors.Is(err, identitydomain.ErrPasswordTooWeak):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, policydomain.ErrUnauthenticated):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
	case errors.Is(err, policydomain.ErrUnauthorized):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "access denied")
	default:
		logging.OrDiscard(log).WithError(err).Error("invitation request failed")
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
