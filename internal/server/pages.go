package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	auditdomain "coachhub/internal/audit/domain"
	identitydomain "coachhub/internal/identity/domain"
	identityhandler "coachhub/internal/identity/handler"
	invitationhandler "coachhub/internal/invitation/handler"
	"coachhub/internal/invitation/service"
	"coachhub/internal/logging"
	"coachhub/internal/platform/httpx"
	"coachhub/internal/platform/rbac"
	"coachhub/internal/policy/engine"
	"coachhub/internal/server/middleware"
)

// activityLimit is how many audit entries a dashboard shows.
const activityLimit = 10

// InvitationReader is what the pages read from the invitation lifecycle.
type InvitationReader interface {
	Validate(ctx context.Context, token string) (*service.Details, error)
	ListByIssuer(ctx context.Context, issuer *identitydomain.Identity) ([]service.Listed, error)
}

// ActivityReader lists recent audit entries for an identity.
type ActivityReader interface {
	ListByIdentity(ctx context.Context, identityID string, limit int) ([]*auditdomain.AuditLog, error)
}

// Pages serves the page routes as small JSON documents. Rendering is left to the client.
type Pages struct {
	invitations InvitationReader
	activity    ActivityReader
	authz       rbac.Authorizer
	log         logrus.FieldLogger
}

// NewPages returns the page handlers. activity may be nil.
func NewPages(invitations InvitationReader, activity ActivityReader, authz rbac.Authorizer, log logrus.FieldLogger) *Pages {
	return &Pages{invitations: invitations, activity: activity, authz: authz, log: logging.OrDiscard(log)}
}

type page struct {
	Page     string                            `json:"page"`
	Identity *identityhandler.IdentityResponse `json:"identity,omitempty"`
}

type signUpPage struct {
	page
	Invitation invitationhandler.DetailsResponse `json:"invitation"`
}

type coachDashboardPage struct {
	page
	Invitations []invitationhandler.InvitationResponse `json:"invitations"`
	Activity    []activityEntry                        `json:"activity"`
}

type athleteDashboardPage struct {
	page
	Activity []activityEntry `json:"activity"`
}

type activityEntry struct {
	Action    string    `json:"action"`
	Resource  string    `json:"resource"`
	CreatedAt time.Time `json:"createdAt"`
}

func newPage(name string, r *http.Request) page {
	p := page{Page: name}
	if ident, ok := middleware.IdentityFromContext(r.Context()); ok {
		resp := identityhandler.ToIdentityResponse(ident)
		p.Identity = &resp
	}
	return p
}

// Home is the landing page.
func (p *Pages) Home(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, newPage("home", r))
}

// SignIn is the sign-in page.
func (p *Pages) SignIn(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, newPage("sign-in", r))
}

// SignUp shows who invited the athlete, or why the link no longer works.
func (p *Pages) SignUp(w http.ResponseWriter, r *http.Request) {
	d, err := p.invitations.Validate(r.Context(), mux.Vars(r)["token"])
	if err != nil {
		invitationhandler.WriteError(w, p.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, signUpPage{page: newPage("sign-up", r), Invitation: invitationhandler.ToDetailsResponse(d)})
}

// Dashboard is reached only by identities the gate did not route to a role dashboard.
func (p *Pages) Dashboard(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, newPage("dashboard", r))
}

// CoachDashboard lists the coach's invitations. Only the coach named in the path may see it.
func (p *Pages) CoachDashboard(w http.ResponseWriter, r *http.Request) {
	ident, err := rbac.RequireOwner(r.Context(), p.authz, engine.ActionCoachDashboard, mux.Vars(r)["id"])
	if err != nil {
		invitationhandler.WriteError(w, p.log, err)
		return
	}
	list, err := p.invitations.ListByIssuer(r.Context(), ident)
	if err != nil {
		invitationhandler.WriteError(w, p.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, coachDashboardPage{
		page:        newPage("coach-dashboard", r),
		Invitations: invitationhandler.ToInvitationResponses(list),
		Activity:    p.recentActivity(r.Context(), ident.ID),
	})
}

// AthleteDashboard is the athlete's home. Only the athlete named in the path may see it.
func (p *Pages) AthleteDashboard(w http.ResponseWriter, r *http.Request) {
	ident, err := rbac.RequireOwner(r.Context(), p.authz, engine.ActionAthleteDashboard, mux.Vars(r)["id"])
	if err != nil {
		invitationhandler.WriteError(w, p.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, athleteDashboardPage{
		page:     newPage("athlete-dashboard", r),
		Activity: p.recentActivity(r.Context(), ident.ID),
	})
}

// recentActivity is best-effort: a failing audit store leaves the list empty.
func (p *Pages) recentActivity(ctx context.Context, identityID string) []activityEntry {
	out := []activityEntry{}
	if p.activity == nil {
		return out
	}
	logs, err := p.activity.ListByIdentity(ctx, identityID, activityLimit)
	if err != nil {
		p.log.WithError(err).WithField("identity_id", identityID).Warn("dashboard: activity unavailable")
		return out
	}
	for _, l := range logs {
		out = append(out, activityEntry{Action: l.Action, Resource: l.Resource, CreatedAt: l.CreatedAt})
	}
	return out
}
