package engine

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/sirupsen/logrus"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/logging"
	"coachhub/internal/policy/domain"
)

// Actions checked by the authorizer.
const (
	ActionInvitationIssue  = "invitation.issue"
	ActionInvitationList   = "invitation.list"
	ActionProfileRead      = "profile.read"
	ActionCoachDashboard   = "dashboard.coach"
	ActionAthleteDashboard = "dashboard.athlete"
)

const authzQuery = "data.coachhub.authz.allow"

// DefaultRolePolicy maps roles to the actions they may perform. Anything not listed is denied.
const DefaultRolePolicy = `package coachhub.authz

default allow := false

role_actions := {
	"coach": {"invitation.issue", "invitation.list", "profile.read", "dashboard.coach"},
	"athlete": {"profile.read", "dashboard.athlete"},
}

allow if {
	input.action in role_actions[input.role]
}
`

// OPAAuthorizer evaluates role/action decisions with an in-process Rego query prepared once.
type OPAAuthorizer struct {
	query rego.PreparedEvalQuery
	log   logrus.FieldLogger
}

// NewOPAAuthorizer compiles policy (DefaultRolePolicy when empty) and prepares the allow query.
func NewOPAAuthorizer(ctx context.Context, policy string, log logrus.FieldLogger) (*OPAAuthorizer, error) {
	if policy == "" {
		policy = DefaultRolePolicy
	}
	compiler, err := ast.CompileModules(map[string]string{"authz.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile authz policy: %w", err)
	}
	pq, err := rego.New(
		rego.Query(authzQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare authz query: %w", err)
	}
	return &OPAAuthorizer{query: pq, log: logging.OrDiscard(log)}, nil
}

// Authorize returns nil when ident may perform action, ErrUnauthenticated when ident is nil and
// ErrUnauthorized otherwise. Evaluation failures deny.
func (a *OPAAuthorizer) Authorize(ctx context.Context, ident *identitydomain.Identity, action string) error {
	if ident == nil {
		return domain.ErrUnauthenticated
	}
	allowed, err := a.eval(ctx, string(ident.Role), action)
	if err != nil {
		a.log.WithError(err).WithFields(logrus.Fields{"action": action, "identity_id": ident.ID}).
			Error("authz evaluation failed")
		return fmt.Errorf("%w: %w", domain.ErrUnauthorized, err)
	}
	if !allowed {
		return domain.ErrUnauthorized
	}
	return nil
}

// HealthCheck verifies the prepared policy evaluates and still grants coaches invitation.issue.
func (a *OPAAuthorizer) HealthCheck(ctx context.Context) error {
	allowed, err := a.eval(ctx, string(identitydomain.RoleCoach), ActionInvitationIssue)
	if err != nil {
		return fmt.Errorf("eval authz policy: %w", err)
	}
	if !allowed {
		return fmt.Errorf("authz policy denies %s for coach", ActionInvitationIssue)
	}
	return nil
}

func (a *OPAAuthorizer) eval(ctx context.Context, role, action string) (bool, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(map[string]interface{}{
		"role":   role,
		"action": action,
	}))
	if err != nil {
		return false, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, fmt.Errorf("policy query returned no result")
	}
	v, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy query returned %T, want bool", rs[0].Expressions[0].Value)
	}
	return v, nil
}
