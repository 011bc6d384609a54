package domain

import "time"

// Audit actions.
const (
	ActionRegister           = "register"
	ActionSignIn             = "sign_in"
	ActionSignInFailed       = "sign_in_failed"
	ActionSignOut            = "sign_out"
	ActionInvitationIssued   = "invitation_issued"
	ActionInvitationRedeemed = "invitation_redeemed"
)

// AuditLog represents an audit event. IdentityID is empty when no identity is known.
type AuditLog struct {
	ID         string
	IdentityID string
	Action     string
	Resource   string
	IP         string
	Metadata   string
	CreatedAt  time.Time
}
