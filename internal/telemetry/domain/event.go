// Package domain defines auth and invitation events exported as telemetry.
package domain

import "time"

// EventType names an auth or invitation lifecycle event.
type EventType string

const (
	EventRegister           EventType = "register"
	EventSignIn             EventType = "sign_in"
	EventSignInFailed       EventType = "sign_in_failed"
	EventSignOut            EventType = "sign_out"
	EventInvitationIssued   EventType = "invitation_issued"
	EventInvitationRedeemed EventType = "invitation_redeemed"
	EventInvitationRejected EventType = "invitation_rejected"
)

// Event is one telemetry record. IdentityID may be empty (e.g. failed sign-in).
type Event struct {
	Type       EventType
	IdentityID string
	Source     string
	Attributes map[string]string
	CreatedAt  time.Time
}
