// Package domain defines invitation tokens and their derived lifecycle states.
package domain

import (
	"errors"
	"time"
)

// DefaultTTL is the validity window of a new invitation.
const DefaultTTL = 7 * 24 * time.Hour

// Lifecycle errors. Each maps to a distinct user-facing reason.
var (
	ErrNotFound         = errors.New("invitation not found")
	ErrAlreadyUsed      = errors.New("invitation already used")
	ErrExpired          = errors.New("invitation expired")
	ErrEmailMismatch    = errors.New("email does not match the invitation")
	ErrEmailTaken       = errors.New("email already registered")
	ErrStoreUnavailable = errors.New("invitation store unavailable")
)

// Status is derived at read time; only Used is stored.
type Status string

const (
	StatusIssued   Status = "issued"
	StatusRedeemed Status = "redeemed"
	StatusExpired  Status = "expired"
)

// Invitation is a single-use, time-limited credential for one athlete registration under a coach.
// The raw token is never stored; TokenHash is the SHA-256 of it.
type Invitation struct {
	ID            string
	TokenHash     string
	IssuerID      string
	IntendedEmail string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Used          bool
	UsedAt        *time.Time
	RedeemedBy    string
}

// Expired reports whether now is past ExpiresAt.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// Status returns the lifecycle state at now. A redeemed invitation stays redeemed after its window closes.
func (i *Invitation) Status(now time.Time) Status {
	switch {
	case i.Used:
		return StatusRedeemed
	case i.Expired(now):
		return StatusExpired
	default:
		return StatusIssued
	}
}

// CheckRedeemable returns ErrAlreadyUsed or ErrExpired when the invitation cannot be redeemed at now.
func (i *Invitation) CheckRedeemable(now time.Time) error {
	if i.Used {
		return ErrAlreadyUsed
	}
	if i.Expired(now) {
		return ErrExpired
	}
	return nil
}
