// Package domain holds the access-decision values produced by the policy engine.
package domain

import "errors"

// Kind is the outcome of an access decision.
type Kind int

const (
	// Allow lets the request through.
	Allow Kind = iota
	// Redirect sends the client to Decision.Target.
	Redirect
	// Deny rejects the request.
	Deny
)

func (k Kind) String() string {
	switch k {
	case Allow:
		return "allow"
	case Redirect:
		return "redirect"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Decision is the per-request routing outcome. Target is set only for Redirect.
type Decision struct {
	Kind   Kind
	Target string
}

// AllowDecision returns an Allow decision.
func AllowDecision() Decision { return Decision{Kind: Allow} }

// RedirectTo returns a Redirect decision to target.
func RedirectTo(target string) Decision { return Decision{Kind: Redirect, Target: target} }

// DenyDecision returns a Deny decision.
func DenyDecision() Decision { return Decision{Kind: Deny} }

var (
	// ErrUnauthenticated means there is no usable identity. Recovered by a redirect to sign-in.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrUnauthorized means the identity's role does not permit the action.
	ErrUnauthorized = errors.New("unauthorized")
)
