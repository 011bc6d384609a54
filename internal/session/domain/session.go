package domain

import "time"

// Session is a server-recognized proof of authentication. It is keyed by the SHA-256 of the
// opaque cookie token and never mutated after creation; sign-out deletes it.
type Session struct {
	TokenHash  string
	IdentityID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Expired reports whether the session is no longer valid at now. A session is valid strictly
// before ExpiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
