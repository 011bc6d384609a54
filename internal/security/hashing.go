package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies passwords using bcrypt. Callers must not log or
// persist plaintext passwords.
type Hasher struct {
	Cost int
	// burnHash is a hash of a throwaway password, compared against on unknown accounts
	// so sign-in latency does not reveal which emails are registered.
	burnHash []byte
}

// NewHasher returns a Hasher with the given bcrypt cost clamped to 4–31. Zero selects bcrypt's default.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	burn, _ := bcrypt.GenerateFromPassword([]byte("coachhub-burn-password"), cost)
	return &Hasher{Cost: cost, burnHash: burn}
}

// Hash produces a bcrypt hash of password suitable for storage.
func (h *Hasher) Hash(password []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(password, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies password against the stored hash. Returns nil if they match;
// bcrypt.ErrMismatchedHashAndPassword or a hash-format error otherwise.
func (h *Hasher) Compare(hash string, password []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), password)
}

// Burn spends the same work as a Compare against a real hash and always reports a mismatch.
func (h *Hasher) Burn(password []byte) error {
	if len(h.burnHash) == 0 {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	_ = bcrypt.CompareHashAndPassword(h.burnHash, password)
	return bcrypt.ErrMismatchedHashAndPassword
}
