package domain

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Role is the closed set of account kinds. Anything not recognised parses to RoleUnknown.
type Role string

const (
	RoleUnknown Role = ""
	RoleCoach   Role = "coach"
	RoleAthlete Role = "athlete"
)

// ParseRole maps a stored or user-supplied role string to a Role.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleCoach:
		return RoleCoach
	case RoleAthlete:
		return RoleAthlete
	default:
		return RoleUnknown
	}
}

// Identity is an authenticated principal (coach or athlete). Role is fixed at creation.
type Identity struct {
	ID            string
	Email         string
	Name          string
	Role          Role
	EmailVerified bool
	PasswordHash  string
	CreatedAt     time.Time
}

// Validation errors returned by Validate, ValidateEmail and ValidatePassword.
var (
	ErrEmailRequired   = errors.New("email is required")
	ErrEmailInvalid    = errors.New("invalid email format")
	ErrNameRequired    = errors.New("name is required")
	ErrRoleInvalid     = errors.New("role must be coach or athlete")
	ErrPasswordTooWeak = errors.New("password must be at least 12 characters and mix upper, lower, digit and symbol")
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail trims and lower-cases an address. Emails are compared in this form everywhere.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail checks an already-normalized address.
func ValidateEmail(email string) error {
	if email == "" {
		return ErrEmailRequired
	}
	if !emailPattern.MatchString(email) {
		return ErrEmailInvalid
	}
	return nil
}

// ValidatePassword enforces length >= 12 with at least one upper, lower, digit and symbol.
func ValidatePassword(password string) error {
	if len(password) < 12 {
		return ErrPasswordTooWeak
	}
	var hasUpper, hasLower, hasNumber, hasSymbol bool
	for _, r := range password {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasNumber = true
		default:
			hasSymbol = true
		}
	}
	if !hasUpper || !hasLower || !hasNumber || !hasSymbol {
		return ErrPasswordTooWeak
	}
	return nil
}

// Validate validates the identity for persistence. Returns the first failure.
func (i *Identity) Validate() error {
	if err := ValidateEmail(i.Email); err != nil {
		return err
	}
	if i.Role != RoleCoach && i.Role != RoleAthlete {
		return ErrRoleInvalid
	}
	if i.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}
