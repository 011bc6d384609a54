package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coachhub/internal/audit"
	auditdomain "coachhub/internal/audit/domain"
	identitydomain "coachhub/internal/identity/domain"
	identityrepo "coachhub/internal/identity/repository"
	"coachhub/internal/logging"
	"coachhub/internal/security"
	sessiondomain "coachhub/internal/session/domain"
	sessionrepo "coachhub/internal/session/repository"
	"coachhub/internal/telemetry"
	telemetrydomain "coachhub/internal/telemetry/domain"
)

// Sentinel errors for auth service; handlers map them to HTTP statuses.
var (
	ErrEmailAlreadyRegistered = errors.New("email already registered")
	ErrInvalidCredentials     = errors.New("invalid credentials")
)

// AuthResult is a freshly created session. Token is the raw cookie value and is not stored.
type AuthResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  *identitydomain.Identity
}

// AuthService implements coach registration, password sign-in and sign-out over opaque sessions.
type AuthService struct {
	identities identityrepo.Repository
	sessions   sessionrepo.Repository
	hasher     *security.Hasher
	sessionTTL time.Duration

	now      func() time.Time
	newToken func() (string, error)
	audit    audit.AuditLogger
	emitter  telemetry.EventEmitter
	log      logrus.FieldLogger
}

// Option configures optional AuthService collaborators.
type Option func(*AuthService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *AuthService) { s.now = now } }

// WithAuditLogger sets the audit logger.
func WithAuditLogger(a audit.AuditLogger) Option { return func(s *AuthService) { s.audit = a } }

// WithEmitter sets the telemetry emitter.
func WithEmitter(e telemetry.EventEmitter) Option { return func(s *AuthService) { s.emitter = e } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *AuthService) { s.log = l } }

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	identities identityrepo.Repository,
	sessions sessionrepo.Repository,
	hasher *security.Hasher,
	sessionTTL time.Duration,
	opts ...Option,
) *AuthService {
	s := &AuthService{
		identities: identities,
		sessions:   sessions,
		hasher:     hasher,
		sessionTTL: sessionTTL,
		now:        time.Now,
		newToken:   security.NewOpaqueToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDiscard(s.log)
	return s
}

// Register creates a coach account. Athletes are created only through invitation redemption.
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*identitydomain.Identity, error) {
	email = identitydomain.NormalizeEmail(email)
	if err := identitydomain.ValidateEmail(email); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, identitydomain.ErrNameRequired
	}
	if err := identitydomain.ValidatePassword(password); err != nil {
		return nil, err
	}
	existing, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrEmailAlreadyRegistered
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return nil, err
	}
	ident := &identitydomain.Identity{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		Role:         identitydomain.RoleCoach,
		PasswordHash: hashed,
		CreatedAt:    s.now().UTC(),
	}
	if err := ident.Validate(); err != nil {
		return nil, err
	}
	if err := s.identities.Create(ctx, ident); err != nil {
		if errors.Is(err, identityrepo.ErrEmailTaken) {
			return nil, ErrEmailAlreadyRegistered
		}
		return nil, err
	}
	s.record(ctx, ident.ID, auditdomain.ActionRegister, telemetrydomain.EventRegister)
	ident.PasswordHash = ""
	return ident, nil
}

// SignIn checks email and password and opens a session. Unknown emails and wrong passwords are
// indistinguishable, including in timing.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*AuthResult, error) {
	email = identitydomain.NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	ident, err := s.identities.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.PasswordHash == "" {
		_ = s.hasher.Burn([]byte(password))
		s.record(ctx, "", auditdomain.ActionSignInFailed, telemetrydomain.EventSignInFailed)
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(ident.PasswordHash, []byte(password)); err != nil {
		s.record(ctx, ident.ID, auditdomain.ActionSignInFailed, telemetrydomain.EventSignInFailed)
		return nil, ErrInvalidCredentials
	}
	res, err := s.StartSession(ctx, ident)
	if err != nil {
		return nil, err
	}
	s.record(ctx, ident.ID, auditdomain.ActionSignIn, telemetrydomain.EventSignIn)
	return res, nil
}

// StartSession opens a session for an already authenticated identity (e.g. right after sign-up).
func (s *AuthService) StartSession(ctx context.Context, ident *identitydomain.Identity) (*AuthResult, error) {
	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}
	now := s.now().UTC()
	sess := &sessiondomain.Session{
		TokenHash:  security.HashToken(token),
		IdentityID: ident.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, sess, ident); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	out := *ident
	out.PasswordHash = ""
	return &AuthResult{Token: token, ExpiresAt: sess.ExpiresAt, Identity: &out}, nil
}

// SignOut deletes the session behind token. Unknown or malformed tokens are a no-op.
func (s *AuthService) SignOut(ctx context.Context, token, identityID string) error {
	token = strings.TrimSpace(token)
	if !security.ValidTokenFormat(token) {
		return nil
	}
	if err := s.sessions.Delete(ctx, security.HashToken(token)); err != nil {
		return err
	}
	s.record(ctx, identityID, auditdomain.ActionSignOut, telemetrydomain.EventSignOut)
	return nil
}

func (s *AuthService) record(ctx context.Context, identityID, action string, event telemetrydomain.EventType) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, identityID, action, "session", "")
	}
	telemetry.EmitAsync(s.emitter, &telemetrydomain.Event{
		Type:       event,
		IdentityID: identityID,
		Source:     "auth",
	}, s.log)
}
