// Package service implements the invitation lifecycle: issue, validate and redeem.
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
	"coachhub/internal/invitation/domain"
	"coachhub/internal/invitation/repository"
	"coachhub/internal/logging"
	"coachhub/internal/policy/engine"
	"coachhub/internal/security"
	"coachhub/internal/telemetry"
	telemetrydomain "coachhub/internal/telemetry/domain"
)

// Authorizer decides whether an identity may perform an action.
type Authorizer interface {
	Authorize(ctx context.Context, ident *identitydomain.Identity, action string) error
}

// PasswordHasher hashes new athlete passwords.
type PasswordHasher interface {
	Hash(password []byte) (string, error)
}

// OutcomeRecorder counts lifecycle outcomes per operation.
type OutcomeRecorder interface {
	InvitationOutcome(op, outcome string)
}

// IssueResult is returned once at issuance. Token is not recoverable afterwards.
type IssueResult struct {
	Invitation *domain.Invitation
	Token      string
	Link       string
	ExpiresAt  time.Time
}

// Details is what the sign-up page shows before the athlete commits.
type Details struct {
	InvitationID  string
	CoachID       string
	CoachName     string
	IntendedEmail string
	ExpiresAt     time.Time
}

// NewAthlete is the registration data submitted with a redemption. Email may be empty; it then
// defaults to the invitation's intended email.
type NewAthlete struct {
	Name     string
	Email    string
	Password string
}

// Listed is an invitation as shown on the coach dashboard.
type Listed struct {
	ID            string
	IntendedEmail string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	Status        domain.Status
	UsedAt        *time.Time
	RedeemedBy    string
}

// Service is the invitation lifecycle manager. It holds no mutable state; concurrent redemptions
// are arbitrated by the store's conditional update.
type Service struct {
	invitations repository.Repository
	identities  identityrepo.Repository
	tx          repository.TxRunner
	authz       Authorizer
	hasher      PasswordHasher
	baseURL     string
	ttl         time.Duration

	now      func() time.Time
	newID    func() string
	newToken func() (string, error)
	log      logrus.FieldLogger
	emitter  telemetry.EventEmitter
	audit    audit.AuditLogger
	outcomes OutcomeRecorder
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithIDGenerator overrides record ID generation.
func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

// WithTokenGenerator overrides token generation.
func WithTokenGenerator(f func() (string, error)) Option { return func(s *Service) { s.newToken = f } }

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option { return func(s *Service) { s.log = l } }

// WithEmitter sets the telemetry emitter.
func WithEmitter(e telemetry.EventEmitter) Option { return func(s *Service) { s.emitter = e } }

// WithAuditLogger sets the audit logger.
func WithAuditLogger(a audit.AuditLogger) Option { return func(s *Service) { s.audit = a } }

// WithOutcomeRecorder sets the metrics sink.
func WithOutcomeRecorder(r OutcomeRecorder) Option { return func(s *Service) { s.outcomes = r } }

// NewService returns an invitation service. Links are built as <baseURL>/sign-up/<token>; a
// non-positive ttl selects domain.DefaultTTL.
func NewService(
	invitations repository.Repository,
	identities identityrepo.Repository,
	tx repository.TxRunner,
	authz Authorizer,
	hasher PasswordHasher,
	baseURL string,
	ttl time.Duration,
	opts ...Option,
) *Service {
	if ttl <= 0 {
		ttl = domain.DefaultTTL
	}
	s := &Service{
		invitations: invitations,
		identities:  identities,
		tx:          tx,
		authz:       authz,
		hasher:      hasher,
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		ttl:         ttl,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		newToken:    security.NewOpaqueToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logging.OrDiscard(s.log)
	return s
}

// Issue creates an invitation for email on behalf of issuer, who must be a coach.
func (s *Service) Issue(ctx context.Context, issuer *identitydomain.Identity, email string) (res *IssueResult, err error) {
	defer func() { s.record("issue", err) }()

	if err := s.authz.Authorize(ctx, issuer, engine.ActionInvitationIssue); err != nil {
		return nil, err
	}
	email = identitydomain.NormalizeEmail(email)
	if err := identitydomain.ValidateEmail(email); err != nil {
		return nil, err
	}

	token, err := s.newToken()
	if err != nil {
		return nil, fmt.Errorf("generate invitation token: %w", err)
	}
	now := s.now().UTC()
	inv := &domain.Invitation{
		ID:            s.newID(),
		TokenHash:     security.HashToken(token),
		IssuerID:      issuer.ID,
		IntendedEmail: email,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
	}
	if err := s.invitations.Create(ctx, inv); err != nil {
		s.log.WithError(err).WithField("issuer_id", issuer.ID).Error("invitation: create failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.log.WithFields(logrus.Fields{"invitation_id": inv.ID, "issuer_id": issuer.ID}).Info("invitation issued")
	s.logAudit(ctx, issuer.ID, auditdomain.ActionInvitationIssued, inv.ID)
	s.emit(telemetrydomain.EventInvitationIssued, issuer.ID, map[string]string{"invitation_id": inv.ID})

	return &IssueResult{
		Invitation: inv,
		Token:      token,
		Link:       s.Link(token),
		ExpiresAt:  inv.ExpiresAt,
	}, nil
}

// Link returns the shareable redemption link for token.
func (s *Service) Link(token string) string {
	return s.baseURL + "/sign-up/" + token
}

// Validate reports whether token is redeemable and returns what the sign-up page shows. It never
// changes the invitation.
func (s *Service) Validate(ctx context.Context, token string) (d *Details, err error) {
	defer func() { s.record("validate", err) }()

	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := inv.CheckRedeemable(s.now()); err != nil {
		return nil, err
	}

	d = &Details{
		InvitationID:  inv.ID,
		CoachID:       inv.IssuerID,
		IntendedEmail: inv.IntendedEmail,
		ExpiresAt:     inv.ExpiresAt,
	}
	coach, err := s.identities.GetByID(ctx, inv.IssuerID)
	if err != nil {
		s.log.WithError(err).WithField("invitation_id", inv.ID).Error("invitation: issuer lookup failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if coach != nil {
		d.CoachName = coach.Name
	}
	return d, nil
}

// errClaimLost means the conditional update matched no row inside the redemption transaction.
var errClaimLost = errors.New("invitation claim lost")

// Redeem registers a new athlete with token. The token claim and the identity insert commit
// together or not at all; of any number of concurrent redeemers exactly one succeeds and the rest
// get ErrAlreadyUsed.
func (s *Service) Redeem(ctx context.Context, token string, in NewAthlete) (ident *identitydomain.Identity, err error) {
	defer func() {
		s.record("redeem", err)
		if err != nil && ident == nil {
			s.emit(telemetrydomain.EventInvitationRejected, "", map[string]string{"reason": outcomeOf(err)})
		}
	}()

	inv, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if err := inv.CheckRedeemable(now); err != nil {
		return nil, err
	}

	email := inv.IntendedEmail
	if given := identitydomain.NormalizeEmail(in.Email); given != "" && given != email {
		return nil, domain.ErrEmailMismatch
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, identitydomain.ErrNameRequired
	}
	if err := identitydomain.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := s.hasher.Hash([]byte(in.Password))
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	athlete := &identitydomain.Identity{
		ID:           s.newID(),
		Email:        email,
		Name:         name,
		Role:         identitydomain.RoleAthlete,
		PasswordHash: hash,
		CreatedAt:    now,
	}

	err = s.tx.InTx(ctx, func(identities identityrepo.Repository, invitations repository.Repository) error {
		// Claim first: the row lock makes a concurrent redeemer wait here and then match nothing.
		ok, err := invitations.MarkUsed(ctx, inv.ID, athlete.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}
		return identities.Create(ctx, athlete)
	})
	switch {
	case err == nil:
	case errors.Is(err, errClaimLost):
		if inv.Expired(s.now()) {
			return nil, domain.ErrExpired
		}
		return nil, domain.ErrAlreadyUsed
	case errors.Is(err, identityrepo.ErrEmailTaken):
		return nil, domain.ErrEmailTaken
	default:
		s.log.WithError(err).WithField("invitation_id", inv.ID).Error("invitation: redeem transaction failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}

	s.log.WithFields(logrus.Fields{"invitation_id": inv.ID, "identity_id": athlete.ID}).Info("invitation redeemed")
	s.logAudit(ctx, athlete.ID, auditdomain.ActionInvitationRedeemed, inv.ID)
	s.emit(telemetrydomain.EventInvitationRedeemed, athlete.ID, map[string]string{
		"invitation_id": inv.ID,
		"issuer_id":     inv.IssuerID,
	})
	athlete.PasswordHash = ""
	return athlete, nil
}

// ListByIssuer returns the coach's invitations, newest first, with their status at call time.
func (s *Service) ListByIssuer(ctx context.Context, issuer *identitydomain.Identity) ([]Listed, error) {
	if err := s.authz.Authorize(ctx, issuer, engine.ActionInvitationList); err != nil {
		return nil, err
	}
	list, err := s.invitations.ListByIssuer(ctx, issuer.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	now := s.now()
	out := make([]Listed, 0, len(list))
	for _, inv := range list {
		out = append(out, Listed{
			ID:            inv.ID,
			IntendedEmail: inv.IntendedEmail,
			CreatedAt:     inv.CreatedAt,
			ExpiresAt:     inv.ExpiresAt,
			Status:        inv.Status(now),
			UsedAt:        inv.UsedAt,
			RedeemedBy:    inv.RedeemedBy,
		})
	}
	return out, nil
}

// lookup maps a raw token to its stored invitation. Malformed tokens are NotFound without a store call.
func (s *Service) lookup(ctx context.Context, token string) (*domain.Invitation, error) {
	token = strings.TrimSpace(token)
	if !security.ValidTokenFormat(token) {
		return nil, domain.ErrNotFound
	}
	inv, err := s.invitations.GetByTokenHash(ctx, security.HashToken(token))
	if err != nil {
		s.log.WithError(err).Error("invitation: lookup failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	if inv == nil {
		return nil, domain.ErrNotFound
	}
	return inv, nil
}

func (s *Service) record(op string, err error) {
	if s.outcomes != nil {
		s.outcomes.InvitationOutcome(op, outcomeOf(err))
	}
}

func (s *Service) logAudit(ctx context.Context, identityID, action, invitationID string) {
	if s.audit != nil {
		s.audit.LogEvent(ctx, identityID, action, "invitation", invitationID)
	}
}

func (s *Service) emit(t telemetrydomain.EventType, identityID string, attrs map[string]string) {
	telemetry.EmitAsync(s.emitter, &telemetrydomain.Event{
		Type:       t,
		IdentityID: identityID,
		Source:     "invitation",
		Attributes: attrs,
	}, s.log)
}

// outcomeOf labels err for metrics and telemetry.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrAlreadyUsed):
		return "already_used"
	case errors.Is(err, domain.ErrExpired):
		return "expired"
	case errors.Is(err, domain.ErrEmailMismatch), errors.Is(err, domain.ErrEmailTaken):
		return "email_conflict"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "rejected"
	}
}
