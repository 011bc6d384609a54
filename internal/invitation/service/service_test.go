package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/invitation/domain"
	policydomain "coachhub/internal/policy/domain"
	"coachhub/internal/policy/engine"
	"coachhub/internal/security"
)

const strongPassword = "Sprint-Interval-42"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type outcomeLog struct {
	mu  sync.Mutex
	got []string
}

func (o *outcomeLog) InvitationOutcome(op, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.got = append(o.got, op+":"+outcome)
}

type fixture struct {
	store    *memStore
	clock    *testClock
	outcomes *outcomeLog
	svc      *Service
	coach    *identitydomain.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	authz, err := engine.NewOPAAuthorizer(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("NewOPAAuthorizer: %v", err)
	}
	f := &fixture{
		store:    newMemStore(),
		clock:    &testClock{now: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)},
		outcomes: &outcomeLog{},
		coach:    &identitydomain.Identity{ID: "coach-1", Email: "coach@club.com", Name: "Casey Coach", Role: identitydomain.RoleCoach},
	}
	f.store.identities[f.coach.ID] = f.coach
	f.svc = NewService(
		f.store.invitationRepo(), f.store.identityRepo(), f.store, authz, security.NewHasher(4),
		"https://coach.example.com/", 0,
		WithClock(f.clock.Now),
		WithOutcomeRecorder(f.outcomes),
	)
	return f
}

func (f *fixture) issue(t *testing.T, email string) *IssueResult {
	t.Helper()
	res, err := f.svc.Issue(context.Background(), f.coach, email)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return res
}

func TestIssueValidateRedeem_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res := f.issue(t, "a@b.com")
	if len(res.Token) != 43 {
		t.Errorf("token length = %d, want 43 (256 bits base64url)", len(res.Token))
	}
	if res.Link != "https://coach.example.com/sign-up/"+res.Token {
		t.Errorf("Link = %q", res.Link)
	}
	if want := f.clock.Now().Add(7 * 24 * time.Hour); !res.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, want)
	}
	if stored := f.store.invitation(res.Invitation.ID); stored.TokenHash == res.Token || stored.TokenHash != security.HashToken(res.Token) {
		t.Error("only the token hash may be stored")
	}

	d, err := f.svc.Validate(ctx, res.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d.IntendedEmail != "a@b.com" || d.CoachID != "coach-1" || d.CoachName != "Casey Coach" {
		t.Errorf("Details = %+v", d)
	}

	athlete, err := f.svc.Redeem(ctx, res.Token, NewAthlete{Name: "Alex", Password: strongPassword})
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if athlete.Role != identitydomain.RoleAthlete || athlete.Email != "a@b.com" {
		t.Errorf("athlete = %+v", athlete)
	}
	if athlete.PasswordHash != "" {
		t.Error("returned identity must not carry the password hash")
	}
	stored := f.store.invitation(res.Invitation.ID)
	if !stored.Used || stored.RedeemedBy != athlete.ID || stored.UsedAt == nil {
		t.Errorf("stored invitation = %+v", stored)
	}

	_, err = f.svc.Redeem(ctx, res.Token, NewAthlete{Name: "Alex again", Password: strongPassword})
	if !errors.Is(err, domain.ErrAlreadyUsed) {
		t.Fatalf("second Redeem err = %v, want ErrAlreadyUsed", err)
	}
	if _, err := f.svc.Validate(ctx, res.Token); !errors.Is(err, domain.ErrAlreadyUsed) {
		t.Fatalf("Validate after redeem err = %v, want ErrAlreadyUsed", err)
	}
}

func TestValidate_NotFound(t *testing.T) {
	f := newFixture(t)
	for _, token := range []string{"nonexistent", "", "   ", "has spaces in it", strings.Repeat("a", 500)} {
		if _, err := f.svc.Validate(context.Background(), token); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Validate(%q) err = %v, want ErrNotFound", token, err)
		}
	}
}

func TestValidate_IsReadOnly(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "a@b.com")

	var first *Details
	for i := 0; i < 5; i++ {
		d, err := f.svc.Validate(context.Background(), res.Token)
		if err != nil {
			t.Fatalf("Validate #%d: %v", i, err)
		}
		if first == nil {
			first = d
		} else if *d != *first {
			t.Fatalf("Validate #%d = %+v, want %+v", i, d, first)
		}
	}
	if inv := f.store.invitation(res.Invitation.ID); inv.Used {
		t.Fatal("Validate must not mark the invitation used")
	}
	if f.store.markUse != 0 {
		t.Fatalf("MarkUsed called %d times by Validate", f.store.markUse)
	}
}

func TestValidate_MissingIssuerStillValid(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "a@b.com")
	delete(f.store.identities, f.coach.ID)

	d, err := f.svc.Validate(context.Background(), res.Token)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if d.CoachName != "" || d.CoachID != f.coach.ID {
		t.Errorf("Details = %+v", d)
	}
}

func TestExpiredToken_ValidateAndRedeem(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "a@b.com")

	f.clock.Advance(7 * 24 * time.Hour)
	if _, err := f.svc.Validate(context.Background(), res.Token); err != nil {
		t.Fatalf("Validate at the exact expiry instant: %v", err)
	}

	f.clock.Advance(time.Second)
	if _, err := f.svc.Validate(context.Background(), res.Token); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Validate err = %v, want ErrExpired", err)
	}
	_, err := f.svc.Redeem(context.Background(), res.Token, NewAthlete{Name: "Alex", Password: strongPassword})
	if !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("Redeem err = %v, want ErrExpired", err)
	}
	if inv := f.store.invitation(res.Invitation.ID); inv.Used {
		t.Fatal("expired invitation must stay unused")
	}
	if f.store.identityCount() != 1 {
		t.Fatalf("identities = %d, want only the coach", f.store.identityCount())
	}
}

func TestRedeem_ConcurrentRedeemersExactlyOneWins(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "a@b.com")

	const redeemers = 8
	var (
		wg      sync.WaitGroup
		start   = make(chan struct{})
		mu      sync.Mutex
		wins    int
		already int
		other   []error
	)
	for i := 0; i < redeemers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Redeem(context.Background(), res.Token, NewAthlete{Name: "Alex", Password: strongPassword})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrAlreadyUsed):
				already++
			default:
				other = append(other, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || already != redeemers-1 || len(other) != 0 {
		t.Fatalf("wins=%d already=%d other=%v; want 1, %d, none", wins, already, other, redeemers-1)
	}
	if got := f.store.identityCount(); got != 2 {
		t.Fatalf("identities = %d, want coach plus one athlete", got)
	}
}

func TestRedeem_RollsBackWhenIdentityInsertFails(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "taken@b.com")
	f.store.identities["existing"] = &identitydomain.Identity{ID: "existing", Email: "taken@b.com", Role: identitydomain.RoleAthlete}

	_, err := f.svc.Redeem(context.Background(), res.Token, NewAthlete{Name: "Alex", Password: strongPassword})
	if !errors.Is(err, domain.ErrEmailTaken) {
		t.Fatalf("Redeem err = %v, want ErrEmailTaken", err)
	}
	if inv := f.store.invitation(res.Invitation.ID); inv.Used || inv.UsedAt != nil || inv.RedeemedBy != "" {
		t.Fatalf("claim must be rolled back, got %+v", inv)
	}
}

func TestRedeem_InputValidation(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "a@b.com")
	tests := []struct {
		name    string
		in      NewAthlete
		wantErr error
	}{
		{"different email", NewAthlete{Name: "Alex", Email: "other@b.com", Password: strongPassword}, domain.ErrEmailMismatch},
		{"missing name", NewAthlete{Name: "  ", Password: strongPassword}, identitydomain.ErrNameRequired},
		{"weak password", NewAthlete{Name: "Alex", Password: "short"}, identitydomain.ErrPasswordTooWeak},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.svc.Redeem(context.Background(), res.Token, tt.in); !errors.Is(err, tt.wantErr) {
				t.Fatalf("Redeem err = %v, want %v", err, tt.wantErr)
			}
		})
	}
	if inv := f.store.invitation(res.Invitation.ID); inv.Used {
		t.Fatal("rejected input must not consume the invitation")
	}

	athlete, err := f.svc.Redeem(context.Background(), res.Token, NewAthlete{Name: "Alex", Email: " A@B.com ", Password: strongPassword})
	if err != nil {
		t.Fatalf("Redeem with matching email in other case: %v", err)
	}
	if athlete.Email != "a@b.com" {
		t.Errorf("Email = %q", athlete.Email)
	}
}

func TestIssue_Authorization(t *testing.T) {
	f := newFixture(t)
	athlete := &identitydomain.Identity{ID: "a-1", Role: identitydomain.RoleAthlete}

	if _, err := f.svc.Issue(context.Background(), athlete, "x@b.com"); !errors.Is(err, policydomain.ErrUnauthorized) {
		t.Fatalf("athlete Issue err = %v, want ErrUnauthorized", err)
	}
	if _, err := f.svc.Issue(context.Background(), nil, "x@b.com"); !errors.Is(err, policydomain.ErrUnauthenticated) {
		t.Fatalf("anonymous Issue err = %v, want ErrUnauthenticated", err)
	}
	if _, err := f.svc.Issue(context.Background(), f.coach, "not-an-email"); !errors.Is(err, identitydomain.ErrEmailInvalid) {
		t.Fatalf("bad email err = %v, want ErrEmailInvalid", err)
	}
	if len(f.store.invitations) != 0 {
		t.Fatal("rejected issuance must not persist")
	}
}

func TestIssue_TokenGeneratorFailure(t *testing.T) {
	f := newFixture(t)
	f.svc.newToken = func() (string, error) { return "", errors.New("entropy exhausted") }
	if _, err := f.svc.Issue(context.Background(), f.coach, "a@b.com"); err == nil {
		t.Fatal("expected error")
	}
}

func TestStoreUnavailable(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "a@b.com")

	f.store.getErr = errors.New("connection reset")
	if _, err := f.svc.Validate(context.Background(), res.Token); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Validate err = %v, want ErrStoreUnavailable", err)
	}
	f.store.getErr = nil

	f.store.txErr = errors.New("serialization failure")
	if _, err := f.svc.Redeem(context.Background(), res.Token, NewAthlete{Name: "Alex", Password: strongPassword}); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Redeem err = %v, want ErrStoreUnavailable", err)
	}
}

func TestListByIssuer(t *testing.T) {
	f := newFixture(t)
	redeemed := f.issue(t, "r@b.com")
	f.clock.Advance(time.Minute)
	f.issue(t, "open@b.com")
	if _, err := f.svc.Redeem(context.Background(), redeemed.Token, NewAthlete{Name: "R", Password: strongPassword}); err != nil {
		t.Fatalf("Redeem: %v", err)
	}

	list, err := f.svc.ListByIssuer(context.Background(), f.coach)
	if err != nil {
		t.Fatalf("ListByIssuer: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	if list[0].IntendedEmail != "open@b.com" || list[0].Status != domain.StatusIssued {
		t.Errorf("list[0] = %+v", list[0])
	}
	if list[1].Status != domain.StatusRedeemed {
		t.Errorf("list[1] = %+v", list[1])
	}

	f.clock.Advance(8 * 24 * time.Hour)
	list, _ = f.svc.ListByIssuer(context.Background(), f.coach)
	if list[0].Status != domain.StatusExpired || list[1].Status != domain.StatusRedeemed {
		t.Errorf("statuses after expiry = %q, %q", list[0].Status, list[1].Status)
	}

	athlete := &identitydomain.Identity{ID: "a-1", Role: identitydomain.RoleAthlete}
	if _, err := f.svc.ListByIssuer(context.Background(), athlete); !errors.Is(err, policydomain.ErrUnauthorized) {
		t.Fatalf("athlete ListByIssuer err = %v", err)
	}
}

func TestOutcomesRecorded(t *testing.T) {
	f := newFixture(t)
	res := f.issue(t, "a@b.com")
	_, _ = f.svc.Validate(context.Background(), "nonexistent")
	_, _ = f.svc.Redeem(context.Background(), res.Token, NewAthlete{Name: "A", Password: strongPassword})
	_, _ = f.svc.Redeem(context.Background(), res.Token, NewAthlete{Name: "A", Password: strongPassword})

	want := []string{"issue:ok", "validate:not_found", "redeem:ok", "redeem:already_used"}
	if strings.Join(f.outcomes.got, ",") != strings.Join(want, ",") {
		t.Errorf("outcomes = %v, want %v", f.outcomes.got, want)
	}
}
