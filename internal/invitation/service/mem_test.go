package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	identitydomain "coachhub/internal/identity/domain"
	identityrepo "coachhub/internal/identity/repository"
	"coachhub/internal/invitation/domain"
	"coachhub/internal/invitation/repository"
)

// memStore emulates a transactional store. InTx holds the store lock for the whole transaction and
// undoes its writes when fn fails, which matches the row-lock behavior of the conditional update.
type memStore struct {
	mu          sync.Mutex
	identities  map[string]*identitydomain.Identity
	invitations map[string]*domain.Invitation

	getErr  error
	txErr   error
	markUse int
}

func newMemStore() *memStore {
	return &memStore{
		identities:  make(map[string]*identitydomain.Identity),
		invitations: make(map[string]*domain.Invitation),
	}
}

type memIdentities struct {
	s    *memStore
	inTx bool
	undo *[]func()
}

type memInvitations struct {
	s    *memStore
	inTx bool
	undo *[]func()
}

func (s *memStore) identityRepo() memIdentities    { return memIdentities{s: s} }
func (s *memStore) invitationRepo() memInvitations { return memInvitations{s: s} }

func (s *memStore) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (r memIdentities) GetByID(_ context.Context, id string) (*identitydomain.Identity, error) {
	defer r.s.lock(r.inTx)()
	if i, ok := r.s.identities[id]; ok {
		c := *i
		return &c, nil
	}
	return nil, nil
}

func (r memIdentities) GetByEmail(_ context.Context, email string) (*identitydomain.Identity, error) {
	defer r.s.lock(r.inTx)()
	for _, i := range r.s.identities {
		if i.Email == email {
			c := *i
			return &c, nil
		}
	}
	return nil, nil
}

func (r memIdentities) Create(_ context.Context, i *identitydomain.Identity) error {
	defer r.s.lock(r.inTx)()
	for _, existing := range r.s.identities {
		if existing.Email == i.Email {
			return identityrepo.ErrEmailTaken
		}
	}
	c := *i
	r.s.identities[i.ID] = &c
	if r.undo != nil {
		*r.undo = append(*r.undo, func() { delete(r.s.identities, i.ID) })
	}
	return nil
}

func (r memInvitations) Create(_ context.Context, inv *domain.Invitation) error {
	defer r.s.lock(r.inTx)()
	for _, existing := range r.s.invitations {
		if existing.TokenHash == inv.TokenHash {
			return errors.New("duplicate token hash")
		}
	}
	c := *inv
	r.s.invitations[inv.ID] = &c
	return nil
}

func (r memInvitations) GetByTokenHash(_ context.Context, tokenHash string) (*domain.Invitation, error) {
	defer r.s.lock(r.inTx)()
	if r.s.getErr != nil {
		return nil, r.s.getErr
	}
	for _, inv := range r.s.invitations {
		if inv.TokenHash == tokenHash {
			c := *inv
			return &c, nil
		}
	}
	return nil, nil
}

func (r memInvitations) ListByIssuer(_ context.Context, issuerID string) ([]*domain.Invitation, error) {
	defer r.s.lock(r.inTx)()
	var out []*domain.Invitation
	for _, inv := range r.s.invitations {
		if inv.IssuerID == issuerID {
			c := *inv
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memInvitations) MarkUsed(_ context.Context, id, redeemedBy string, now time.Time) (bool, error) {
	defer r.s.lock(r.inTx)()
	r.s.markUse++
	inv, ok := r.s.invitations[id]
	if !ok || inv.Used || now.After(inv.ExpiresAt) {
		return false, nil
	}
	prev := *inv
	at := now
	inv.Used, inv.UsedAt, inv.RedeemedBy = true, &at, redeemedBy
	if r.undo != nil {
		*r.undo = append(*r.undo, func() { *inv = prev })
	}
	return true, nil
}

func (s *memStore) InTx(_ context.Context, fn func(identityrepo.Repository, repository.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txErr != nil {
		return s.txErr
	}
	var undo []func()
	err := fn(memIdentities{s: s, inTx: true, undo: &undo}, memInvitations{s: s, inTx: true, undo: &undo})
	if err != nil {
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}
	return err
}

func (s *memStore) invitation(id string) domain.Invitation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.invitations[id]
}

func (s *memStore) identityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.identities)
}

var (
	_ identityrepo.Repository = memIdentities{}
	_ repository.Repository   = memInvitations{}
	_ repository.TxRunner     = (*memStore)(nil)
)
