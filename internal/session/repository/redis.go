package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	identitydomain "coachhub/internal/identity/domain"
	"coachhub/internal/session/domain"
)

const redisKeyPrefix = "coachhub:session:"

// RedisRepository keeps sessions in Redis with a TTL matching the session expiry. The owner's
// identity is stored with the session so Lookup is a single GET.
type RedisRepository struct {
	client redis.Cmdable
	now    func() time.Time
}

var _ Repository = (*RedisRepository)(nil)

// NewRedisRepository returns a session repository backed by client.
func NewRedisRepository(client redis.Cmdable) *RedisRepository {
	return &RedisRepository{client: client, now: time.Now}
}

type redisSession struct {
	IdentityID string        `json:"identity_id"`
	CreatedAt  time.Time     `json:"created_at"`
	ExpiresAt  time.Time     `json:"expires_at"`
	Identity   redisIdentity `json:"identity"`
}

type redisIdentity struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          string    `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
}

// Create stores the session until its expiry. ident is required.
func (r *RedisRepository) Create(ctx context.Context, s *domain.Session, ident *identitydomain.Identity) error {
	if ident == nil {
		return errors.New("session: identity is required for redis sessions")
	}
	ttl := s.ExpiresAt.Sub(r.now())
	if ttl <= 0 {
		return errors.New("session: already expired")
	}
	payload, err := encodeRedisSession(s, ident)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, redisKeyPrefix+s.TokenHash, payload, ttl).Err()
}

// Lookup returns the session and identity for tokenHash, or nils if the key is missing.
func (r *RedisRepository) Lookup(ctx context.Context, tokenHash string) (*domain.Session, *identitydomain.Identity, error) {
	raw, err := r.client.Get(ctx, redisKeyPrefix+tokenHash).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	return decodeRedisSession(tokenHash, raw)
}

// Delete removes the session key.
func (r *RedisRepository) Delete(ctx context.Context, tokenHash string) error {
	return r.client.Del(ctx, redisKeyPrefix+tokenHash).Err()
}

func encodeRedisSession(s *domain.Session, ident *identitydomain.Identity) ([]byte, error) {
	return json.Marshal(redisSession{
		IdentityID: ident.ID,
		CreatedAt:  s.CreatedAt,
		ExpiresAt:  s.ExpiresAt,
		Identity: redisIdentity{
			ID:            ident.ID,
			Email:         ident.Email,
			Name:          ident.Name,
			Role:          string(ident.Role),
			EmailVerified: ident.EmailVerified,
			CreatedAt:     ident.CreatedAt,
		},
	})
}

func decodeRedisSession(tokenHash string, raw []byte) (*domain.Session, *identitydomain.Identity, error) {
	var rs redisSession
	if err := json.Unmarshal(raw, &rs); err != nil {
		return nil, nil, fmt.Errorf("session: decode: %w", err)
	}
	if rs.IdentityID == "" || rs.Identity.ID != rs.IdentityID {
		return nil, nil, errors.New("session: corrupt record")
	}
	s := &domain.Session{
		TokenHash:  tokenHash,
		IdentityID: rs.IdentityID,
		CreatedAt:  rs.CreatedAt,
		ExpiresAt:  rs.ExpiresAt,
	}
	ident := &identitydomain.Identity{
		ID:            rs.Identity.ID,
		Email:         rs.Identity.Email,
		Name:          rs.Identity.Name,
		Role:          identitydomain.ParseRole(rs.Identity.Role),
		EmailVerified: rs.Identity.EmailVerified,
		CreatedAt:     rs.Identity.CreatedAt,
	}
	return s, ident, nil
}
