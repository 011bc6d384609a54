package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"coachhub/internal/logging"
	"coachhub/internal/platform/httpx"
)

const (
	rateLimiterSweepInterval = 5 * time.Minute
	redisRateLimitPrefix     = "coachhub:ratelimit:"
	redisRateLimitTimeout    = 250 * time.Millisecond
)

// RateLimiter is a fixed-window counter keyed by an arbitrary string.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) RateDecision
	Close()
}

// RateDecision is the result of one Allow call.
type RateDecision struct {
	Allowed   bool
	Count     int
	WindowEnd time.Time
}

// RateLimitRecorder counts rejected requests.
type RateLimitRecorder interface {
	RateLimited(scope string)
}

// RateLimit rejects requests with 429 once a client IP exceeds limit requests per window within
// scope. A nil limiter or non-positive limit disables it.
func RateLimit(limiter RateLimiter, scope string, limit int, window time.Duration, rec RateLimitRecorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}
			key := scope + ":ip:" + requestClientIP(r)
			d := limiter.Allow(r.Context(), key, limit, window)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			remaining := limit - d.Count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			if !d.Allowed {
				if !d.WindowEnd.IsZero() {
					secs := int(time.Until(d.WindowEnd).Seconds()) + 1
					w.Header().Set("Retry-After", strconv.Itoa(secs))
				}
				if rec != nil {
					rec.RateLimited(scope)
				}
				httpx.WriteError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type memoryRateLimiter struct {
	mu      sync.Mutex
	entries map[string]rateState
	now     func() time.Time
	stopCh  chan struct{}
	once    sync.Once
}

type rateState struct {
	count     int
	windowEnd time.Time
}

// NewMemoryRateLimiter returns a process-local limiter. Expired windows are swept periodically
// until Close.
func NewMemoryRateLimiter() RateLimiter {
	rl := newMemoryRateLimiter(time.Now)
	go rl.sweepLoop()
	return rl
}

func newMemoryRateLimiter(now func() time.Time) *memoryRateLimiter {
	return &memoryRateLimiter{
		entries: make(map[string]rateState),
		now:     now,
		stopCh:  make(chan struct{}),
	}
}

func (rl *memoryRateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) RateDecision {
	if limit <= 0 {
		return RateDecision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	now := rl.now()
	rl.mu.Lock()
	defer rl.mu.Unlock()

	state, ok := rl.entries[key]
	if !ok || !now.Before(state.windowEnd) {
		state = rateState{count: 1, windowEnd: now.Add(window)}
		rl.entries[key] = state
		return RateDecision{Allowed: true, Count: state.count, WindowEnd: state.windowEnd}
	}
	if state.count >= limit {
		return RateDecision{Allowed: false, Count: state.count, WindowEnd: state.windowEnd}
	}
	state.count++
	rl.entries[key] = state
	return RateDecision{Allowed: true, Count: state.count, WindowEnd: state.windowEnd}
}

func (rl *memoryRateLimiter) sweepLoop() {
	ticker := time.NewTicker(rateLimiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup(rl.now())
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *memoryRateLimiter) cleanup(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, state := range rl.entries {
		if !now.Before(state.windowEnd) {
			delete(rl.entries, key)
		}
	}
}

func (rl *memoryRateLimiter) Close() {
	rl.once.Do(func() { close(rl.stopCh) })
}

type redisRateLimiter struct {
	client  redis.Cmdable
	log     logrus.FieldLogger
	prefix  string
	timeout time.Duration
}

// NewRedisRateLimiter returns a limiter shared by every instance using the same Redis. Redis
// errors let the request through; the limiter slows enumeration and never gates availability.
func NewRedisRateLimiter(client redis.Cmdable, log logrus.FieldLogger) RateLimiter {
	return &redisRateLimiter{
		client:  client,
		log:     logging.OrDiscard(log),
		prefix:  redisRateLimitPrefix,
		timeout: redisRateLimitTimeout,
	}
}

func (rl *redisRateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) RateDecision {
	if limit <= 0 {
		return RateDecision{Allowed: true}
	}
	if window <= 0 {
		window = time.Minute
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rl.timeout)
	defer cancel()

	redisKey := rl.prefix + key
	counter, err := rl.client.Incr(ctx, redisKey).Result()
	if err != nil {
		rl.log.WithError(err).WithField("op", "incr").Warn("redis rate limiter error")
		return RateDecision{Allowed: true}
	}
	if counter == 1 {
		if err := rl.client.Expire(ctx, redisKey, window).Err(); err != nil {
			rl.log.WithError(err).WithField("op", "expire").Warn("redis rate limiter error")
		}
	}
	ttl, err := rl.client.TTL(ctx, redisKey).Result()
	switch {
	case err != nil:
		ttl = window
	case ttl < 0:
		// A failed Expire above would otherwise leave the key counting forever.
		_ = rl.client.Expire(ctx, redisKey, window).Err()
		ttl = window
	}
	return RateDecision{
		Allowed:   int(counter) <= limit,
		Count:     int(counter),
		WindowEnd: time.Now().Add(ttl),
	}
}

// Close is a no-op; the Redis client is owned by the caller.
func (rl *redisRateLimiter) Close() {}
