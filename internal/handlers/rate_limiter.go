package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/repairdesk/api/internal/platform/httpx"
	"github.com/repairdesk/api/internal/platform/requestctx"
)

// idleLimiterTTL is how long an actor's bucket survives without traffic before it is dropped.
const idleLimiterTTL = 10 * time.Minute

type rateLimiter interface {
	Allow(key string) bool
}

type actorBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// actorRateLimiter keeps one token bucket per actor. A bucket holds limit tokens and refills at
// limit per window, so a counter clerk can open a burst of tickets and then settles to the
// configured pace. Buckets are process local.
type actorRateLimiter struct {
	every rate.Limit
	burst int
	clock func() time.Time

	mu        sync.Mutex
	buckets   map[string]*actorBucket
	lastSweep time.Time
}

func newActorRateLimiter(limit int, window time.Duration, clock func() time.Time) rateLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &actorRateLimiter{
		every:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		clock:   clock,
		buckets: make(map[string]*actorBucket),
	}
}

func (l *actorRateLimiter) Allow(key string) bool {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "anonymous"
	}
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.lastSweep) >= idleLimiterTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) >= idleLimiterTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	bucket, ok := l.buckets[key]
	if !ok {
		bucket = &actorBucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[key] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.AllowN(now, 1)
}

// rateLimitByActor answers 429 once the acting staff member runs out of tokens. A nil limiter
// disables the check.
func rateLimitByActor(limiter rateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := requestctx.ActorFrom(r.Context())
			if !limiter.Allow(actor.ID) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
