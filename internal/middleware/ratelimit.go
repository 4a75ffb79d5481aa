package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jwebster45206/companion-engine/pkg/storage"
)

const (
	limiterIdleTTL    = 10 * time.Minute
	limiterSweepEvery = time.Minute
)

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles requests per user id. The user id is read from the
// {user} path wildcard, so it must wrap handlers registered on a ServeMux
// pattern that declares one. Limiters idle for longer than ten minutes are
// dropped.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*userLimiter
	limit     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

// NewRateLimiter allows perSecond requests per user with the given burst.
// A non-positive perSecond disables limiting.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	return &RateLimiter{
		limiters: make(map[string]*userLimiter),
		limit:    limit,
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *RateLimiter) limiterFor(user string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= limiterSweepEvery {
		rl.sweep(now)
	}
	ul, ok := rl.limiters[user]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[user] = ul
	}
	ul.lastSeen = now
	return ul.limiter
}

// sweep drops idle limiters. Callers hold rl.mu.
func (rl *RateLimiter) sweep(now time.Time) {
	for user, ul := range rl.limiters {
		if now.Sub(ul.lastSeen) > limiterIdleTTL {
			delete(rl.limiters, user)
		}
	}
	rl.lastSweep = now
}

// tracked reports how many users currently hold a limiter.
func (rl *RateLimiter) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Wrap rejects requests over the user's budget with 429. Requests whose user
// id would be rejected downstream pass through without allocating a limiter.
func (rl *RateLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.PathValue("user")
		if user == "" || storage.ValidateTarget(user) != nil || rl.limiterFor(user).Allow() {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"error": "Too many requests. Slow down and try again.",
		})
	})
}
