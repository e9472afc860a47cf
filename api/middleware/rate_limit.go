package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/angelmondragon/lealtad-backend/api/responses"
	pkgerrors "github.com/angelmondragon/lealtad-backend/pkg/errors"
	"github.com/angelmondragon/lealtad-backend/pkg/logger"
)

const limiterIdleTTL = 10 * time.Minute

// ClientLimiter keeps one token bucket per caller inside this process.
type ClientLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientLimiter returns nil when rps is not positive, which disables limiting.
func NewClientLimiter(rps float64, burst int) *ClientLimiter {
	if rps <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &ClientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow reports whether key may proceed now.
func (c *ClientLimiter) Allow(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	b, ok := c.buckets[key]
	if !ok {
		c.evictIdle(now)
		b = &bucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.buckets[key] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func (c *ClientLimiter) evictIdle(now time.Time) {
	for key, b := range c.buckets {
		if now.Sub(b.lastSeen) > limiterIdleTTL {
			delete(c.buckets, key)
		}
	}
}

// RateLimit throttles callers with a per-process token bucket keyed by staff
// id, or by client IP before authentication.
func RateLimit(limiter *ClientLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "ip:" + clientIP(r)
			if staff, ok := StaffFromContext(r.Context()); ok {
				key = "staff:" + staff.ID
			}
			if !limiter.Allow(key) {
				rejectRateLimited(r.Context(), logg, w, "client", key)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type fixedWindowLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

// ResolveRateLimit caps code lookups per staff member per minute across all
// API instances. Rotating codes are short, so unbounded lookups would let a
// terminal enumerate the code space.
func ResolveRateLimit(store fixedWindowLimiter, perMinute int, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if store == nil || perMinute <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			staff, ok := StaffFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			allowed, _, err := store.FixedWindowAllow(r.Context(), "resolve:"+staff.ID, int64(perMinute), time.Minute)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rate limiting"))
				return
			}
			if !allowed {
				rejectRateLimited(r.Context(), logg, w, "resolve", staff.ID)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, policy, key string) {
	if logg != nil {
		logg.Warn(logg.WithFields(ctx, map[string]any{"policy": policy, "key": key}), "rate_limit.blocked")
	}
	responses.WriteError(ctx, nil, w, pkgerrors.New(pkgerrors.CodeRateLimit, "rate limit exceeded"))
}

func clientIP(r *http.Request) string {
	if header := r.Header.Get("X-Forwarded-For"); header != "" {
		for _, part := range strings.Split(header, ",") {
			if ip := strings.TrimSpace(part); ip != "" {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
