package middleware

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"school-notify/internal/handler/http/auth"
	"school-notify/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimitRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "rate_limit_requests_total",
		Help: "Rate limit decisions by limiter type and status",
	},
	[]string{"limiter_type", "status"}, // status: allowed | denied
)

// KeyFunc returns the bucket key for a request. ok=false skips limiting.
type KeyFunc func(r *http.Request) (key string, ok bool)

// UserKey keys requests by the authenticated principal. Anonymous requests
// are not limited; they are rejected by the auth middleware anyway.
func UserKey(r *http.Request) (string, bool) {
	p, ok := auth.FromContext(r.Context())
	if !ok || p.UserID == "" {
		return "", false
	}
	return p.UserID, true
}

// IPKey keys requests by the host part of RemoteAddr. Forwarded headers are
// not trusted.
func IPKey(r *http.Request) (string, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host, host != ""
}

// RateLimitConfig sizes each key's token bucket.
type RateLimitConfig struct {
	// Limit is the number of requests refilled per Window.
	Limit  int
	Window time.Duration
	// Burst defaults to Limit.
	Burst int
	// IdleTTL is how long an unused bucket is kept before eviction.
	IdleTTL time.Duration
}

// LoadSendRateLimitConfig reads the per-user limit applied to
// POST /notifications/send.
//
//	SEND_RATE_LIMIT         requests per window, default 30
//	SEND_RATE_LIMIT_WINDOW  default 1m
func LoadSendRateLimitConfig() RateLimitConfig {
	return loadRateLimitConfig("SEND_RATE_LIMIT", 30)
}

// LoadWebhookRateLimitConfig reads the per-IP limit applied to the email
// provider webhook.
//
//	WEBHOOK_RATE_LIMIT         requests per window, default 120
//	WEBHOOK_RATE_LIMIT_WINDOW  default 1m
func LoadWebhookRateLimitConfig() RateLimitConfig {
	return loadRateLimitConfig("WEBHOOK_RATE_LIMIT", 120)
}

func loadRateLimitConfig(prefix string, defaultLimit int) RateLimitConfig {
	cfg := RateLimitConfig{
		Limit:   config.GetEnvInt(prefix, defaultLimit),
		Window:  config.GetEnvDuration(prefix+"_WINDOW", time.Minute),
		IdleTTL: 10 * time.Minute,
	}
	if cfg.Limit <= 0 {
		slog.Warn("invalid rate limit, using default", slog.String("key", prefix), slog.Int("value", cfg.Limit))
		cfg.Limit = defaultLimit
	}
	if cfg.Window <= 0 {
		slog.Warn("invalid rate limit window, using default", slog.String("key", prefix+"_WINDOW"), slog.Duration("value", cfg.Window))
		cfg.Window = time.Minute
	}
	return cfg
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per key.
type RateLimiter struct {
	name    string
	cfg     RateLimitConfig
	keyFunc KeyFunc
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewRateLimiter returns a limiter named name (used as the metric label and
// X-RateLimit-Type header) that keys requests with keyFunc.
func NewRateLimiter(name string, cfg RateLimitConfig, keyFunc KeyFunc) *RateLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.Limit
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		name:    name,
		cfg:     cfg,
		keyFunc: keyFunc,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

func (rl *RateLimiter) limit() rate.Limit {
	return rate.Limit(float64(rl.cfg.Limit) / rl.cfg.Window.Seconds())
}

// reserve takes a token for key and reports whether the request may proceed,
// the tokens left and how long until the next token.
func (rl *RateLimiter) reserve(key string) (allowed bool, remaining int, retryAfter time.Duration) {
	now := rl.now()

	rl.mu.Lock()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit(), rl.cfg.Burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	rl.mu.Unlock()

	if b.limiter.AllowN(now, 1) {
		return true, int(math.Max(0, math.Floor(b.limiter.TokensAt(now)))), 0
	}
	r := b.limiter.ReserveN(now, 1)
	retryAfter = r.DelayFrom(now)
	r.CancelAt(now)
	return false, 0, retryAfter
}

// Middleware enforces the limit and sets X-RateLimit-* headers. Denied
// requests get 429 with Retry-After.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := rl.keyFunc(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, retryAfter := rl.reserve(key)
		resetAt := rl.now().Add(retryAfter)
		if allowed {
			resetAt = rl.now().Add(time.Duration(float64(time.Second) / float64(rl.limit())))
		}

		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(rl.cfg.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
		h.Set("X-RateLimit-Type", rl.name)

		if !allowed {
			rateLimitRequests.WithLabelValues(rl.name, "denied").Inc()
			seconds := int64(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			slog.Warn("rate limit exceeded",
				slog.String("limiter_type", rl.name),
				slog.String("key", hashKey(key)),
				slog.Int("limit", rl.cfg.Limit),
				slog.Duration("window", rl.cfg.Window),
				slog.Int64("retry_after", seconds),
				slog.String("path", r.URL.Path),
				slog.String("method", r.Method))

			h.Set("Retry-After", strconv.FormatInt(seconds, 10))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = fmt.Fprintf(w, `{"error":"rate limit exceeded","retry_after_seconds":%d}`, seconds)
			return
		}

		rateLimitRequests.WithLabelValues(rl.name, "allowed").Inc()
		next.ServeHTTP(w, r)
	})
}

// Cleanup evicts buckets idle for longer than IdleTTL and returns how many
// were removed.
func (rl *RateLimiter) Cleanup() int {
	cutoff := rl.now().Add(-rl.cfg.IdleTTL)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// hashKey keeps user ids and addresses out of logs.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
