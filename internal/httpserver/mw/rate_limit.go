package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/katiya-cw/openesb-standalone/internal/utils"
)

// RateLimitConfig is a per-client token bucket: Burst requests at once,
// refilled at RefillPerMin per minute.
type RateLimitConfig struct {
	Burst         int
	RefillPerMin  int
	MaxEntries    int
	SweepInterval time.Duration
	IdleTTL       time.Duration
	TrustProxy    bool
	// Key picks the bucket for a request; the client IP when nil.
	Key func(r *http.Request) string
}

type bucket struct {
	tokens   float64
	lastRef  time.Time
	lastSeen time.Time
}

// Limiter holds one bucket per key.
type Limiter struct {
	cfg      RateLimitConfig
	rate     float64 // tokens per second
	capacity float64
	now      func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillPerMin < 1 {
		cfg.RefillPerMin = 1
	}
	if cfg.Key == nil {
		trust := cfg.TrustProxy
		cfg.Key = func(r *http.Request) string { return utils.ClientIP(r, trust) }
	}
	return &Limiter{
		cfg:       cfg,
		rate:      float64(cfg.RefillPerMin) / 60.0,
		capacity:  float64(cfg.Burst),
		now:       time.Now,
		buckets:   make(map[string]*bucket, 64),
		lastSweep: time.Now(),
	}
}

// Allow takes a token for key. When none is left it returns false and the
// number of seconds until one is available.
func (l *Limiter) Allow(key string) (ok bool, remaining int, retryAfter int) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.cfg.SweepInterval ||
		(l.cfg.MaxEntries > 0 && len(l.buckets) >= l.cfg.MaxEntries) {
		l.sweep(now)
	}

	b := l.buckets[key]
	if b == nil {
		b = &bucket{tokens: l.capacity, lastRef: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if elapsed := now.Sub(b.lastRef).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastRef = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true, int(b.tokens), 0
	}

	sec := int(math.Ceil((1 - b.tokens) / l.rate))
	if sec < 1 {
		sec = 1
	}
	return false, 0, sec
}

func (l *Limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// Middleware answers 429 once a client's bucket is empty.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	limit := strconv.Itoa(l.cfg.Burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, remaining, retry := l.Allow(l.cfg.Key(r))
		w.Header().Set("X-RateLimit-Limit", limit)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit is NewLimiter(cfg).Middleware.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return NewLimiter(cfg).Middleware
}
