package server

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	siteerrors "github.com/sitedesk/sitedesk/internal/errors"
	"github.com/sitedesk/sitedesk/internal/logging"
)

// RateLimitConfig configures a RateLimiter.
type RateLimitConfig struct {
	RequestsPerMinute int
	BurstSize         int
	Enabled           bool
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	buckets     map[string]*tokenBucket
	bucketMutex sync.Mutex
	config      RateLimitConfig
	logger      logging.Logger
	now         func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
	lastAccess time.Time
}

// RateLimitResult is the outcome of one Check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

const bucketExpiry = 10 * time.Minute

// NewRateLimiter creates a limiter and starts its bucket janitor.
func NewRateLimiter(config *RateLimitConfig, logger logging.Logger) *RateLimiter {
	if config == nil {
		config = &RateLimitConfig{RequestsPerMinute: 60, BurstSize: 20, Enabled: true}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	cfg := *config
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 1
	}

	rl := &RateLimiter{
		buckets: make(map[string]*tokenBucket),
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go rl.cleanupLoop(time.Minute)
	return rl
}

// Check consumes a token for key.
func (rl *RateLimiter) Check(key string) RateLimitResult {
	if !rl.config.Enabled {
		return RateLimitResult{Allowed: true, Remaining: rl.config.BurstSize}
	}

	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.config.BurstSize), lastRefill: now}
		rl.buckets[key] = b
	}
	b.lastAccess = now

	perSecond := float64(rl.config.RequestsPerMinute) / 60
	b.tokens += now.Sub(b.lastRefill).Seconds() * perSecond
	if b.tokens > float64(rl.config.BurstSize) {
		b.tokens = float64(rl.config.BurstSize)
	}
	b.lastRefill = now

	if b.tokens >= 1 {
		b.tokens--
		return RateLimitResult{Allowed: true, Remaining: int(b.tokens)}
	}
	wait := time.Duration((1 - b.tokens) / perSecond * float64(time.Second))
	return RateLimitResult{Allowed: false, RetryAfter: wait}
}

func (rl *RateLimiter) cleanupLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

// cleanup forgets buckets idle for longer than bucketExpiry.
func (rl *RateLimiter) cleanup() {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()
	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastAccess) > bucketExpiry {
			delete(rl.buckets, key)
		}
	}
}

func (rl *RateLimiter) size() int {
	rl.bucketMutex.Lock()
	defer rl.bucketMutex.Unlock()
	return len(rl.buckets)
}

// Stop ends the janitor. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// RateLimitMiddleware answers 429 once a client runs out of tokens.
func RateLimitMiddleware(limiter *RateLimiter) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			result := limiter.Check(ip)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.config.RequestsPerMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				secs := int(result.RetryAfter.Seconds() + 0.999)
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				limiter.logger.Warn(r.Context(),
					siteerrors.NewUnsupportedError("RATE_LIMITED", "rate limit exceeded"),
					"Rate limit exceeded", "ip", ip, "path", r.URL.Path)
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded", Code: "RATE_LIMITED"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
