package api

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client (by IP).
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientBucket
	limit    int        // bucket size
	refill   rate.Limit // tokens per second
	cleanup  time.Duration
	idle     time.Duration
	stopOnce sync.Once
	stopChan chan struct{}
}

type clientBucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	RequestsPerMinute int           // Sustained rate (default: 60)
	BurstSize         int           // Extra requests allowed on top of one minute's worth
	CleanupInterval   time.Duration // How often idle clients are forgotten (default: 5m)
}

// DefaultRateLimitConfig returns the API defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

// NewRateLimiter creates a rate limiter with the given configuration.
// A fresh client may spend RequestsPerMinute+BurstSize requests at once.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.BurstSize < 0 {
		cfg.BurstSize = 0
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		clients:  make(map[string]*clientBucket),
		limit:    cfg.RequestsPerMinute + cfg.BurstSize,
		refill:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		cleanup:  cfg.CleanupInterval,
		idle:     2 * time.Minute,
		stopChan: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

func (rl *RateLimiter) bucket(clientID string, now time.Time) *clientBucket {
	b, ok := rl.clients[clientID]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(rl.refill, rl.limit)}
		rl.clients[clientID] = b
	}
	b.lastAccess = now
	return b
}

// Allow reports whether a request from clientID may proceed and spends a
// token if so.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	return rl.bucket(clientID, now).limiter.AllowN(now, 1)
}

// GetRemaining returns the whole tokens left for clientID.
func (rl *RateLimiter) GetRemaining(clientID string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.clients[clientID]
	if !ok {
		return rl.limit
	}
	remaining := int(b.limiter.TokensAt(time.Now()))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset forgets clientID.
func (rl *RateLimiter) Reset(clientID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, clientID)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopChan) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopChan:
			return
		case <-ticker.C:
			rl.cleanupExpired()
		}
	}
}

// cleanupExpired drops clients idle long enough for their bucket to refill.
func (rl *RateLimiter) cleanupExpired() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.idle)
	for clientID, b := range rl.clients {
		if b.lastAccess.Before(cutoff) {
			delete(rl.clients, clientID)
		}
	}
}

func writeRateLimited(w http.ResponseWriter, limit int) {
	w.Header().Set("Retry-After", "60")
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", "0")
	RespondError(w, http.StatusTooManyRequests, errRateLimited)
}

// RateLimitMiddleware enforces rl per client IP.
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClientIP(r)

			if !rl.Allow(clientID) {
				writeRateLimited(w, rl.limit)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.GetRemaining(clientID)))

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP extracts the client IP, preferring proxy headers over
// RemoteAddr.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// PathRateLimiter allows different rate limits for different path prefixes.
type PathRateLimiter struct {
	defaultLimiter *RateLimiter
	pathLimiters   map[string]*RateLimiter
	mu             sync.RWMutex
}

// NewPathRateLimiter creates a rate limiter with path-specific limits.
func NewPathRateLimiter(defaultCfg RateLimitConfig) *PathRateLimiter {
	return &PathRateLimiter{
		defaultLimiter: NewRateLimiter(defaultCfg),
		pathLimiters:   make(map[string]*RateLimiter),
	}
}

// SetPathLimit sets a specific rate limit for a path prefix.
func (prl *PathRateLimiter) SetPathLimit(pathPrefix string, cfg RateLimitConfig) {
	prl.mu.Lock()
	defer prl.mu.Unlock()
	if old, ok := prl.pathLimiters[pathPrefix]; ok {
		old.Stop()
	}
	prl.pathLimiters[pathPrefix] = NewRateLimiter(cfg)
}

// Allow checks if a request should be allowed based on client and path.
func (prl *PathRateLimiter) Allow(clientID, path string) bool {
	return prl.limiterFor(path).Allow(clientID)
}

// limiterFor returns the limiter with the longest matching prefix.
func (prl *PathRateLimiter) limiterFor(path string) *RateLimiter {
	prl.mu.RLock()
	defer prl.mu.RUnlock()

	best, bestLen := prl.defaultLimiter, -1
	for prefix, limiter := range prl.pathLimiters {
		if strings.HasPrefix(path, prefix) && len(prefix) > bestLen {
			best, bestLen = limiter, len(prefix)
		}
	}
	return best
}

// Stop stops all rate limiters.
func (prl *PathRateLimiter) Stop() {
	prl.mu.Lock()
	defer prl.mu.Unlock()

	prl.defaultLimiter.Stop()
	for _, limiter := range prl.pathLimiters {
		limiter.Stop()
	}
}

// PathRateLimitMiddleware creates middleware using a path-aware rate limiter.
func PathRateLimitMiddleware(prl *PathRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClientIP(r)
			limiter := prl.limiterFor(r.URL.Path)

			if !limiter.Allow(clientID) {
				writeRateLimited(w, limiter.limit)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.GetRemaining(clientID)))

			next.ServeHTTP(w, r)
		})
	}
}
