package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ingestor-io/ingestor/internal/config"
)

const (
	burstMultiplier      = 2
	defaultGlobalRPS     = 100
	defaultCallerRPS     = 25
	defaultAnonymousRPS  = 5
	defaultMaxCallers    = 10_000
	limiterCleanupPeriod = 5 * time.Minute
	limiterIdleTimeout   = time.Hour
)

type (
	// RateLimiter decides whether a request may proceed. caller is the
	// authenticated key name, or "" for anonymous requests.
	RateLimiter interface {
		Allow(caller string) bool
	}

	// RateLimitConfig holds the token-bucket rates. Burst is 2 × rate.
	RateLimitConfig struct {
		GlobalRPS    int
		CallerRPS    int
		AnonymousRPS int
		MaxCallers   int
	}

	// InMemoryRateLimiter enforces a global bucket plus a per-caller bucket
	// (anonymous requests share one stricter bucket). Idle caller buckets are
	// reaped periodically.
	InMemoryRateLimiter struct {
		global     *rate.Limiter
		anonymous  *rate.Limiter
		perCaller  map[string]*callerLimiter
		mu         sync.RWMutex
		done       chan struct{}
		ticker     *time.Ticker
		callerRPS  int
		maxCallers int
	}

	callerLimiter struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
)

// LoadRateLimitConfig reads rate limits from the environment.
func LoadRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalRPS:    config.GetEnvInt("INGESTOR_GLOBAL_RPS", defaultGlobalRPS),
		CallerRPS:    config.GetEnvInt("INGESTOR_CALLER_RPS", defaultCallerRPS),
		AnonymousRPS: config.GetEnvInt("INGESTOR_ANONYMOUS_RPS", defaultAnonymousRPS),
		MaxCallers:   config.GetEnvInt("INGESTOR_RATE_LIMIT_MAX_CALLERS", defaultMaxCallers),
	}
}

// NewInMemoryRateLimiter creates a token-bucket rate limiter and starts its
// cleanup goroutine. Call Close when done.
func NewInMemoryRateLimiter(cfg *RateLimitConfig) *InMemoryRateLimiter {
	rl := &InMemoryRateLimiter{
		global:     rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalRPS*burstMultiplier),
		anonymous:  rate.NewLimiter(rate.Limit(cfg.AnonymousRPS), cfg.AnonymousRPS*burstMultiplier),
		perCaller:  make(map[string]*callerLimiter),
		done:       make(chan struct{}),
		ticker:     time.NewTicker(limiterCleanupPeriod),
		callerRPS:  cfg.CallerRPS,
		maxCallers: cfg.MaxCallers,
	}

	go rl.cleanupLoop()

	return rl
}

// Allow implements RateLimiter.
func (rl *InMemoryRateLimiter) Allow(caller string) bool {
	if !rl.global.Allow() {
		return false
	}

	if caller == "" {
		return rl.anonymous.Allow()
	}

	rl.mu.RLock()
	cl, ok := rl.perCaller[caller]
	rl.mu.RUnlock()

	if !ok {
		rl.mu.Lock()
		if cl, ok = rl.perCaller[caller]; !ok {
			// A full caller table means someone is minting key names; fall
			// back to the anonymous bucket rather than growing unbounded.
			if len(rl.perCaller) >= rl.maxCallers {
				rl.mu.Unlock()

				return rl.anonymous.Allow()
			}

			cl = &callerLimiter{
				limiter: rate.NewLimiter(rate.Limit(rl.callerRPS), rl.callerRPS*burstMultiplier),
			}
			rl.perCaller[caller] = cl
		}
		rl.mu.Unlock()
	}

	rl.mu.Lock()
	cl.lastSeen = time.Now()
	rl.mu.Unlock()

	return cl.limiter.Allow()
}

// Close stops the cleanup goroutine.
func (rl *InMemoryRateLimiter) Close() error {
	rl.ticker.Stop()
	close(rl.done)

	return nil
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.done:
			return
		case <-rl.ticker.C:
			cutoff := time.Now().Add(-limiterIdleTimeout)

			rl.mu.Lock()
			for caller, cl := range rl.perCaller {
				if cl.lastSeen.Before(cutoff) {
					delete(rl.perCaller, caller)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit rejects requests over the limit with a 429 problem response.
// Must sit after authentication in the chain so the caller name is known.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := GetCaller(r.Context())

			if !limiter.Allow(caller) {
				correlationID := GetCorrelationID(r.Context())
				detail := "Rate limit exceeded. Retry after a short delay."

				if err := writeProblem(w, r, http.StatusTooManyRequests, detail, correlationID); err != nil {
					logger.Error("failed to write rate limit response",
						slog.String("correlation_id", correlationID),
						slog.String("error", err.Error()),
					)

					http.Error(w, detail, http.StatusTooManyRequests)
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
