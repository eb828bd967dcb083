package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Togather-Foundation/retriever/internal/api/problem"
	"github.com/Togather-Foundation/retriever/internal/config"
	"github.com/Togather-Foundation/retriever/internal/metrics"
	"golang.org/x/time/rate"
)

type RateLimitTier string

const (
	TierUser RateLimitTier = "user"
	// TierSearch covers searches, exports and MCP calls, each of which fans
	// out to every active source.
	TierSearch RateLimitTier = "search"
	TierAdmin  RateLimitTier = "admin"
	// TierLogin is counted per 15 minutes rather than per minute.
	TierLogin RateLimitTier = "login"
)

const (
	limiterTTL      = 15 * time.Minute
	cleanupInterval = 5 * time.Minute
)

type rateLimitKey string

const rateLimitTierKey rateLimitKey = "rateLimitTier"

func WithRateLimitTier(ctx context.Context, tier RateLimitTier) context.Context {
	return context.WithValue(ctx, rateLimitTierKey, tier)
}

func WithRateLimitTierHandler(tier RateLimitTier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithRateLimitTier(r.Context(), tier)))
		})
	}
}

// RateLimit applies a token bucket per tier and client IP. Rejected requests
// get a 429 problem response whose Retry-After is the wait until the next
// token.
func RateLimit(cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	store := newLimiterStore(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			tier := TierUser
			if value, ok := r.Context().Value(rateLimitTierKey).(RateLimitTier); ok {
				tier = value
			}

			limiter := store.limiter(tier, clientKey(r, cfg.TrustedProxyCIDRs))
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			reservation := limiter.Reserve()
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				metrics.RateLimited.WithLabelValues(string(tier)).Inc()
				w.Header().Set("Retry-After", retryAfter(delay))
				problem.Write(w, r, http.StatusTooManyRequests, problem.TypeRateLimited, "Too many requests", nil, "",
					problem.WithDetail("rate limit for "+string(tier)+" requests exceeded; retry after "+retryAfter(delay)+"s"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(delay time.Duration) string {
	seconds := int(math.Ceil(delay.Seconds()))
	return strconv.Itoa(max(seconds, 1))
}

type limiterStore struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	limits      map[RateLimitTier]int
	stopCleanup chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(cfg config.RateLimitConfig) *limiterStore {
	store := &limiterStore{
		limiters: make(map[string]*limiterEntry),
		limits: map[RateLimitTier]int{
			TierUser:   cfg.UserPerMinute,
			TierSearch: cfg.SearchPerMinute,
			TierAdmin:  cfg.AdminPerMinute,
			TierLogin:  cfg.LoginPer15Minutes,
		},
		stopCleanup: make(chan struct{}),
	}
	go store.cleanupLoop()
	return store
}

// window is the period each tier's limit is counted over.
func (t RateLimitTier) window() time.Duration {
	if t == TierLogin {
		return 15 * time.Minute
	}
	return time.Minute
}

func (s *limiterStore) limiter(tier RateLimitTier, key string) *rate.Limiter {
	limit := s.limits[tier]
	if limit <= 0 {
		return nil
	}

	lookup := string(tier) + ":" + key
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.limiters[lookup]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	// The full limit is available as a burst and refills evenly.
	limiter := rate.NewLimiter(rate.Every(tier.window()/time.Duration(limit)), limit)
	s.limiters[lookup] = &limiterEntry{limiter: limiter, lastSeen: time.Now()}
	return limiter
}

func (s *limiterStore) cleanupLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *limiterStore) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > limiterTTL {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterStore) Stop() {
	close(s.stopCleanup)
}

// clientKey returns the client IP. Forwarding headers are only honoured when
// the connection comes from a trusted proxy.
func clientKey(r *http.Request, trustedProxyCIDRs []string) string {
	if r == nil {
		return ""
	}

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	if isTrustedProxy(remoteIP, trustedProxyCIDRs) {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}
	return remoteIP
}

func isTrustedProxy(ip string, trustedCIDRs []string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}
	for _, cidrStr := range trustedCIDRs {
		_, cidr, err := net.ParseCIDR(cidrStr)
		if err != nil {
			continue
		}
		if cidr.Contains(parsedIP) {
			return true
		}
	}
	return false
}
