package middleware

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sandeepkv93/identity-core/internal/http/response"
	"github.com/sandeepkv93/identity-core/internal/service"
)

// RateLimiter charges one token bucket per request key before the handler runs.
type RateLimiter struct {
	limiter *service.RateLimiter
	policy  service.RateLimitPolicy
	keyFunc func(r *http.Request) string
}

func NewRateLimiter(limiter *service.RateLimiter, policy service.RateLimitPolicy, keyFunc func(r *http.Request) string) *RateLimiter {
	if keyFunc == nil {
		keyFunc = clientIPKey
	}
	return &RateLimiter{limiter: limiter, policy: policy, keyFunc: keyFunc}
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			result, err := rl.limiter.Decide(r.Context(), key, rl.policy)
			if !result.Degraded || err != nil {
				writeRateLimitHeaders(w.Header(), rl.policy.MaxTokens, result.Remaining)
			}
			if err != nil {
				w.Header().Set("Retry-After", retryAfterHeader(service.AsError(err).RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIPKey(r *http.Request) string {
	ip := parseRequestIP(r)
	if ip != nil {
		return ip.String()
	}
	return r.RemoteAddr
}

// parseRequestIP reads RemoteAddr. The router rewrites it from forwarding headers only when
// proxy headers are trusted.
func parseRequestIP(r *http.Request) net.IP {
	host := strings.TrimSpace(r.RemoteAddr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return net.ParseIP(host)
}

func retryAfterHeader(d time.Duration) string {
	return response.RetryAfterSeconds(d.Seconds())
}

func writeRateLimitHeaders(h http.Header, limit, remaining float64) {
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", int(math.Max(limit, 0))))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", int(math.Max(math.Floor(remaining), 0))))
}
