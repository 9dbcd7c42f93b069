package service

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/sandeepkv93/identity-core/internal/domain"
	"github.com/sandeepkv93/identity-core/internal/observability"
)

// RateLimitPolicy is one token-bucket configuration: up to MaxTokens, refilled by RefillRate
// tokens every RefillInterval, Cost tokens per action.
type RateLimitPolicy struct {
	Scope          string
	MaxTokens      float64
	RefillRate     float64
	RefillInterval time.Duration
	Cost           float64
}

// fullRefill is how long an empty bucket takes to fill. Idle buckets older than this carry no state.
func (p RateLimitPolicy) fullRefill() time.Duration {
	if p.RefillRate <= 0 {
		return p.RefillInterval
	}
	return time.Duration(math.Ceil(p.MaxTokens * float64(p.RefillInterval) / p.RefillRate))
}

type RateLimitResult struct {
	Allowed    bool
	Remaining  float64
	RetryAfter time.Duration
	// Degraded is set when the store failed and the outcome came from the failure mode.
	Degraded bool
}

// BucketStore applies fn to the bucket under key atomically with respect to other updates of
// the same key. found is false when no bucket exists yet.
type BucketStore interface {
	Update(ctx context.Context, key string, ttl time.Duration, fn func(current domain.RateLimitBucket, found bool) domain.RateLimitBucket) error
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	store BucketStore
	mode  FailureMode
	now   func() time.Time
}

func NewRateLimiter(store BucketStore, mode FailureMode, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	if mode == "" {
		mode = FailClosed
	}
	return &RateLimiter{store: store, mode: mode, now: now}
}

// Consume refills the bucket for key and takes policy.Cost tokens if available.
func (l *RateLimiter) Consume(ctx context.Context, key string, policy RateLimitPolicy) (RateLimitResult, error) {
	var result RateLimitResult
	now := l.now()
	err := l.store.Update(ctx, policy.Scope+":"+key, policy.fullRefill(), func(b domain.RateLimitBucket, found bool) domain.RateLimitBucket {
		var next domain.RateLimitBucket
		next, result = consumeBucket(b, found, policy, now)
		return next
	})
	if err != nil {
		return RateLimitResult{}, err
	}
	return result, nil
}

func consumeBucket(b domain.RateLimitBucket, found bool, policy RateLimitPolicy, now time.Time) (domain.RateLimitBucket, RateLimitResult) {
	if !found {
		b = domain.RateLimitBucket{Tokens: policy.MaxTokens, LastRefillAt: now}
	}
	if elapsed := now.Sub(b.LastRefillAt); elapsed > 0 {
		b.Tokens += elapsed.Seconds() / policy.RefillInterval.Seconds() * policy.RefillRate
	}
	b.Tokens = math.Max(0, math.Min(policy.MaxTokens, b.Tokens))
	b.LastRefillAt = now

	if b.Tokens >= policy.Cost {
		b.Tokens -= policy.Cost
		return b, RateLimitResult{Allowed: true, Remaining: b.Tokens}
	}
	deficit := policy.Cost - b.Tokens
	wait := time.Duration(math.Ceil(deficit * float64(policy.RefillInterval) / policy.RefillRate))
	return b, RateLimitResult{Allowed: false, Remaining: b.Tokens, RetryAfter: wait}
}

// Decide consumes from the bucket and resolves the outcome into a single error: nil when the
// request may proceed, a RATE_LIMITED *Error otherwise. Store failures follow the limiter's
// failure mode; under fail_open the request proceeds with a zero result.
func (l *RateLimiter) Decide(ctx context.Context, key string, policy RateLimitPolicy) (RateLimitResult, error) {
	res, err := l.Consume(ctx, key, policy)
	if err != nil {
		observability.RecordRateLimitDecision(ctx, policy.Scope, "backend_error", string(l.mode))
		if l.mode == FailOpen {
			slog.WarnContext(ctx, "rate limiter backend unavailable, allowing request",
				"scope", policy.Scope,
				"mode", string(l.mode),
				"error", err,
			)
			return RateLimitResult{Allowed: true, Degraded: true}, nil
		}
		return RateLimitResult{RetryAfter: policy.RefillInterval, Degraded: true}, RateLimited(policy.RefillInterval).wrap(err)
	}
	if !res.Allowed {
		observability.RecordRateLimitDecision(ctx, policy.Scope, "deny", string(l.mode))
		observability.RecordRateLimitRetryAfter(ctx, policy.Scope, res.RetryAfter)
		return res, RateLimited(res.RetryAfter)
	}
	observability.RecordRateLimitDecision(ctx, policy.Scope, "allow", string(l.mode))
	return res, nil
}

// Check is Decide without the bucket details.
func (l *RateLimiter) Check(ctx context.Context, key string, policy RateLimitPolicy) error {
	_, err := l.Decide(ctx, key, policy)
	return err
}

var ErrRateLimitContention = errors.New("rate limit bucket update contended")
