// Package middleware provides cross-cutting request shaping for the
// execution path: rate limiting of outbound adapter calls.
package middleware

import (
	"context"
	"os"
	"strconv"
	"sync"
	"time"
)

// RateLimitConfig holds token-bucket rate limiting configuration for one
// operation class (e.g. "place", "cancel", "fetch_fills").
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained refill rate.
	RequestsPerSecond float64
	// Burst is the bucket capacity; bursts above the sustained rate are
	// absorbed up to this many tokens.
	Burst   int
	Enabled bool
}

// DefaultRateLimitConfig returns a conservative default for a single venue
// adapter operation class.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		Burst:             20,
		Enabled:           true,
	}
}

// RateLimitConfigFromEnv builds a RateLimitConfig from env vars, falling back
// to DefaultRateLimitConfig for anything unset. prefix namespaces the
// variables per operation class, e.g. prefix "PLACE" reads
// RATE_LIMIT_PLACE_RPS / RATE_LIMIT_PLACE_BURST / RATE_LIMIT_PLACE_ENABLED.
func RateLimitConfigFromEnv(prefix string) RateLimitConfig {
	cfg := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_" + prefix + "_RPS"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			cfg.RequestsPerSecond = parsed
		}
	}
	if v := os.Getenv("RATE_LIMIT_" + prefix + "_BURST"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Burst = parsed
		}
	}
	if v := os.Getenv("RATE_LIMIT_" + prefix + "_ENABLED"); v != "" {
		cfg.Enabled = v != "false" && v != "0"
	}
	return cfg
}

// RateLimiter is a single token bucket shared across all callers of one
// operation class. Suspension only happens in Wait (Allow never blocks),
// matching the adapter's documented suspension points.
type RateLimiter struct {
	cfg RateLimitConfig

	mu        sync.Mutex
	tokens    float64
	updatedAt time.Time
}

// NewRateLimiter creates a token-bucket limiter starting full.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		cfg:       cfg,
		tokens:    float64(cfg.Burst),
		updatedAt: time.Now(),
	}
}

// NewRateLimiterFromEnv creates a RateLimiter for the given operation class
// prefix, reading its config from the environment.
func NewRateLimiterFromEnv(prefix string) *RateLimiter {
	return NewRateLimiter(RateLimitConfigFromEnv(prefix))
}

func (rl *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.updatedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	rl.tokens += elapsed * rl.cfg.RequestsPerSecond
	if rl.tokens > float64(rl.cfg.Burst) {
		rl.tokens = float64(rl.cfg.Burst)
	}
	rl.updatedAt = now
}

// Allow attempts to take one token without blocking. It returns false and
// the delay until a token would be available if none is free right now.
func (rl *RateLimiter) Allow() (bool, time.Duration) {
	if !rl.cfg.Enabled {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.refill(now)

	if rl.tokens >= 1 {
		rl.tokens--
		return true, 0
	}

	deficit := 1 - rl.tokens
	wait := time.Duration(deficit/rl.cfg.RequestsPerSecond*float64(time.Second)) + time.Millisecond
	return false, wait
}

// Wait blocks until a token is available or ctx is cancelled. This is one of
// the adapter's documented suspension points.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		if ok, wait := rl.Allow(); ok {
			return nil
		} else {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// Stats reports the limiter's current state for diagnostics.
func (rl *RateLimiter) Stats() map[string]any {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return map[string]any{
		"enabled":             rl.cfg.Enabled,
		"requests_per_second": rl.cfg.RequestsPerSecond,
		"burst":               rl.cfg.Burst,
		"tokens_available":    rl.tokens,
	}
}
