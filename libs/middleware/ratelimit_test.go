package middleware

import (
	"context"
	"testing"
	"time"
)

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond <= 0 {
		t.Errorf("RequestsPerSecond = %v; want > 0", cfg.RequestsPerSecond)
	}
	if cfg.Burst <= 0 {
		t.Errorf("Burst = %d; want > 0", cfg.Burst)
	}
	if !cfg.Enabled {
		t.Error("default config should be enabled")
	}
}

func TestRateLimiter_Allow_UnderBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 5, Burst: 5, Enabled: true})

	allowed, _ := rl.Allow()
	if !allowed {
		t.Error("first request within burst should be allowed")
	}
}

func TestRateLimiter_Allow_ExceedsBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, Enabled: true})

	for i := 0; i < 2; i++ {
		if allowed, _ := rl.Allow(); !allowed {
			t.Fatalf("request %d within burst should be allowed", i+1)
		}
	}

	allowed, wait := rl.Allow()
	if allowed {
		t.Error("request beyond burst should be denied")
	}
	if wait <= 0 {
		t.Error("expected positive wait duration when denied")
	}
}

func TestRateLimiter_Allow_DisabledPassesAll(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 1, Enabled: false})

	for i := 0; i < 10; i++ {
		if allowed, _ := rl.Allow(); !allowed {
			t.Errorf("disabled limiter should pass all; denied on request %d", i+1)
		}
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 100, Burst: 1, Enabled: true})

	rl.Allow() // exhaust the single token

	time.Sleep(20 * time.Millisecond) // >= 2 tokens worth at 100/s

	allowed, _ := rl.Allow()
	if !allowed {
		t.Error("limiter should have refilled a token after sleeping")
	}
}

func TestRateLimiter_Wait_RespectsContextCancellation(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.001, Burst: 1, Enabled: true})
	rl.Allow() // exhaust

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); err == nil {
		t.Error("expected Wait to return context deadline error")
	}
}

func TestRateLimitConfigFromEnv_Defaults(t *testing.T) {
	cfg := RateLimitConfigFromEnv("PLACE_TEST_UNSET")
	if cfg.RequestsPerSecond != DefaultRateLimitConfig().RequestsPerSecond {
		t.Error("unset env vars should fall back to defaults")
	}
}
