package adapter

import (
	"context"
	"time"
)

// Adapter is the venue-facing seam an Executor submits orders through.
// Concrete venue clients (Non-goal here per spec.md — no broker-specific
// REST/WebSocket client ships in this repo) implement this against their
// own SDK; backtest/testnet/live Executors each hold one.
type Adapter interface {
	// Submit places order, returning its ExecResult (accepted or
	// rejected) or an *Error carrying a taxonomy Code.
	Submit(ctx context.Context, order OrderCtx) (ExecResult, error)
	// Cancel cancels a previously-submitted order by client or exchange id.
	Cancel(ctx context.Context, orderID string) (CancelResult, error)
	// FetchFills returns fills recorded since sinceTSMs (0 = all).
	FetchFills(ctx context.Context, sinceTSMs int64) ([]Fill, error)
	// Kind identifies the adapter implementation, e.g. "backtest", "testnet", "live".
	Kind() string
}

// RateLimiter is the subset of libs/middleware.RateLimiter the resilient
// wrapper needs, kept narrow so tests can supply a fake.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// CircuitBreaker is the subset of libs/resilience.CircuitBreaker the
// resilient wrapper needs.
type CircuitBreaker interface {
	ExecuteWithContext(ctx context.Context, fn func() (any, error)) (any, error)
}

// RetryPolicy mirrors original_source/executors/idempotency.py's
// RetryPolicy: bounded exponential backoff with jitter, retrying only
// network/timeout/rate-limit/internal failures.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	// Jitter returns a fraction in [-1,1] for delay to read the source of
	// randomness from a caller-supplied generator (tests can inject 0).
	Jitter func() float64
}

// DefaultRetryPolicy matches idempotency.py's RetryPolicy defaults
// (max_retries=3, base_delay=0.1s, max_delay=5s).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: func() float64 { return 0 }}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	exp := float64(p.BaseDelay) * pow2(attempt)
	jitter := exp * 0.2 * p.Jitter()
	d := time.Duration(exp + jitter)
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	if d < 0 {
		d = 0
	}
	return d
}

func pow2(n int) float64 {
	r := 1.0
	for i := 0; i < n; i++ {
		r *= 2
	}
	return r
}

// ResilientAdapter wraps a venue Adapter with rate limiting, circuit
// breaking, and retry-with-backoff, the composition every Executor
// variant wires its placeRate/cancelRate limiters and breaker through
// (spec.md §4.6).
type ResilientAdapter struct {
	inner      Adapter
	placeLim   RateLimiter
	cancelLim  RateLimiter
	breaker    CircuitBreaker
	retry      RetryPolicy
}

// NewResilientAdapter wraps inner. placeLim/cancelLim/breaker may be nil to
// disable that layer (useful for the backtest adapter, which needs none of
// them).
func NewResilientAdapter(inner Adapter, placeLim, cancelLim RateLimiter, breaker CircuitBreaker, retry RetryPolicy) *ResilientAdapter {
	return &ResilientAdapter{inner: inner, placeLim: placeLim, cancelLim: cancelLim, breaker: breaker, retry: retry}
}

func (r *ResilientAdapter) Kind() string { return r.inner.Kind() }

// Submit rate-limits, circuit-breaks, and retries a call to inner.Submit.
// E.PARAMS and E.REJECT.BIZ never retry (spec.md §4.6, §8).
func (r *ResilientAdapter) Submit(ctx context.Context, order OrderCtx) (ExecResult, error) {
	if r.placeLim != nil {
		if err := r.placeLim.Wait(ctx); err != nil {
			return ExecResult{}, New(CodeTimeout, "submit", err)
		}
	}

	var result ExecResult
	op := func() (any, error) {
		res, err := r.inner.Submit(ctx, order)
		result = res
		return res, err
	}

	err := r.withRetry(ctx, "submit", op)
	return result, err
}

// Cancel rate-limits and retries a call to inner.Cancel.
func (r *ResilientAdapter) Cancel(ctx context.Context, orderID string) (CancelResult, error) {
	if r.cancelLim != nil {
		if err := r.cancelLim.Wait(ctx); err != nil {
			return CancelResult{}, New(CodeTimeout, "cancel", err)
		}
	}

	var result CancelResult
	op := func() (any, error) {
		res, err := r.inner.Cancel(ctx, orderID)
		result = res
		return res, err
	}

	err := r.withRetry(ctx, "cancel", op)
	return result, err
}

// FetchFills retries a call to inner.FetchFills; it is not rate-limited
// since it is a read path.
func (r *ResilientAdapter) FetchFills(ctx context.Context, sinceTSMs int64) ([]Fill, error) {
	var result []Fill
	op := func() (any, error) {
		res, err := r.inner.FetchFills(ctx, sinceTSMs)
		result = res
		return res, err
	}

	err := r.withRetry(ctx, "fetch_fills", op)
	return result, err
}

func (r *ResilientAdapter) withRetry(ctx context.Context, op string, fn func() (any, error)) error {
	run := fn
	if r.breaker != nil {
		run = func() (any, error) { return r.breaker.ExecuteWithContext(ctx, fn) }
	}

	var lastErr error
	for attempt := 0; attempt <= r.retry.MaxRetries; attempt++ {
		_, err := run()
		if err == nil {
			return nil
		}
		lastErr = err

		code := CodeOf(err)
		if !Retryable(code) || attempt == r.retry.MaxRetries {
			return err
		}

		timer := time.NewTimer(r.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return New(CodeTimeout, op, ctx.Err())
		case <-timer.C:
		}
	}
	return lastErr
}
