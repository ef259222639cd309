// Package executor provides the three Executor implementations (backtest,
// testnet, live) plus the cross-cutting precheck/throttle/idempotency/
// shadow layers spec.md §4.5 describes, all driving a single
// adapter.Adapter.
package executor

import (
	"strings"
	"sync"
	"time"

	"alpha-core/internal/execution/adapter"
)

// PrecheckConfig tunes ExecutorPrecheck's data-quality gates.
type PrecheckConfig struct {
	ConsistencyMin             float64
	ConsistencyThrottleThreshold float64
}

// DefaultPrecheckConfig matches original_source/executors/executor_precheck.py's
// defaults.
func DefaultPrecheckConfig() PrecheckConfig {
	return PrecheckConfig{ConsistencyMin: 0.15, ConsistencyThrottleThreshold: 0.20}
}

var criticalGuardReasons = map[string]bool{
	"warmup":            true,
	"spread_too_wide":   true,
	"lag_exceeds_cap":   true,
	"market_inactive":   true,
}

// Precheck maps upstream signal state (warmup/guard_reason/consistency)
// onto an immediate accept/reject, deliberately independent of the
// gating/threshold/regime logic already applied upstream by Signal Core:
// by the time an order reaches here, confirm=true already happened, so
// this check only screens for data-quality drift since that decision was
// made (spec.md §4.5).
type Precheck struct {
	cfg PrecheckConfig

	mu          sync.Mutex
	denyStats   map[string]int64
	throttleStats map[string]int64
}

// NewPrecheck creates a Precheck with cfg.
func NewPrecheck(cfg PrecheckConfig) *Precheck {
	return &Precheck{cfg: cfg, denyStats: make(map[string]int64), throttleStats: make(map[string]int64)}
}

// Check runs the precheck, returning a rejected ExecResult if the order
// should not proceed, or an accepted one otherwise.
func (p *Precheck) Check(order adapter.OrderCtx) adapter.ExecResult {
	sentTS := order.TSMs
	if sentTS == 0 {
		sentTS = time.Now().UnixMilli()
	}

	if order.Warmup {
		p.deny("warmup")
		return rejected(order.ClientOrderID, "warmup", sentTS)
	}

	if order.GuardReason != "" {
		for _, reason := range strings.Split(order.GuardReason, ",") {
			reason = strings.TrimSpace(reason)
			if criticalGuardReasons[reason] {
				p.deny(reason)
				return rejected(order.ClientOrderID, reason, sentTS)
			}
		}
	}

	if order.Consistency != 0 {
		if order.Consistency < p.cfg.ConsistencyMin {
			p.deny("low_consistency")
			return rejected(order.ClientOrderID, "low_consistency", sentTS)
		}
		if order.Consistency < p.cfg.ConsistencyThrottleThreshold {
			p.throttle("low_consistency_throttle")
			return rejected(order.ClientOrderID, "low_consistency_throttle", sentTS)
		}
	}

	if order.WeakThrottled {
		p.throttle("weak_signal_throttle")
		return rejected(order.ClientOrderID, "weak_signal_throttle", sentTS)
	}

	return adapter.ExecResult{Status: adapter.ExecStatusAccepted, ClientOrderID: order.ClientOrderID, SentTSMs: sentTS}
}

func rejected(clientOrderID, reason string, sentTS int64) adapter.ExecResult {
	return adapter.ExecResult{
		Status:        adapter.ExecStatusRejected,
		ClientOrderID: clientOrderID,
		RejectReason:  reason,
		SentTSMs:      sentTS,
	}
}

func (p *Precheck) deny(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyStats[reason]++
}

func (p *Precheck) throttle(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.throttleStats[reason]++
}

// Stats returns a snapshot of deny/throttle counters.
func (p *Precheck) Stats() (deny, throttle map[string]int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	deny = make(map[string]int64, len(p.denyStats))
	for k, v := range p.denyStats {
		deny[k] = v
	}
	throttle = make(map[string]int64, len(p.throttleStats))
	for k, v := range p.throttleStats {
		throttle[k] = v
	}
	return deny, throttle
}

// ThrottlerConfig tunes AdaptiveThrottler.
type ThrottlerConfig struct {
	BaseRateLimit float64
	MinRateLimit  float64
	MaxRateLimit  float64
	WindowSeconds int64
}

// DefaultThrottlerConfig matches original_source's AdaptiveThrottler defaults.
func DefaultThrottlerConfig() ThrottlerConfig {
	return ThrottlerConfig{BaseRateLimit: 10, MinRateLimit: 1, MaxRateLimit: 100, WindowSeconds: 60}
}

// AdaptiveThrottler adjusts an effective rate limit from the ratio of
// recent gate-reason denials and the prevailing market regime (spec.md
// §4.5). It does not itself block calls — callers consult ShouldThrottle
// before submitting.
type AdaptiveThrottler struct {
	cfg ThrottlerConfig

	mu               sync.Mutex
	requestTimes     []time.Time
	currentRateLimit float64
	now              func() time.Time
}

// NewAdaptiveThrottler creates a throttler starting at cfg.BaseRateLimit.
func NewAdaptiveThrottler(cfg ThrottlerConfig) *AdaptiveThrottler {
	return &AdaptiveThrottler{cfg: cfg, currentRateLimit: cfg.BaseRateLimit, now: time.Now}
}

// ShouldThrottle reports whether the caller should hold off submitting,
// adjusting the internal rate limit from denyStats (gate-reason counts
// since the last call) and marketActivity ("active"/"quiet").
func (t *AdaptiveThrottler) ShouldThrottle(denyStats map[string]int64, marketActivity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	window := time.Duration(t.cfg.WindowSeconds) * time.Second
	cutoff := now.Add(-window)

	i := 0
	for ; i < len(t.requestTimes); i++ {
		if t.requestTimes[i].After(cutoff) {
			break
		}
	}
	t.requestTimes = t.requestTimes[i:]

	currentCount := len(t.requestTimes)

	if len(denyStats) > 0 {
		var totalDenies int64
		for _, v := range denyStats {
			totalDenies += v
		}
		if totalDenies > 0 {
			denom := float64(currentCount) + float64(totalDenies)
			denyRate := 0.0
			if denom > 0 {
				denyRate = float64(totalDenies) / denom
			}
			switch {
			case denyRate > 0.5:
				t.currentRateLimit = maxF(t.cfg.MinRateLimit, t.currentRateLimit*0.8)
			case denyRate < 0.1:
				t.currentRateLimit = minF(t.cfg.MaxRateLimit, t.currentRateLimit*1.1)
			}
		}
	}

	switch marketActivity {
	case "quiet":
		t.currentRateLimit = maxF(t.cfg.MinRateLimit, t.currentRateLimit*0.5)
	case "active":
		t.currentRateLimit = minF(t.cfg.MaxRateLimit, t.currentRateLimit*1.2)
	}

	if float64(currentCount) >= t.currentRateLimit*float64(t.cfg.WindowSeconds) {
		return true
	}

	t.requestTimes = append(t.requestTimes, now)
	return false
}

// CurrentRateLimit returns the throttler's current effective rate limit.
func (t *AdaptiveThrottler) CurrentRateLimit() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentRateLimit
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
