package executor

import (
	"context"

	"alpha-core/internal/execution/adapter"
)

// ShadowComparison records how a shadow (testnet) submission compared to
// the main submission for the same order: price/status/reason parity and
// latency delta, grounded on
// original_source/executors/shadow_execution.py's ShadowComparison.
type ShadowComparison struct {
	MainResult    adapter.ExecResult
	ShadowResult  *adapter.ExecResult
	PricePar      *float64
	StatusPar     *float64
	ReasonPar     *float64
	LatencyDiffMs *int64
}

// ShadowExecutor submits a parallel "shadow" order to a testnet Executor
// for every live submission, comparing intent price / ack / reject rate
// without ever letting the shadow order actually fill anything real.
type ShadowExecutor struct {
	shadow  *Executor
	enabled bool

	comparisonCount int64
	priceParitySum  float64
	statusParitySum float64
	reasonParitySum float64
	comparisons     []ShadowComparison
}

// NewShadowExecutor wraps shadow (typically a testnet-mode Executor) for
// parity comparison against a main executor's results.
func NewShadowExecutor(shadow *Executor, enabled bool) *ShadowExecutor {
	return &ShadowExecutor{shadow: shadow, enabled: enabled}
}

// ExecuteShadow submits order to the shadow executor and compares its
// result against mainResult. Shadow-submission errors never propagate —
// a broken shadow path must not affect the main execution path.
func (s *ShadowExecutor) ExecuteShadow(ctx context.Context, order adapter.OrderCtx, mainResult adapter.ExecResult) ShadowComparison {
	if !s.enabled {
		return ShadowComparison{MainResult: mainResult}
	}

	shadowResult, err := s.shadow.Submit(ctx, order)
	if err != nil {
		return ShadowComparison{MainResult: mainResult}
	}

	comparison := s.compare(mainResult, shadowResult, order)
	s.updateStats(comparison)
	return comparison
}

func (s *ShadowExecutor) compare(main, shadow adapter.ExecResult, order adapter.OrderCtx) ShadowComparison {
	c := ShadowComparison{MainResult: main, ShadowResult: &shadow}

	if main.Status == adapter.ExecStatusAccepted && shadow.Status == adapter.ExecStatusAccepted {
		c.PricePar = floatPtr(priceParity(order))
	}

	statusPar := 0.0
	if main.Status == shadow.Status {
		statusPar = 1.0
	}
	c.StatusPar = floatPtr(statusPar)

	reasonPar := 0.0
	if main.RejectReason == shadow.RejectReason {
		reasonPar = 1.0
	}
	c.ReasonPar = floatPtr(reasonPar)

	diff := main.LatencyMs - shadow.LatencyMs
	if diff < 0 {
		diff = -diff
	}
	c.LatencyDiffMs = int64Ptr(diff)

	return c
}

// priceParity always reports full parity: the shadow order carries the
// same intent price as the main order (there is no independent shadow
// fill price to diff against), matching
// original_source/executors/shadow_execution.py's _compare_results,
// which compares order_ctx.price against itself for the same reason.
func priceParity(order adapter.OrderCtx) float64 {
	return 1.0
}

func (s *ShadowExecutor) updateStats(c ShadowComparison) {
	s.comparisonCount++
	s.comparisons = append(s.comparisons, c)
	if len(s.comparisons) > 1000 {
		s.comparisons = s.comparisons[1:]
	}

	if c.PricePar != nil {
		s.priceParitySum += *c.PricePar
	}
	if c.StatusPar != nil {
		s.statusParitySum += *c.StatusPar
	}
	if c.ReasonPar != nil {
		s.reasonParitySum += *c.ReasonPar
	}
}

// GetParityRatio returns the rolling weighted parity ratio (status 0.5 +
// price 0.25 + reason 0.25) over the last 100 comparisons, defaulting to
// 1.0 with zero comparisons.
func (s *ShadowExecutor) GetParityRatio() float64 {
	window := s.comparisons
	if len(window) > 100 {
		window = window[len(window)-100:]
	}
	if len(window) == 0 {
		return 1.0
	}
	var priceSum, statusSum, reasonSum float64
	for _, c := range window {
		if c.PricePar != nil {
			priceSum += *c.PricePar
		}
		statusSum += *c.StatusPar
		reasonSum += *c.ReasonPar
	}
	n := float64(len(window))
	return statusSum/n*0.5 + priceSum/n*0.25 + reasonSum/n*0.25
}

// Stats returns the comparison count alongside each parity average (over
// every comparison since the last ResetStats) and the rolling parity ratio.
func (s *ShadowExecutor) Stats() (count int64, priceAvg, statusAvg, reasonAvg, parityRatio float64) {
	if s.comparisonCount == 0 {
		return 0, 1.0, 1.0, 1.0, 1.0
	}
	n := float64(s.comparisonCount)
	return s.comparisonCount, s.priceParitySum / n, s.statusParitySum / n, s.reasonParitySum / n, s.GetParityRatio()
}

// ResetStats clears all accumulated comparisons.
func (s *ShadowExecutor) ResetStats() {
	s.comparisonCount = 0
	s.priceParitySum = 0
	s.statusParitySum = 0
	s.reasonParitySum = 0
	s.comparisons = nil
}

// ShadowExecutorWrapper wraps a main Executor, firing a shadow submission
// after every real Submit and invoking the OnLowParity callback after each
// comparison that leaves the rolling parity ratio below 0.99.
type ShadowExecutorWrapper struct {
	main   *Executor
	shadow *ShadowExecutor

	onLowParity func(parityRatio float64, main, shadow adapter.ExecResult)
}

// NewShadowExecutorWrapper wraps main with an optional shadow comparator.
// shadow may be nil to disable shadow execution entirely.
func NewShadowExecutorWrapper(main *Executor, shadow *ShadowExecutor) *ShadowExecutorWrapper {
	return &ShadowExecutorWrapper{main: main, shadow: shadow}
}

// OnLowParity registers a callback invoked whenever the rolling parity
// ratio drops below 0.99 after a shadow comparison.
func (w *ShadowExecutorWrapper) OnLowParity(fn func(parityRatio float64, main, shadow adapter.ExecResult)) {
	w.onLowParity = fn
}

// Submit submits through the main executor, then (if shadow execution is
// enabled) fires a parallel shadow submission for parity comparison. The
// returned result and error always come from the main executor only.
func (w *ShadowExecutorWrapper) Submit(ctx context.Context, order adapter.OrderCtx) (adapter.ExecResult, error) {
	mainResult, err := w.main.Submit(ctx, order)

	if w.shadow != nil && w.shadow.enabled {
		comparison := w.shadow.ExecuteShadow(ctx, order, mainResult)
		ratio := w.shadow.GetParityRatio()
		if ratio < 0.99 && w.onLowParity != nil && comparison.ShadowResult != nil {
			w.onLowParity(ratio, mainResult, *comparison.ShadowResult)
		}
	}

	return mainResult, err
}

// ShadowStats reports the shadow comparator's stats, or ok=false if
// shadow execution is disabled.
func (w *ShadowExecutorWrapper) ShadowStats() (count int64, priceAvg, statusAvg, reasonAvg, parityRatio float64, ok bool) {
	if w.shadow == nil {
		return 0, 0, 0, 0, 0, false
	}
	count, priceAvg, statusAvg, reasonAvg, parityRatio = w.shadow.Stats()
	return count, priceAvg, statusAvg, reasonAvg, parityRatio, true
}

func floatPtr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64     { return &i }
