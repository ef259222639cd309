package observability

import (
	"context"
	"time"
)

// RecordAdapterCall logs one venue adapter call (submit/cancel/fetch_fills).
func RecordAdapterCall(ctx context.Context, kind, method string, duration time.Duration, err error) {
	fields := map[string]any{
		"name":       "adapter_call",
		"kind":       kind,
		"method":     method,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "metric", fields)
}

// RecordSignalEmit logs a Signal Core decision outcome for one evaluation.
func RecordSignalEmit(ctx context.Context, symbol, decisionCode string, confirmed bool) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name":          "signal_emit",
		"symbol":        symbol,
		"decision_code": decisionCode,
		"confirmed":     confirmed,
	})
}

// RecordSinkPublish logs one outbox publication (spool .part -> ready .jsonl).
func RecordSinkPublish(ctx context.Context, symbol string, events int, err error) {
	fields := map[string]any{
		"name":    "sink_publish",
		"symbol":  symbol,
		"events":  events,
		"success": err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "metric", fields)
}

// RecordBacktestRun logs a completed backtest replay for one run_id.
func RecordBacktestRun(ctx context.Context, duration time.Duration, trades int) {
	LogEvent(ctx, "info", "metric", map[string]any{
		"name":       "backtest_run",
		"latency_ms": duration.Milliseconds(),
		"trades":     trades,
	})
}
