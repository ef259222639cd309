package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"alpha-core/internal/execution/adapter"
	"alpha-core/internal/execution/execlog"
	"alpha-core/internal/featuretypes"
	"alpha-core/libs/microstructure"
	"alpha-core/libs/observability"
	clocklib "alpha-core/libs/testing"
)

// Mode identifies which of the three Executor variants is active.
type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModeTestnet  Mode = "testnet"
	ModeLive     Mode = "live"
)

// Config bundles the optional cross-cutting layers an Executor wires
// around its Adapter (spec.md §4.5). Precheck/Throttler/Idempotency may be
// nil to disable that layer — the backtest variant typically disables all
// three, matching original_source/executors/backtest_executor.py's
// `enable_precheck` defaulting to false in backtest mode.
type Config struct {
	Precheck    *Precheck
	Throttler   *AdaptiveThrottler
	Idempotency *IdempotencyTracker
	// SimulateFills makes Submit synthesize an immediate taker fill at
	// OrderCtx.Price with SlippageBps/FeeBps applied, the backtest
	// variant's "fill on ack" shortcut (original_source's BacktestExecutor
	// does this inline rather than going through TradeSimulator for the
	// execution-layer smoke path; TradeSimulator owns the full cost model
	// for the backtest replay itself, see internal/backtest/tradesim).
	SimulateFills bool
	SlippageBps   float64
	FeeBps        float64
	// Clock sources sent/ack timestamps. Nil defaults to the system clock;
	// tests inject a clocklib.ManualClock for deterministic latency assertions.
	Clock clocklib.Clock
	// Latency, if set, receives every Submit/Cancel round-trip and is
	// consulted before each Submit: a P99 breach (microstructure.LatencyTracker's
	// broker-latency pause logic) rejects the order with reason "latency_pause"
	// instead of sending it into a degraded venue. Nil disables the check.
	Latency *microstructure.LatencyTracker
}

// Executor wires one adapter.Adapter with the ExecLogSink, precheck,
// throttler and idempotency layers spec.md §4.5 describes. The same type
// backs all three modes; only the Adapter and Config.SimulateFills differ
// between them (mirroring original_source: backtest/testnet/live
// Executors share almost all of IExecutor and differ mainly in which
// Adapter they hold and whether they locally simulate fills).
type Executor struct {
	mode   Mode
	adp    adapter.Adapter
	sink   *execlog.Sink
	cfg    Config

	mu        sync.Mutex
	positions map[string]float64
	fills     map[string][]adapter.Fill
	orders    map[string]adapter.OrderCtx
}

// New creates an Executor in mode, submitting through adp and logging
// through sink.
func New(mode Mode, adp adapter.Adapter, sink *execlog.Sink, cfg Config) *Executor {
	if cfg.Clock == nil {
		cfg.Clock = clocklib.SystemClock{}
	}
	return &Executor{
		mode:      mode,
		adp:       adp,
		sink:      sink,
		cfg:       cfg,
		positions: make(map[string]float64),
		fills:     make(map[string][]adapter.Fill),
		orders:    make(map[string]adapter.OrderCtx),
	}
}

// Mode reports which of backtest/testnet/live this Executor runs as.
func (e *Executor) Mode() Mode { return e.mode }

// Submit runs order through the precheck/throttle/idempotency layers (any
// configured) before delegating to the Adapter, logging every step to the
// ExecLogSink (spec.md §4.5, §4.7).
func (e *Executor) Submit(ctx context.Context, order adapter.OrderCtx) (adapter.ExecResult, error) {
	sentTS := order.TSMs
	if sentTS == 0 {
		sentTS = e.cfg.Clock.Now().UnixMilli()
	}

	if e.cfg.Idempotency != nil {
		if cached, ok := e.cfg.Idempotency.Lookup(order.ClientOrderID); ok {
			return cached, nil
		}
	}

	e.mu.Lock()
	e.orders[order.ClientOrderID] = order
	e.mu.Unlock()

	_ = e.sink.WriteEvent(execlog.Event{
		TSMs: sentTS, Symbol: order.Symbol, Kind: "submit", Order: &order, State: adapter.OrderStateNew,
		Meta: map[string]any{"mode": string(e.mode)},
	})

	if e.cfg.Precheck != nil {
		res := e.cfg.Precheck.Check(order)
		if res.Status == adapter.ExecStatusRejected {
			e.logRejected(order, res, sentTS)
			e.remember(order.ClientOrderID, res)
			return res, nil
		}
	}

	if e.cfg.Throttler != nil {
		marketActivity := string(order.Regime)
		if marketActivity == "" {
			marketActivity = "active"
		}
		if e.cfg.Throttler.ShouldThrottle(nil, marketActivity) {
			res := adapter.ExecResult{Status: adapter.ExecStatusRejected, ClientOrderID: order.ClientOrderID, RejectReason: "rate_limit", SentTSMs: sentTS}
			e.logRejected(order, res, sentTS)
			e.remember(order.ClientOrderID, res)
			return res, nil
		}
	}

	if e.cfg.Latency != nil {
		if paused, reason := e.cfg.Latency.TradingPaused(); paused {
			res := adapter.ExecResult{Status: adapter.ExecStatusRejected, ClientOrderID: order.ClientOrderID, RejectReason: "latency_pause", SentTSMs: sentTS}
			e.logRejected(order, res, sentTS)
			e.remember(order.ClientOrderID, res)
			observability.LogEvent(ctx, "warn", "latency_pause", map[string]any{"symbol": order.Symbol, "reason": reason})
			return res, nil
		}
	}

	start := time.Now()
	result, err := e.adp.Submit(ctx, order)
	elapsed := time.Since(start)
	observability.RecordAdapterCall(ctx, e.modeKind(), "submit", elapsed, err)
	if e.cfg.Latency != nil {
		e.cfg.Latency.Record(microstructure.LatencyObservation{Category: "order_submit", Latency: elapsed, RecordedAt: e.cfg.Clock.Now()})
	}

	if err != nil {
		code := adapter.CodeOf(err)
		rejected := adapter.ExecResult{
			Status: adapter.ExecStatusRejected, ClientOrderID: order.ClientOrderID,
			RejectReason: string(code), SentTSMs: sentTS,
		}
		e.logRejected(order, rejected, sentTS)
		e.remember(order.ClientOrderID, rejected)
		return rejected, err
	}

	ackTS := e.cfg.Clock.Now().UnixMilli()
	if result.AckTSMs == 0 {
		result.AckTSMs = ackTS
	}
	if result.SentTSMs == 0 {
		result.SentTSMs = sentTS
	}
	if result.LatencyMs == 0 {
		result.LatencyMs = result.AckTSMs - result.SentTSMs
	}

	_ = e.sink.WriteEvent(execlog.Event{
		TSMs: result.AckTSMs, Symbol: order.Symbol, Kind: "ack", Order: &order, Result: &result,
		State: adapter.OrderStateAck, Meta: map[string]any{"mode": string(e.mode)},
	})

	if e.cfg.SimulateFills && order.Price > 0 {
		fill := e.simulateFill(order, result.AckTSMs)
		e.recordFill(order, fill)
		_ = e.sink.WriteEvent(execlog.Event{
			TSMs: fill.TSMs, Symbol: order.Symbol, Kind: "filled", Order: &order, Fill: &fill,
			State: adapter.OrderStateFilled, Meta: map[string]any{"mode": string(e.mode)},
		})
	}

	e.remember(order.ClientOrderID, result)
	return result, nil
}

func (e *Executor) modeKind() string { return string(e.mode) }

func (e *Executor) remember(clientOrderID string, result adapter.ExecResult) {
	if e.cfg.Idempotency != nil {
		e.cfg.Idempotency.MarkProcessed(clientOrderID, result)
	}
}

func (e *Executor) logRejected(order adapter.OrderCtx, result adapter.ExecResult, tsMs int64) {
	_ = e.sink.WriteEvent(execlog.Event{
		TSMs: tsMs, Symbol: order.Symbol, Kind: "rejected", Order: &order, Result: &result,
		State: adapter.OrderStateRejected, Reason: result.RejectReason,
		Meta: map[string]any{"mode": string(e.mode)},
	})
}

func (e *Executor) simulateFill(order adapter.OrderCtx, tsMs int64) adapter.Fill {
	price := order.Price
	if order.Side == featuretypes.SideBuy {
		price *= 1 + e.cfg.SlippageBps/10_000
	} else {
		price *= 1 - e.cfg.SlippageBps/10_000
	}
	notional := price * order.Qty
	fee := notional * e.cfg.FeeBps / 10_000

	return adapter.Fill{
		TSMs: tsMs, Symbol: order.Symbol, ClientOrderID: order.ClientOrderID,
		Price: price, Qty: order.Qty, Fee: fee, Liquidity: "taker", Side: order.Side,
	}
}

func (e *Executor) recordFill(order adapter.OrderCtx, fill adapter.Fill) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.fills[order.ClientOrderID] = append(e.fills[order.ClientOrderID], fill)
	if order.Side == featuretypes.SideBuy {
		e.positions[order.Symbol] += order.Qty
	} else {
		e.positions[order.Symbol] -= order.Qty
	}
}

// Cancel delegates to the Adapter, refusing to cancel an order this
// Executor has already recorded a fill for.
func (e *Executor) Cancel(ctx context.Context, orderID string) (adapter.CancelResult, error) {
	e.mu.Lock()
	order, known := e.orders[orderID]
	hasFill := len(e.fills[orderID]) > 0
	e.mu.Unlock()

	if known && hasFill {
		return adapter.CancelResult{}, fmt.Errorf("executor: cannot cancel filled order %s", orderID)
	}

	start := time.Now()
	result, err := e.adp.Cancel(ctx, orderID)
	elapsed := time.Since(start)
	observability.RecordAdapterCall(ctx, e.modeKind(), "cancel", elapsed, err)
	if e.cfg.Latency != nil {
		e.cfg.Latency.Record(microstructure.LatencyObservation{Category: "order_cancel", Latency: elapsed, RecordedAt: e.cfg.Clock.Now()})
	}
	if err != nil {
		return result, err
	}

	symbol := order.Symbol
	_ = e.sink.WriteEvent(execlog.Event{
		TSMs: e.cfg.Clock.Now().UnixMilli(), Symbol: symbol, Kind: "canceled", State: adapter.OrderStateCanceled,
		Meta: map[string]any{"mode": string(e.mode)},
	})
	return result, nil
}

// FetchFills merges locally-simulated fills with whatever the Adapter
// reports, sorted by timestamp.
func (e *Executor) FetchFills(ctx context.Context, sinceTSMs int64) ([]adapter.Fill, error) {
	adapterFills, err := e.adp.FetchFills(ctx, sinceTSMs)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	var local []adapter.Fill
	for _, fills := range e.fills {
		for _, f := range fills {
			if f.TSMs >= sinceTSMs {
				local = append(local, f)
			}
		}
	}
	e.mu.Unlock()

	all := append(adapterFills, local...)
	sort.Slice(all, func(i, j int) bool { return all[i].TSMs < all[j].TSMs })
	return all, nil
}

// GetPosition returns the locally-tracked position for symbol.
func (e *Executor) GetPosition(symbol string) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[symbol]
}

// Close flushes the execution log sink.
func (e *Executor) Close() error {
	return e.sink.Close()
}
