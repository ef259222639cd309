// Package execlog implements the outbox-pattern execution log sink
// (spec.md §4.7): writes land in spool/execlog/<symbol>/exec_<minute>.part
// and are atomically published (rename, retried Windows-style) to
// ready/execlog/<symbol>/exec_<minute>.jsonl, grounded directly on
// original_source/executors/exec_log_sink_outbox.py.
package execlog

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"alpha-core/internal/execution/adapter"
)

const (
	defaultFsyncEveryN  = 100
	rotateSizeBytes     = 10 * 1024 * 1024
	defaultSampleRate   = 0.01
	atomicMoveRetries   = 3
	atomicMoveBaseDelay = 100 * time.Millisecond
)

// Event is one execution-lifecycle record: submit/ack/partial/filled/
// canceled/rejected.
type Event struct {
	TSMs          int64
	Symbol        string
	Kind          string // submit|ack|partial|filled|canceled|rejected
	Order         *adapter.OrderCtx
	Fill          *adapter.Fill
	Result        *adapter.ExecResult
	State         adapter.OrderState
	Reason        string
	Meta          map[string]any
}

type record struct {
	TSMs            int64              `json:"ts_ms"`
	Symbol          string             `json:"symbol"`
	Event           string             `json:"event"`
	Status          string             `json:"status,omitempty"`
	Reason          string             `json:"reason,omitempty"`
	SignalRowID     string             `json:"signal_row_id,omitempty"`
	ClientOrderID   string             `json:"client_order_id,omitempty"`
	ExchangeOrderID string             `json:"exchange_order_id,omitempty"`
	Side            string             `json:"side,omitempty"`
	Qty             float64            `json:"qty,omitempty"`
	PxIntent        *float64           `json:"px_intent,omitempty"`
	PxSent          *float64           `json:"px_sent,omitempty"`
	SentTSMs        int64              `json:"sent_ts_ms,omitempty"`
	EventTSMs       int64              `json:"event_ts_ms,omitempty"`
	Warmup          bool               `json:"warmup,omitempty"`
	GuardReason     string             `json:"guard_reason,omitempty"`
	Consistency     *float64           `json:"consistency,omitempty"`
	Scenario        string             `json:"scenario,omitempty"`
	Regime          string             `json:"regime,omitempty"`
	LatencyMs       int64              `json:"latency_ms,omitempty"`
	SlippageBps     float64            `json:"slippage_bps,omitempty"`
	RoundingDiff    map[string]float64 `json:"rounding_diff,omitempty"`
	AckTSMs         int64              `json:"ack_ts_ms,omitempty"`
	PxFill          float64            `json:"px_fill,omitempty"`
	FillQty         float64            `json:"fill_qty,omitempty"`
	FillTSMs        int64              `json:"fill_ts_ms,omitempty"`
	Fee             float64            `json:"fee,omitempty"`
	Liquidity       string             `json:"liquidity,omitempty"`
	Meta            map[string]any     `json:"meta"`
}

// SamplePolicy decides whether an event gets written: failed events are
// always kept (100%), accepted/filled events are kept at SampleRate
// (default 1%) to bound volume on hot paths (spec.md §4.7).
type SamplePolicy struct {
	SampleRate float64
	Rand       func() float64
}

// DefaultSamplePolicy keeps all failures and 1% of successes.
func DefaultSamplePolicy() SamplePolicy {
	return SamplePolicy{SampleRate: defaultSampleRate, Rand: rand.Float64}
}

func (p SamplePolicy) keep(kind string) bool {
	switch kind {
	case "rejected", "canceled":
		return true
	default:
		rnd := p.Rand
		if rnd == nil {
			rnd = rand.Float64
		}
		return rnd() < p.SampleRate
	}
}

// Sink is the outbox-pattern execution log writer.
type Sink struct {
	mu          sync.Mutex
	spoolRoot   string
	readyRoot   string
	fsyncEveryN int
	sample      SamplePolicy

	writeCount    int
	currentFile   string
	currentHandle *os.File
	pending       []string
}

// New opens a Sink rooted at outputDir (creating spool/ and ready/ under
// it). fsyncEveryN <= 0 uses the default of 100.
func New(outputDir string, fsyncEveryN int, sample SamplePolicy) (*Sink, error) {
	if fsyncEveryN <= 0 {
		fsyncEveryN = defaultFsyncEveryN
	}
	spoolRoot := filepath.Join(outputDir, "spool", "execlog")
	readyRoot := filepath.Join(outputDir, "ready", "execlog")
	if err := os.MkdirAll(spoolRoot, 0o755); err != nil {
		return nil, fmt.Errorf("execlog: create spool root: %w", err)
	}
	if err := os.MkdirAll(readyRoot, 0o755); err != nil {
		return nil, fmt.Errorf("execlog: create ready root: %w", err)
	}
	return &Sink{spoolRoot: spoolRoot, readyRoot: readyRoot, fsyncEveryN: fsyncEveryN, sample: sample}, nil
}

func (s *Sink) filePaths(tsMs int64, symbol string) (spoolFile, readyFile string) {
	minute := time.UnixMilli(tsMs).UTC().Format("20060102_1504")
	return filepath.Join(s.spoolRoot, symbol, "exec_"+minute+".part"),
		filepath.Join(s.readyRoot, symbol, "exec_"+minute+".jsonl")
}

// WriteEvent appends ev's record to the open spool file for its (symbol,
// minute), rotating/publishing as needed, subject to the sink's
// SamplePolicy.
func (s *Sink) WriteEvent(ev Event) error {
	if !s.sample.keep(ev.Kind) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec := toRecord(ev)
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("execlog: marshal event: %w", err)
	}

	spoolFile, _ := s.filePaths(ev.TSMs, ev.Symbol)
	if err := os.MkdirAll(filepath.Dir(spoolFile), 0o755); err != nil {
		return fmt.Errorf("execlog: create symbol spool dir: %w", err)
	}

	if err := s.rotateIfNeeded(spoolFile); err != nil {
		return err
	}

	if _, err := s.currentHandle.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("execlog: write event: %w", err)
	}
	s.writeCount++

	if s.writeCount >= s.fsyncEveryN {
		if err := s.currentHandle.Sync(); err != nil {
			return fmt.Errorf("execlog: fsync: %w", err)
		}
		s.writeCount = 0
	}

	if info, err := os.Stat(s.currentFile); err == nil && info.Size() > rotateSizeBytes {
		if err := s.closeAndPublish(s.currentFile); err != nil {
			return err
		}
		s.currentFile = ""
		s.currentHandle = nil
	}

	return nil
}

func (s *Sink) rotateIfNeeded(spoolFile string) error {
	if s.currentFile != "" && s.currentFile != spoolFile {
		if err := s.closeAndPublish(s.currentFile); err != nil {
			return err
		}
		s.currentFile = ""
		s.currentHandle = nil
	}

	if s.currentFile != spoolFile {
		f, err := os.OpenFile(spoolFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("execlog: open spool file: %w", err)
		}
		s.currentFile = spoolFile
		s.currentHandle = f
		s.writeCount = 0
	}
	return nil
}

func (s *Sink) closeAndPublish(spoolFile string) error {
	if s.currentHandle != nil && s.currentFile == spoolFile {
		if s.writeCount > 0 {
			_ = s.currentHandle.Sync()
			s.writeCount = 0
		}
		s.currentHandle.Close()
		s.currentHandle = nil
	}

	symbol := filepath.Base(filepath.Dir(spoolFile))
	minute := filepath.Base(spoolFile)
	minute = minute[len("exec_") : len(minute)-len(".part")]
	readyFile := filepath.Join(s.readyRoot, symbol, "exec_"+minute+".jsonl")

	info, err := os.Stat(spoolFile)
	if err != nil || info.Size() == 0 {
		return nil
	}

	if err := atomicMoveWithRetry(spoolFile, readyFile); err != nil {
		s.pending = append(s.pending, spoolFile)
		return fmt.Errorf("execlog: publish %s: %w", spoolFile, err)
	}
	return nil
}

// atomicMoveWithRetry renames src to dst, retrying with backoff on a
// transient OS error (Windows file-handle contention; on Unix os.Rename
// is already atomic and this almost never retries).
func atomicMoveWithRetry(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < atomicMoveRetries; attempt++ {
		if err := os.Rename(src, dst); err == nil {
			return nil
		} else {
			lastErr = err
			time.Sleep(atomicMoveBaseDelay * time.Duration(attempt+1))
		}
	}
	return lastErr
}

// Flush publishes the currently-open file and retries any pending
// publishes from a prior failed rename.
func (s *Sink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.currentFile != "" {
		if err := s.closeAndPublish(s.currentFile); err != nil {
			return err
		}
		s.currentFile = ""
		s.currentHandle = nil
	}

	retry := s.pending
	s.pending = nil
	for _, f := range retry {
		if _, err := os.Stat(f); err == nil {
			if err := s.closeAndPublish(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close flushes and releases the sink's file handle.
func (s *Sink) Close() error {
	return s.Flush()
}

func toRecord(ev Event) record {
	rec := record{
		TSMs:   ev.TSMs,
		Symbol: ev.Symbol,
		Event:  ev.Kind,
		Status: string(ev.State),
		Reason: ev.Reason,
		Meta:   map[string]any{},
	}
	for k, v := range ev.Meta {
		rec.Meta[k] = v
	}
	rec.Meta["_writer"] = "exec_jsonl_outbox_v1"

	if ev.Order != nil {
		o := ev.Order
		rec.SignalRowID = o.SignalRowID
		rec.ClientOrderID = o.ClientOrderID
		rec.Side = string(o.Side)
		rec.Qty = o.Qty
		if o.Price != 0 {
			px := o.Price
			rec.PxIntent = &px
			rec.PxSent = &px
		}
		sentTS := o.TSMs
		if sentTS == 0 {
			sentTS = ev.TSMs
		}
		rec.SentTSMs = sentTS
		rec.EventTSMs = o.EventTSMs
		rec.Warmup = o.Warmup
		rec.GuardReason = o.GuardReason
		if o.Consistency != 0 {
			c := o.Consistency
			rec.Consistency = &c
		}
		rec.Scenario = string(o.Scenario)
		rec.Regime = string(o.Regime)
	}

	if ev.Result != nil {
		r := ev.Result
		rec.ExchangeOrderID = r.ExchangeOrderID
		if r.RejectReason != "" {
			rec.Reason = r.RejectReason
		}
		rec.LatencyMs = r.LatencyMs
		rec.SlippageBps = r.SlippageBps
		rec.RoundingDiff = r.RoundingApplied
		rec.AckTSMs = r.AckTSMs
	}

	if ev.Fill != nil {
		f := ev.Fill
		rec.PxFill = f.Price
		rec.FillQty = f.Qty
		rec.FillTSMs = f.TSMs
		rec.Fee = f.Fee
		rec.Liquidity = f.Liquidity
		if f.BrokerOrderID != "" {
			rec.ExchangeOrderID = f.BrokerOrderID
		}
	}

	return rec
}
