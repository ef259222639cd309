package signalcore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"alpha-core/internal/featuretypes"
)

// JSONLSink is an append-only, mutex-guarded, sequence-stamped writer, one
// file per symbol (adapted from libs/replay.TraceStore's OpenTraceStore/
// Append pattern). It writes every signal unconditionally, confirmed or
// gated, since downstream audit needs the full decision trail (spec.md
// §4.4).
type JSONLSink struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
	seq   map[string]uint64
}

// NewJSONLSink creates a sink writing one `<dir>/<symbol>.jsonl` file per
// symbol, opened lazily and lazily appended to.
func NewJSONLSink(dir string) (*JSONLSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("signalcore: create sink dir: %w", err)
	}
	return &JSONLSink{dir: dir, files: make(map[string]*os.File), seq: make(map[string]uint64)}, nil
}

type jsonlRecord struct {
	Seq uint64 `json:"seq"`
	featuretypes.Signal
}

// Write appends sig to its symbol's file.
func (s *JSONLSink) Write(sig featuretypes.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[sig.Symbol]
	if !ok {
		path := filepath.Join(s.dir, sig.Symbol+".jsonl")
		var err error
		f, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("signalcore: open sink file for %s: %w", sig.Symbol, err)
		}
		s.files[sig.Symbol] = f
	}

	s.seq[sig.Symbol]++
	record := jsonlRecord{Seq: s.seq[sig.Symbol], Signal: sig}

	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("signalcore: marshal signal: %w", err)
	}
	raw = append(raw, '\n')

	w := bufio.NewWriter(f)
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("signalcore: write signal: %w", err)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("signalcore: flush signal: %w", err)
	}
	return f.Sync()
}

// Close closes every open per-symbol file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
