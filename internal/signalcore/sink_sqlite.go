package signalcore

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"alpha-core/internal/featuretypes"
)

// SQLiteSink mirrors the JSONL decision trail into a SQLite database so ad
// hoc SQL queries over a run's signals don't require re-parsing JSONL
// (spec.md §4.4, sink=sqlite|dual). The WAL pragma connection string mirrors
// the teacher pack's embedded-sqlite convention: one writer, readers never
// block it.
type SQLiteSink struct {
	db *sql.DB
}

// NewSQLiteSink opens (creating if absent) a SQLite database at path in WAL
// mode with a 5s busy timeout.
func NewSQLiteSink(path string) (*SQLiteSink, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("signalcore: open sqlite sink: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: single-writer by design

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("signalcore: migrate sqlite sink: %w", err)
	}
	return &SQLiteSink{db: db}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS signals (
	signal_id     TEXT NOT NULL,
	symbol        TEXT NOT NULL,
	ts_ms         INTEGER NOT NULL,
	score         REAL NOT NULL,
	signal_type   TEXT NOT NULL,
	confirm       INTEGER NOT NULL,
	gating        INTEGER NOT NULL,
	decision_code TEXT NOT NULL,
	gate_reason   TEXT NOT NULL,
	regime        TEXT NOT NULL,
	scenario_2x2  TEXT NOT NULL,
	config_hash   TEXT NOT NULL,
	run_id        TEXT NOT NULL,
	feature_data  TEXT NOT NULL DEFAULT '{}',
	PRIMARY KEY (symbol, ts_ms)
);
CREATE INDEX IF NOT EXISTS idx_signals_run ON signals(run_id);
`

// Write upserts sig keyed by (symbol, ts_ms), matching the <=1-signal-per-
// second invariant (spec.md §8).
func (s *SQLiteSink) Write(sig featuretypes.Signal) error {
	featureData := "{}"
	if sig.FeatureData != nil {
		raw, err := json.Marshal(sig.FeatureData)
		if err != nil {
			return fmt.Errorf("signalcore: marshal feature_data: %w", err)
		}
		featureData = string(raw)
	}

	confirm, gating := 0, 0
	if sig.Confirm {
		confirm = 1
	}
	if sig.Gating == 1 {
		gating = 1
	}

	_, err := s.db.Exec(`
		INSERT INTO signals (signal_id, symbol, ts_ms, score, signal_type, confirm, gating,
			decision_code, gate_reason, regime, scenario_2x2, config_hash, run_id, feature_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol, ts_ms) DO UPDATE SET
			signal_id=excluded.signal_id, score=excluded.score, signal_type=excluded.signal_type,
			confirm=excluded.confirm, gating=excluded.gating, decision_code=excluded.decision_code,
			gate_reason=excluded.gate_reason, regime=excluded.regime, scenario_2x2=excluded.scenario_2x2,
			config_hash=excluded.config_hash, run_id=excluded.run_id, feature_data=excluded.feature_data
	`, sig.SignalID, sig.Symbol, sig.TSMs, sig.Score, string(sig.SignalType), confirm, gating,
		string(sig.DecisionCode), sig.GateReason, string(sig.Regime), string(sig.Scenario2x2),
		sig.ConfigHash, sig.RunID, featureData)
	if err != nil {
		return fmt.Errorf("signalcore: insert signal: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}

// MultiSink fans a single Write out to every wrapped Sink, stopping at the
// first error (sink=dual mode).
type MultiSink struct {
	Sinks []Sink
}

// Write writes sig to every wrapped sink in order.
func (m MultiSink) Write(sig featuretypes.Signal) error {
	for _, s := range m.Sinks {
		if err := s.Write(sig); err != nil {
			return err
		}
	}
	return nil
}
