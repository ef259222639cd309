// Package store persists ExecutionRecord rows for the live Executor
// variant, backed by Postgres via libs/database (pgx) in production or
// an in-memory map in tests (spec.md §4.6, SPEC_FULL.md §4.6).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"alpha-core/internal/execution/adapter"
	"alpha-core/internal/featuretypes"
)

// ErrDuplicate is returned when a record violating the UNIQUE
// (symbol, signal_id, order_id) constraint is inserted again — the
// retry discipline spec.md §5 describes for concurrent single-writer
// workers.
var ErrDuplicate = errors.New("store: duplicate (symbol, signal_id, order_id)")

// ExecutionRecord is the durable row recorded for every order submission
// outcome, keyed by (symbol, signal_id, order_id).
type ExecutionRecord struct {
	ID            string
	Symbol        string
	SignalID      string
	ClientOrderID string
	Side          featuretypes.Side
	Qty           float64
	Status        adapter.ExecResultStatus
	RejectReason  string
	SubmittedTSMs int64
	AckTSMs       int64
}

// Store persists and looks up ExecutionRecords.
type Store interface {
	Insert(ctx context.Context, rec ExecutionRecord) error
	ByOrderID(ctx context.Context, symbol, signalID, orderID string) (ExecutionRecord, bool, error)
	Close() error
}

// MemStore is an in-memory Store for tests and the backtest path, where
// nothing needs to durably survive process restart.
type MemStore struct {
	mu   sync.Mutex
	rows map[string]ExecutionRecord
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]ExecutionRecord)}
}

func key(symbol, signalID, orderID string) string {
	return symbol + "|" + signalID + "|" + orderID
}

// Insert adds rec, returning ErrDuplicate if its (symbol, signal_id,
// order_id) key already exists.
func (m *MemStore) Insert(ctx context.Context, rec ExecutionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(rec.Symbol, rec.SignalID, rec.ClientOrderID)
	if _, exists := m.rows[k]; exists {
		return ErrDuplicate
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	m.rows[k] = rec
	return nil
}

// ByOrderID looks up the record for (symbol, signal_id, order_id).
func (m *MemStore) ByOrderID(ctx context.Context, symbol, signalID, orderID string) (ExecutionRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key(symbol, signalID, orderID)]
	return rec, ok, nil
}

// Close is a no-op for MemStore.
func (m *MemStore) Close() error { return nil }

// PostgresStore persists ExecutionRecords via a *sql.DB opened against
// the pgx driver (libs/database.Connect). The table's UNIQUE constraint
// rejects a repeated (symbol, signal_id, client_order_id) key, which
// Insert reports as ErrDuplicate; the store itself does not retry.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps db, assuming the execution_records table
// already exists (schema owned by deployment tooling, not this
// package — see EnsureSchema for local/test bootstrapping).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the execution_records table if it does not
// already exist, for local development and integration tests.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS execution_records (
	id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	client_order_id TEXT NOT NULL,
	side TEXT NOT NULL,
	qty DOUBLE PRECISION NOT NULL,
	status TEXT NOT NULL,
	reject_reason TEXT,
	submitted_ts_ms BIGINT NOT NULL,
	ack_ts_ms BIGINT,
	UNIQUE (symbol, signal_id, client_order_id)
)`)
	if err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// Insert writes rec, translating a UNIQUE-constraint violation on
// (symbol, signal_id, client_order_id) into ErrDuplicate so callers can
// apply the retry-with-new-id discipline spec.md §5 describes instead
// of treating it as a hard failure.
func (s *PostgresStore) Insert(ctx context.Context, rec ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO execution_records
	(id, symbol, signal_id, client_order_id, side, qty, status, reject_reason, submitted_ts_ms, ack_ts_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.Symbol, rec.SignalID, rec.ClientOrderID, string(rec.Side), rec.Qty,
		string(rec.Status), rec.RejectReason, rec.SubmittedTSMs, rec.AckTSMs)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("store: insert execution record: %w", err)
	}
	return nil
}

// ByOrderID looks up the record for (symbol, signal_id, order_id).
func (s *PostgresStore) ByOrderID(ctx context.Context, symbol, signalID, orderID string) (ExecutionRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, symbol, signal_id, client_order_id, side, qty, status, reject_reason, submitted_ts_ms, ack_ts_ms
FROM execution_records
WHERE symbol = $1 AND signal_id = $2 AND client_order_id = $3`, symbol, signalID, orderID)

	var rec ExecutionRecord
	var side, status string
	var reason sql.NullString
	var ackTS sql.NullInt64
	err := row.Scan(&rec.ID, &rec.Symbol, &rec.SignalID, &rec.ClientOrderID, &side, &rec.Qty, &status, &reason, &rec.SubmittedTSMs, &ackTS)
	if errors.Is(err, sql.ErrNoRows) {
		return ExecutionRecord{}, false, nil
	}
	if err != nil {
		return ExecutionRecord{}, false, fmt.Errorf("store: query execution record: %w", err)
	}
	rec.Side = featuretypes.Side(side)
	rec.Status = adapter.ExecResultStatus(status)
	rec.RejectReason = reason.String
	rec.AckTSMs = ackTS.Int64
	return rec, true, nil
}

// Close releases the underlying *sql.DB.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// isUniqueViolation checks for Postgres SQLSTATE 23505 without importing
// a pgx-specific error type, so this also works against the plain
// database/sql error text pgx/stdlib surfaces.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint")
}
