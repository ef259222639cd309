package store

import (
	"context"
	"testing"

	"alpha-core/internal/featuretypes"
)

func TestMemStore_InsertAndLookup(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	rec := ExecutionRecord{
		Symbol: "BTCUSDT", SignalID: "sig-1", ClientOrderID: "cid-1",
		Side: featuretypes.SideBuy, Qty: 1.0, Status: "accepted", SubmittedTSMs: 1000,
	}
	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, ok, err := s.ByOrderID(ctx, "BTCUSDT", "sig-1", "cid-1")
	if err != nil {
		t.Fatalf("ByOrderID: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if got.ClientOrderID != "cid-1" || got.Qty != 1.0 {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestMemStore_DuplicateInsertFails(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	rec := ExecutionRecord{Symbol: "ETHUSDT", SignalID: "sig-2", ClientOrderID: "cid-2"}

	if err := s.Insert(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := s.Insert(ctx, rec); err != ErrDuplicate {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemStore_LookupMiss(t *testing.T) {
	s := NewMemStore()
	_, ok, err := s.ByOrderID(context.Background(), "BTCUSDT", "nope", "nope")
	if err != nil {
		t.Fatalf("ByOrderID: %v", err)
	}
	if ok {
		t.Error("expected miss")
	}
}
