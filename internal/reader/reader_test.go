package reader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeJSONL(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	for _, l := range lines {
		if _, err := f.WriteString(l + "\n"); err != nil {
			t.Fatal(err)
		}
	}
}

func TestReader_FlatLayout_DedupAndFilter(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, filepath.Join(root, "ready", "features", "BTCUSDT", "part1.jsonl"), []string{
		`{"ts_ms": 1000, "symbol": "BTCUSDT", "mid": 100}`,
		`{"ts_ms": 2000, "symbol": "BTCUSDT", "mid": 101}`,
		`{"ts_ms": 2000, "symbol": "BTCUSDT", "mid": 101}`, // duplicate
	})

	src := NewFSSource(root)
	rd := New(src, 2, false, nil)

	rows, stats, err := rd.Read(context.Background(), "features", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 deduplicated rows, got %d", len(rows))
	}
	if stats.DeduplicatedRows != 1 {
		t.Errorf("expected 1 deduplicated row counted, got %d", stats.DeduplicatedRows)
	}
	if stats.StructureType != "flat" {
		t.Errorf("expected flat structure, got %s", stats.StructureType)
	}
}

func TestReader_MissingDirectory_YieldsZeroRows(t *testing.T) {
	root := t.TempDir()
	src := NewFSSource(root)
	rd := New(src, 2, false, nil)

	rows, stats, err := rd.Read(context.Background(), "features", Filter{})
	if err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected 0 rows, got %d", len(rows))
	}
	if stats.StructureType != "empty" {
		t.Errorf("expected empty structure, got %s", stats.StructureType)
	}
}

func TestReader_SymbolFilter(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, filepath.Join(root, "ready", "features", "BTCUSDT", "p.jsonl"), []string{
		`{"ts_ms": 1000, "symbol": "BTCUSDT"}`,
	})
	writeJSONL(t, filepath.Join(root, "ready", "features", "ETHUSDT", "p.jsonl"), []string{
		`{"ts_ms": 1000, "symbol": "ETHUSDT"}`,
	})

	src := NewFSSource(root)
	rd := New(src, 2, false, nil)

	rows, _, err := rd.Read(context.Background(), "features", Filter{Symbols: map[string]bool{"BTCUSDT": true}})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Symbol != "BTCUSDT" {
		t.Fatalf("expected only BTCUSDT rows, got %+v", rows)
	}
}

func TestReader_CorruptRowSkippedAndCounted(t *testing.T) {
	root := t.TempDir()
	writeJSONL(t, filepath.Join(root, "ready", "features", "BTCUSDT", "p.jsonl"), []string{
		`{"ts_ms": 1000, "symbol": "BTCUSDT"}`,
		`not json`,
		`{"ts_ms": 2000, "symbol": "BTCUSDT"}`,
	})

	src := NewFSSource(root)
	rd := New(src, 2, false, nil)

	rows, stats, err := rd.Read(context.Background(), "features", Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 valid rows, got %d", len(rows))
	}
	if stats.CorruptRowCount != 1 {
		t.Errorf("expected 1 corrupt row counted, got %d", stats.CorruptRowCount)
	}
}

func TestDedupKeeper_EvictsOldBuckets(t *testing.T) {
	d := NewDedupKeeper(1) // keep 1 hour

	d.SeenAndMark(0, "a")
	d.EvictOlderThan(0)

	// 2 hours later, the old bucket should be gone, so "a" is not seen again.
	laterMinute := int64(121)
	d.EvictOlderThan(laterMinute)

	if d.SeenAndMark(laterMinute*60000, "a") {
		t.Error("expected old dedup bucket to have been evicted")
	}
}
