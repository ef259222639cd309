package reader

import (
	"context"
	"fmt"
	"sort"
)

// Filter restricts which rows Reader.Read yields.
type Filter struct {
	Symbols  map[string]bool // nil/empty = all symbols
	StartMs  int64
	EndMs    int64 // 0 = unbounded
	Minutes  int64 // optional window in minutes; Read does not apply it
	Session  string
}

func (f Filter) allowsSymbol(symbol string) bool {
	if len(f.Symbols) == 0 {
		return true
	}
	return f.Symbols[symbol]
}

func (f Filter) allowsTS(tsMs int64) bool {
	if f.StartMs > 0 && tsMs < f.StartMs {
		return false
	}
	if f.EndMs > 0 && tsMs > f.EndMs {
		return false
	}
	return true
}

// Stats is the observability surface the Reader reports after a scan,
// including structure_type so CI can detect layout regressions.
type Stats struct {
	TotalRows         int
	FilteredRows      int
	DeduplicatedRows  int
	MissingFieldCount int
	CorruptRowCount   int
	ScannedDirs       int
	PartitionCount    int
	SampleFilePaths   []string
	StructureType     string
}

// DedupKeeper partitions a dedup key set into minute buckets, evicting
// buckets older than keepHours after each file so memory stays bounded
// independent of run length (spec.md §4.1).
type DedupKeeper struct {
	keepHours int
	buckets   map[int64]map[string]bool // minute bucket -> seen keys
}

// NewDedupKeeper creates a keeper retaining keepHours of minute buckets.
func NewDedupKeeper(keepHours int) *DedupKeeper {
	if keepHours <= 0 {
		keepHours = 2
	}
	return &DedupKeeper{keepHours: keepHours, buckets: make(map[int64]map[string]bool)}
}

// SeenAndMark reports whether key was already seen for the minute bucket
// derived from tsMs, marking it seen as a side effect.
func (d *DedupKeeper) SeenAndMark(tsMs int64, key string) bool {
	minute := tsMs / 60000
	bucket, ok := d.buckets[minute]
	if !ok {
		bucket = make(map[string]bool)
		d.buckets[minute] = bucket
	}
	if bucket[key] {
		return true
	}
	bucket[key] = true
	return false
}

// EvictOlderThan drops minute buckets more than keepHours before the
// newest minute observed so far.
func (d *DedupKeeper) EvictOlderThan(newestMinute int64) {
	cutoff := newestMinute - int64(d.keepHours)*60
	for minute := range d.buckets {
		if minute < cutoff {
			delete(d.buckets, minute)
		}
	}
}

// Reader scans a Source for rows of a given kind, deduplicating and
// filtering as it goes.
type Reader struct {
	src            Source
	dedupKeepHours int
	includePreview bool
	sourcePriority []string
}

// New creates a Reader over src.
func New(src Source, dedupKeepHours int, includePreview bool, sourcePriority []string) *Reader {
	if len(sourcePriority) == 0 {
		sourcePriority = []string{"ready", "preview"}
	}
	return &Reader{src: src, dedupKeepHours: dedupKeepHours, includePreview: includePreview, sourcePriority: sourcePriority}
}

func dedupKey(kind, symbol string, row map[string]any) (string, int64, bool) {
	if kind == "features" {
		if raw, ok := row["second_ts"]; ok {
			if sec, ok := asInt64(raw); ok {
				return fmt.Sprintf("%s|%d", symbol, sec), sec * 1000, true
			}
		}
	}
	raw, ok := row["ts_ms"]
	if !ok {
		return "", 0, false
	}
	tsMs, ok := asInt64(raw)
	if !ok {
		return "", 0, false
	}
	keyTS := tsMs
	if kind == "features" {
		keyTS = tsMs / 1000 // second_ts derived from ts_ms
	}
	return fmt.Sprintf("%s|%d", symbol, keyTS), tsMs, true
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// Read scans all partitions matching kind/filter and returns the
// deduplicated, filtered rows plus scan statistics. Files are processed in
// source-priority order (ready/ before preview/ by default) and the first
// row seen for a key is kept, so a ready/ row wins over a preview/ row of
// the same key.
func (r *Reader) Read(ctx context.Context, kind string, filter Filter) ([]Row, Stats, error) {
	handles, err := r.src.ListPartitions(ctx, kind, r.includePreview)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("reader: list partitions: %w", err)
	}

	sort.SliceStable(handles, func(i, j int) bool {
		return layerRank(handles[i].Layer, r.sourcePriority) < layerRank(handles[j].Layer, r.sourcePriority)
	})

	dedup := NewDedupKeeper(r.dedupKeepHours)
	stats := Stats{StructureType: r.src.StructureType(), PartitionCount: len(handles)}

	var out []Row
	var maxMinute int64

	for _, h := range handles {
		stats.ScannedDirs++
		if len(stats.SampleFilePaths) < 5 {
			stats.SampleFilePaths = append(stats.SampleFilePaths, h.Path)
		}

		rc, err := h.Open(ctx)
		if err != nil {
			// A missing/unreadable file is a data defect, not fatal.
			stats.CorruptRowCount++
			continue
		}

		corrupt := decodeJSONLRows(rc, func(row map[string]any) {
			stats.TotalRows++

			key, tsMs, ok := dedupKey(kind, h.Symbol, row)
			if !ok {
				stats.MissingFieldCount++
				return
			}

			if !filter.allowsSymbol(h.Symbol) || !filter.allowsTS(tsMs) {
				stats.FilteredRows++
				return
			}

			if dedup.SeenAndMark(tsMs, key) {
				stats.DeduplicatedRows++
				return
			}
			if minute := tsMs / 60000; minute > maxMinute {
				maxMinute = minute
				dedup.EvictOlderThan(maxMinute)
			}

			out = append(out, Row{Symbol: h.Symbol, Kind: kind, Fields: row, Path: h.Path, Layer: h.Layer})
		})
		stats.CorruptRowCount += corrupt
		rc.Close()
	}

	return out, stats, nil
}

func layerRank(layer string, priority []string) int {
	for i, p := range priority {
		if p == layer {
			return i
		}
	}
	return len(priority)
}
