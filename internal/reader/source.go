// Package reader enumerates partitioned source directories and yields rows
// of a requested kind (features, prices, orderbook, signals), deduplicating
// by minute bucket and reporting scan statistics (spec.md §4.1).
package reader

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
)

// Row is one raw record read from a source file, still tagged with its
// originating path and layer (ready/preview) for source-priority handling.
type Row struct {
	Symbol string
	Kind   string
	Fields map[string]any
	Path   string
	Layer  string // "ready" or "preview"
}

// FileHandle is a readable partition file plus the metadata the Reader
// needs to apply source priority and partition bookkeeping.
type FileHandle struct {
	Path   string
	Symbol string
	Kind   string
	Layer  string
	Open   func(ctx context.Context) (io.ReadCloser, error)
}

// Source abstracts the backing store a Reader scans: a local filesystem
// tree or an S3 bucket holding the same partitioned layout.
type Source interface {
	// ListPartitions enumerates candidate files for the given kind,
	// honoring the (date=/hour=/symbol=/kind=) and flat ready/{kind}/{symbol}
	// layouts, and including preview/ when includePreview is true.
	ListPartitions(ctx context.Context, kind string, includePreview bool) ([]FileHandle, error)
	// StructureType reports which layout was detected, an observability
	// aid CI uses to detect accidental layout regressions.
	StructureType() string
}

// decodeJSONLRows streams newline-delimited JSON objects from r, calling
// fn for each decoded row. A line that fails to parse is skipped and
// counted via the returned corrupt count; it never aborts the scan.
func decodeJSONLRows(r io.Reader, fn func(map[string]any)) (corrupt int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(line, &row); err != nil {
			corrupt++
			continue
		}
		fn(row)
	}
	return corrupt
}
