package reader

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FSSource walks a local filesystem root looking for both the partitioned
// date=/hour=/symbol=/kind= layout (optionally under raw/) and the flat
// ready/{kind}/{symbol}/... layout. A missing directory yields zero rows,
// not an error.
type FSSource struct {
	Root      string
	structure string
}

// NewFSSource creates a filesystem-backed Source rooted at root.
func NewFSSource(root string) *FSSource {
	return &FSSource{Root: root}
}

func (s *FSSource) StructureType() string {
	if s.structure == "" {
		return "unknown"
	}
	return s.structure
}

func (s *FSSource) ListPartitions(ctx context.Context, kind string, includePreview bool) ([]FileHandle, error) {
	var handles []FileHandle

	// Flat layout: ready/{kind}/{symbol}/*.jsonl, preview/{kind}/{symbol}/*.jsonl
	layers := []string{"ready"}
	if includePreview {
		layers = append(layers, "preview")
	}
	flatFound := false
	for _, layer := range layers {
		base := filepath.Join(s.Root, layer, kind)
		if _, err := os.Stat(base); err != nil {
			continue
		}
		flatFound = true
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, symEntry := range entries {
			if !symEntry.IsDir() {
				continue
			}
			symbol := symEntry.Name()
			symDir := filepath.Join(base, symbol)
			files, err := os.ReadDir(symDir)
			if err != nil {
				continue
			}
			for _, f := range files {
				if f.IsDir() || !isDataFile(f.Name()) {
					continue
				}
				path := filepath.Join(symDir, f.Name())
				handles = append(handles, fsHandle(path, symbol, kind, layer))
			}
		}
	}
	if flatFound {
		s.structure = "flat"
		return handles, nil
	}

	// Partitioned layout: (raw/)?date=YYYY-MM-DD/hour=HH/symbol=SYM/kind=KIND/*.jsonl
	for _, root := range []string{filepath.Join(s.Root, "raw"), s.Root} {
		if _, err := os.Stat(root); err != nil {
			continue
		}
		found, err := walkPartitioned(root, kind)
		if err != nil || len(found) == 0 {
			continue
		}
		s.structure = "partitioned"
		return found, nil
	}

	s.structure = "empty"
	return nil, nil
}

func walkPartitioned(root, kind string) ([]FileHandle, error) {
	var handles []FileHandle
	dateEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	for _, dateEntry := range dateEntries {
		if !dateEntry.IsDir() || !strings.HasPrefix(dateEntry.Name(), "date=") {
			continue
		}
		hourDirs, err := os.ReadDir(filepath.Join(root, dateEntry.Name()))
		if err != nil {
			continue
		}
		for _, hourEntry := range hourDirs {
			if !hourEntry.IsDir() || !strings.HasPrefix(hourEntry.Name(), "hour=") {
				continue
			}
			symPath := filepath.Join(root, dateEntry.Name(), hourEntry.Name())
			symDirs, err := os.ReadDir(symPath)
			if err != nil {
				continue
			}
			for _, symEntry := range symDirs {
				if !symEntry.IsDir() || !strings.HasPrefix(symEntry.Name(), "symbol=") {
					continue
				}
				symbol := strings.TrimPrefix(symEntry.Name(), "symbol=")
				kindPath := filepath.Join(symPath, symEntry.Name(), "kind="+kind)
				files, err := os.ReadDir(kindPath)
				if err != nil {
					continue
				}
				for _, f := range files {
					if f.IsDir() || !isDataFile(f.Name()) {
						continue
					}
					path := filepath.Join(kindPath, f.Name())
					handles = append(handles, fsHandle(path, symbol, kind, "ready"))
				}
			}
		}
	}
	return handles, nil
}

func isDataFile(name string) bool {
	return strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".ndjson") || strings.HasSuffix(name, ".parquet")
}

func fsHandle(path, symbol, kind, layer string) FileHandle {
	return FileHandle{
		Path:   path,
		Symbol: symbol,
		Kind:   kind,
		Layer:  layer,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}
