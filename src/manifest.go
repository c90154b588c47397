package pcopy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// ManifestRecord is one line of a scan manifest.
type ManifestRecord struct {
	Kind  string `json:"kind"`
	Path  string `json:"path"`
	Size  int64  `json:"size"`
	MTime int64  `json:"mtime"`
}

// WriteManifest writes queue to path as JSON lines, in queue order. A path
// ending in ".zst" is zstd compressed.
func WriteManifest(path string, queue []WorkItem) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create manifest: %w", err)
	}
	defer f.Close()

	var w io.WriteCloser = nopWriteCloser{f}
	if strings.HasSuffix(path, ".zst") {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			return fmt.Errorf("create zstd writer: %w", err)
		}
		w = enc
	}

	buffered := bufio.NewWriter(w)
	enc := json.NewEncoder(buffered)
	for _, item := range queue {
		if item.Kind == ItemDone {
			continue
		}
		rec := ManifestRecord{
			Kind:  item.Kind.String(),
			Path:  filepath.ToSlash(item.Entry.RelPath),
			Size:  item.Entry.Size,
			MTime: item.Entry.ModTime.UnixNano(),
		}
		if err := enc.Encode(rec); err != nil {
			w.Close()
			return fmt.Errorf("write manifest: %w", err)
		}
	}

	if err := buffered.Flush(); err != nil {
		w.Close()
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return f.Close()
}

// readManifest decodes a manifest written by WriteManifest.
func readManifest(path string) ([]ManifestRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		defer dec.Close()
		r = dec
	}

	var records []ManifestRecord
	dec := json.NewDecoder(r)
	for {
		var rec ManifestRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return records, nil
			}
			return nil, fmt.Errorf("decode manifest: %w", err)
		}
		records = append(records, rec)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
