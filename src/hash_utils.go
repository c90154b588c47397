package pcopy

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
)

// ComputeFileHash returns the xxhash64 checksum and length of the file at filePath.
func ComputeFileHash(ctx context.Context, filePath string) (uint64, int64, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	hasher := xxhash.New()
	n, err := io.Copy(hasher, &ctxReader{ctx: ctx, r: file})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to hash file content: %w", err)
	}
	return hasher.Sum64(), n, nil
}

// ctxReader fails reads once ctx is done so long copies stop on shutdown.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
