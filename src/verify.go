package pcopy

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// VerifyReport lists the journaled files whose destination copy is missing or
// differs in size or checksum.
type VerifyReport struct {
	Checked    int
	Mismatched []string
}

func (r *VerifyReport) OK() bool {
	return len(r.Mismatched) == 0
}

// MismatchError is returned by callers that treat a failed verification as an error.
type MismatchError struct {
	Paths []string
}

func (e *MismatchError) Error() string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("%d copied files failed verification:\n", len(e.Paths)))
	for _, p := range e.Paths {
		builder.WriteString(p)
		builder.WriteString("\n")
	}
	return builder.String()
}

type journalEntry struct {
	rel string
	rec JournalRecord
}

// Verify re-hashes every file recorded in the journal at journalPath under
// dstRoot, with at most threads files hashed at once.
func Verify(ctx context.Context, journalPath, dstRoot string, threads int) (*VerifyReport, error) {
	logger := zerolog.Ctx(ctx)

	journal, err := OpenJournal(journalPath)
	if err != nil {
		return nil, err
	}
	defer journal.Close()

	var entries []journalEntry
	if err := journal.Each(func(rel string, rec JournalRecord) error {
		entries = append(entries, journalEntry{rel: rel, rec: rec})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	report := &VerifyReport{Checked: len(entries)}
	var mu sync.Mutex
	mismatch := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		report.Mismatched = append(report.Mismatched, path)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(max(threads, 1))
	for _, entry := range entries {
		eg.Go(func() error {
			path := filepath.Join(dstRoot, filepath.FromSlash(entry.rel))
			sum, size, err := ComputeFileHash(ctx, path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					logger.Warn().Str("path", path).Msg("Journaled file is missing")
					mismatch(path)
					return nil
				}
				return fmt.Errorf("verify %s: %w", path, err)
			}
			if size != entry.rec.Size || sum != entry.rec.Checksum {
				logger.Warn().Str("path", path).Msg("Checksum mismatch")
				mismatch(path)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sort.Strings(report.Mismatched)
	logger.Info().Msgf("Verified %d files, %d mismatched", report.Checked, len(report.Mismatched))
	return report, nil
}
