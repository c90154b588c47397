package pcopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Copier mirrors a source directory tree under a destination root.
type Copier struct {
	Overwrite        bool
	Skip             bool
	ContinueOnError  bool
	Progress         bool
	Threads          int
	Excludes         []string
	ProgressInterval time.Duration
	// Journal, if set, is the path of a badger database recording every copied file.
	Journal string
	// Manifest, if set, receives the scanned entries as JSON lines.
	Manifest string
}

// DefaultThreads is one worker per core, or 2 when the core count is unknown.
func DefaultThreads() int {
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 2
}

// Run scans src and copies it to dst. The returned report carries whatever
// totals were accumulated, including on error.
func (c *Copier) Run(ctx context.Context, src, dst string) (*Report, error) {
	logger := zerolog.Ctx(ctx)
	start := time.Now()
	report := &Report{}

	if c.Skip && c.Overwrite {
		return report, errOther("", "cannot have both skip and overwrite set")
	}

	src, err := filepath.Abs(src)
	if err != nil {
		return report, errOther(src, err.Error())
	}
	dst, err = filepath.Abs(dst)
	if err != nil {
		return report, errOther(dst, err.Error())
	}
	if src == dst {
		return report, errOther(dst, "source and destination are the same directory")
	}

	fi, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return report, errSourceNotFound(src)
		}
		return report, classifyIOError(src, "", err)
	}
	if !fi.IsDir() {
		return report, errNotFaster(src)
	}

	threads := c.Threads
	if threads <= 0 {
		threads = DefaultThreads()
	}
	logger.Info().Msgf("Starting copy with %d threads", threads)

	scan, err := ScanTree(ctx, src, ScanOptions{
		Threads:          threads,
		Excludes:         c.Excludes,
		ContinueOnError:  c.ContinueOnError,
		Progress:         c.Progress,
		ProgressInterval: c.ProgressInterval,
	})
	if err != nil {
		report.Elapsed = time.Since(start)
		return report, err
	}
	report.Totals = scan.Found
	report.Dirs = scan.Dirs
	report.ScanErrors = scan.Errors

	if c.Manifest != "" {
		if err := WriteManifest(c.Manifest, scan.Queue); err != nil {
			return report, errOther(c.Manifest, err.Error())
		}
	}

	var journal *Journal
	if c.Journal != "" {
		journal, err = OpenJournal(c.Journal)
		if err != nil {
			return report, errOther(c.Journal, err.Error())
		}
		defer func() {
			if err := journal.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close journal")
			}
		}()
		if err := journal.Reset(); err != nil {
			return report, errOther(c.Journal, err.Error())
		}
	}

	report.Totals, err = c.copyQueue(ctx, scan, src, dst, threads, journal)
	report.Elapsed = time.Since(start)
	return report, err
}

// threadReady is sent by a copy worker when it wants its next item. delta is
// the result of the item it just finished.
type threadReady struct {
	id    int
	delta Accumulator
}

// copyOutcome carries either a ready signal or a fatal error.
type copyOutcome struct {
	ready threadReady
	err   error
}

type copyWorker struct {
	id        int
	srcRoot   string
	dstRoot   string
	overwrite bool
	skip      bool
	journal   *Journal
	outcomes  chan<- copyOutcome
}

// copyQueue hands queued items to workers as they ask for them. The run is
// over once every worker has asked for work with nothing left to give, or on
// the first fatal error. Either way every worker is stopped and joined before
// returning.
func (c *Copier) copyQueue(ctx context.Context, scan *ScanResult, srcRoot, dstRoot string, threads int, journal *Journal) (Accumulator, error) {
	logger := zerolog.Ctx(ctx)
	start := time.Now()
	totals := scan.Found

	interval := c.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	if err := os.MkdirAll(dstRoot, 0o755); err != nil {
		return totals, errDirectoryCreation(dstRoot, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outcomes := make(chan copyOutcome)
	inboxes := make([]chan WorkItem, threads)
	var wg sync.WaitGroup
	for id := range inboxes {
		// A worker never has more than one item outstanding.
		inboxes[id] = make(chan WorkItem, 1)
		w := &copyWorker{
			id:        id,
			srcRoot:   srcRoot,
			dstRoot:   dstRoot,
			overwrite: c.Overwrite,
			skip:      c.Skip,
			journal:   journal,
			outcomes:  outcomes,
		}
		wg.Add(1)
		go func(inbox <-chan WorkItem) {
			defer wg.Done()
			w.run(ctx, inbox)
		}(inboxes[id])
	}

	queue := scan.Queue
	idle := 0
	lastProgress := start
	var fatal error

	for idle < threads {
		var o copyOutcome
		select {
		case o = <-outcomes:
		case <-ctx.Done():
			fatal = fmt.Errorf("copy to %s: %w", dstRoot, ctx.Err())
		}
		if fatal == nil {
			fatal = o.err
		}
		if fatal != nil {
			break
		}

		totals.Merge(o.ready.delta)
		if len(queue) > 0 {
			inboxes[o.ready.id] <- queue[0]
			queue = queue[1:]
		} else {
			idle++
		}

		if c.Progress && time.Since(lastProgress) >= interval {
			lastProgress = time.Now()
			logger.Info().Msgf("Files: %d / %d (%.2f%%). Bytes: %s / %s (%.2f%%)",
				totals.FileCountCopied, totals.FileCountFound, totals.FilePercent(),
				humanize.Bytes(totals.ByteCountCopied), humanize.Bytes(totals.ByteCountFound), totals.BytePercent())
		}
	}

	cancel()
	for _, inbox := range inboxes {
		close(inbox)
	}
	wg.Wait()

	if fatal != nil {
		return totals, fatal
	}

	seconds := time.Since(start).Seconds()
	var rate uint64
	if seconds > 0 {
		rate = uint64(float64(totals.ByteCountCopied) / seconds)
	}
	logger.Info().Msgf("Finished copy of %d files (%s) in %.2f seconds, (~%s/s), %d files (%s) skipped.",
		totals.FileCountCopied, humanize.Bytes(totals.ByteCountCopied), seconds, humanize.Bytes(rate),
		totals.FileCountSkipped, humanize.Bytes(totals.ByteCountSkipped))

	return totals, nil
}

func (w *copyWorker) run(ctx context.Context, inbox <-chan WorkItem) {
	if !w.report(ctx, copyOutcome{ready: threadReady{id: w.id}}) {
		return
	}
	for item := range inbox {
		delta, err := w.process(ctx, item)
		if err != nil {
			// Several workers can hit the same condition at once. Only the
			// first report the coordinator reads matters; the rest are dropped.
			w.report(ctx, copyOutcome{err: err})
			return
		}
		if !w.report(ctx, copyOutcome{ready: threadReady{id: w.id, delta: delta}}) {
			return
		}
	}
}

func (w *copyWorker) report(ctx context.Context, o copyOutcome) bool {
	select {
	case w.outcomes <- o:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *copyWorker) process(ctx context.Context, item WorkItem) (Accumulator, error) {
	switch item.Kind {
	case ItemFile:
		return w.copyFile(ctx, item.Entry)
	case ItemDirectory:
		dst, err := w.destination(item.Entry)
		if err != nil {
			return Accumulator{}, err
		}
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return Accumulator{}, errDirectoryCreation(dst, err)
		}
		return Accumulator{}, nil
	default:
		return Accumulator{}, nil
	}
}

// destination re-roots an entry under the destination root.
func (w *copyWorker) destination(e PathEntry) (string, error) {
	rel := e.RelPath
	if rel == "" {
		var err error
		if rel, err = filepath.Rel(w.srcRoot, e.Path); err != nil {
			return "", errOther(e.Path, err.Error())
		}
	}
	return filepath.Join(w.dstRoot, rel), nil
}

func (w *copyWorker) copyFile(ctx context.Context, e PathEntry) (Accumulator, error) {
	logger := zerolog.Ctx(ctx)

	dst, err := w.destination(e)
	if err != nil {
		return Accumulator{}, err
	}

	srcInfo, err := os.Stat(e.Path)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn().Str("path", e.Path).Msg("File found during scan no longer exists")
		return Skips(1, sizeOf(e)), nil
	}

	if _, err := os.Lstat(dst); err == nil {
		if w.skip {
			return Skips(1, sizeOf(e)), nil
		}
		if !w.overwrite {
			return Accumulator{}, errCannotOverwrite(dst)
		}
		// Creating dst would truncate the source before it is read.
		if dstInfo, err := os.Stat(dst); err == nil && srcInfo != nil && os.SameFile(srcInfo, dstInfo) {
			return Accumulator{}, errOther(dst, "source and destination are the same file")
		}
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Accumulator{}, errDirectoryCreation(dir, err)
	}

	n, sum, err := writeFile(ctx, e.Path, dst, w.journal != nil)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Accumulator{}, ctxErr
		}
		if errors.Is(err, fs.ErrNotExist) {
			if _, serr := os.Stat(e.Path); errors.Is(serr, fs.ErrNotExist) {
				logger.Warn().Str("path", e.Path).Msg("File found during scan no longer exists")
				return Skips(1, sizeOf(e)), nil
			}
		}
		return Accumulator{}, classifyIOError(e.Path, dst, err)
	}

	if w.journal != nil {
		rel, err := filepath.Rel(w.dstRoot, dst)
		if err != nil {
			return Accumulator{}, errOther(dst, err.Error())
		}
		rec := JournalRecord{Size: n, Checksum: sum, ModTime: e.ModTime.UnixNano()}
		if err := w.journal.Record(rel, rec); err != nil {
			return Accumulator{}, errOther(dst, fmt.Sprintf("journal: %v", err))
		}
	}

	return Copies(1, uint64(n)), nil
}

// writeFile copies src to dst and gives dst the modification time of src. The
// xxhash64 of the content is returned when withChecksum is set. A partially
// written dst is removed on failure.
func writeFile(ctx context.Context, src, dst string, withChecksum bool) (int64, uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, 0, err
	}
	defer in.Close()

	fi, err := in.Stat()
	if err != nil {
		return 0, 0, err
	}

	out, err := os.Create(dst)
	if err != nil {
		return 0, 0, err
	}

	var w io.Writer = out
	var hasher *xxhash.Digest
	if withChecksum {
		hasher = xxhash.New()
		w = io.MultiWriter(out, hasher)
	}

	n, err := io.Copy(w, &ctxReader{ctx: ctx, r: in})
	if err != nil {
		out.Close()
		os.Remove(dst)
		return 0, 0, err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return 0, 0, err
	}

	if err := os.Chtimes(dst, fi.ModTime(), fi.ModTime()); err != nil {
		return 0, 0, err
	}

	var sum uint64
	if hasher != nil {
		sum = hasher.Sum64()
	}
	return n, sum, nil
}
