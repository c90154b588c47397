package pcopy

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// DefaultProgressInterval is how often progress lines are logged when enabled.
const DefaultProgressInterval = 5 * time.Second

type ScanOptions struct {
	Threads          int
	Excludes         []string
	ContinueOnError  bool
	Progress         bool
	ProgressInterval time.Duration
}

// scanMessage is what scan workers report to the coordinator. A non-nil err
// replaces the item.
type scanMessage struct {
	item WorkItem
	path string
	err  error
}

type scanner struct {
	root     string
	excludes []string
	results  chan<- scanMessage
}

// ScanTree lists every file and directory under root using options.Threads
// workers. Each worker owns an inbox of directories to list; directories found
// by any worker are handed out round-robin. The coordinator counts directory
// listings still owed and stops once that count reaches zero.
func ScanTree(ctx context.Context, root string, options ScanOptions) (*ScanResult, error) {
	logger := zerolog.Ctx(ctx)
	start := time.Now()

	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve source: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	for _, pattern := range options.Excludes {
		if !doublestar.ValidatePattern(strings.TrimSuffix(pattern, "/")) {
			return nil, errOther(pattern, "invalid exclude pattern")
		}
	}

	threads := max(options.Threads, 1)
	interval := options.ProgressInterval
	if interval <= 0 {
		interval = DefaultProgressInterval
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan scanMessage)
	s := &scanner{root: root, excludes: options.Excludes, results: results}

	var wg sync.WaitGroup
	inboxes := make([]*mailbox[string], threads)
	for i := range inboxes {
		inboxes[i] = newMailbox[string](ctx)
		wg.Add(1)
		go func(paths <-chan string) {
			defer wg.Done()
			s.worker(ctx, paths)
		}(inboxes[i].Out())
	}

	// Every return path goes through shutdown so no worker outlives the scan.
	shutdown := func() {
		cancel()
		for _, inbox := range inboxes {
			inbox.Close()
		}
		wg.Wait()
	}

	if !inboxes[0].Send(root) {
		shutdown()
		return nil, fmt.Errorf("scan %s: %w", root, ctx.Err())
	}

	result := &ScanResult{}
	pending := 1
	next := 1 % threads
	lastProgress := start

	for pending > 0 {
		var msg scanMessage
		select {
		case msg = <-results:
		case <-ctx.Done():
			shutdown()
			return nil, fmt.Errorf("scan %s: %w", root, ctx.Err())
		}

		switch {
		case msg.err != nil:
			if !options.ContinueOnError {
				shutdown()
				return nil, classifyIOError(msg.path, "", msg.err)
			}
			result.Errors++
			logger.Warn().Err(msg.err).Str("path", msg.path).Msg("Skipping unreadable entry")
		case msg.item.Kind == ItemFile:
			result.Found.Merge(Found(1, sizeOf(msg.item.Entry)))
			result.Queue = append(result.Queue, msg.item)
		case msg.item.Kind == ItemDirectory:
			pending++
			result.Dirs++
			result.Queue = append(result.Queue, msg.item)
			if !inboxes[next].Send(msg.item.Entry.Path) {
				shutdown()
				return nil, fmt.Errorf("scan %s: %w", root, ctx.Err())
			}
			next = (next + 1) % threads
		case msg.item.Kind == ItemDone:
			pending--
		}

		if options.Progress && time.Since(lastProgress) >= interval {
			lastProgress = time.Now()
			logger.Info().Msgf("Found %d files so far. Total size: %s",
				result.Found.FileCountFound, humanize.Bytes(result.Found.ByteCountFound))
		}
	}
	shutdown()

	logger.Info().Msgf("Found %d files. Total size: %s", result.Found.FileCountFound, humanize.Bytes(result.Found.ByteCountFound))
	logger.Info().Msgf("Search finished in %.3f seconds", time.Since(start).Seconds())

	return result, nil
}

func (s *scanner) worker(ctx context.Context, paths <-chan string) {
	for dir := range paths {
		if !s.list(ctx, dir) {
			return
		}
		// One Done per listing, after all of its children.
		if !s.send(ctx, scanMessage{item: DoneItem()}) {
			return
		}
	}
}

func (s *scanner) send(ctx context.Context, msg scanMessage) bool {
	select {
	case s.results <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// list reports the children of dir. It returns false once the scan is
// shutting down.
func (s *scanner) list(ctx context.Context, dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		// ReadDir may still return the entries read before the failure.
		if !s.send(ctx, scanMessage{path: dir, err: err}) {
			return false
		}
	}

	for _, de := range entries {
		path := filepath.Join(dir, de.Name())
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			if !s.send(ctx, scanMessage{path: path, err: err}) {
				return false
			}
			continue
		}
		if s.isExcluded(filepath.ToSlash(rel), de.IsDir()) {
			continue
		}

		item, ok, err := classifyEntry(ctx, path, rel, de)
		if err != nil {
			if !s.send(ctx, scanMessage{path: path, err: err}) {
				return false
			}
			continue
		}
		if !ok {
			continue
		}
		if !s.send(ctx, scanMessage{item: item}) {
			return false
		}
	}
	return true
}

// classifyEntry snapshots the metadata of one directory entry. Symbolic links
// to regular files are followed; links to directories are never descended.
func classifyEntry(ctx context.Context, path, rel string, de fs.DirEntry) (WorkItem, bool, error) {
	logger := zerolog.Ctx(ctx)

	info, err := de.Info()
	if err != nil {
		return WorkItem{}, false, err
	}

	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Stat(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("Ignoring dangling symbolic link")
			return WorkItem{}, false, nil
		}
		if target.IsDir() {
			logger.Warn().Str("path", path).Msg("Ignoring symbolic link to directory")
			return WorkItem{}, false, nil
		}
		info = target
	}

	entry := PathEntry{
		Path:    path,
		RelPath: rel,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}

	switch mode := info.Mode(); {
	case mode.IsDir():
		return DirectoryItem(entry), true, nil
	case mode.IsRegular():
		return FileItem(entry), true, nil
	default:
		logger.Debug().Str("path", path).Str("mode", mode.String()).Msg("Ignoring special file")
		return WorkItem{}, false, nil
	}
}

// isExcluded matches rel against the exclude patterns. A pattern ending in "/"
// only matches directories; excluded directories are never listed so their
// contents need no check.
func (s *scanner) isExcluded(rel string, isDir bool) bool {
	for _, pattern := range s.excludes {
		if strings.HasSuffix(pattern, "/") {
			if !isDir {
				continue
			}
			pattern = strings.TrimSuffix(pattern, "/")
		}
		if matched, _ := doublestar.Match(pattern, rel); matched {
			return true
		}
	}
	return false
}
