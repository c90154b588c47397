package pcopy

import "time"

// PathEntry is a file or directory found during the scan. The metadata is a
// snapshot taken at discovery time and may be stale by the time it is copied.
type PathEntry struct {
	Path    string    `json:"path"`
	RelPath string    `json:"rel_path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
	IsDir   bool      `json:"is_dir"`
}

type ItemKind uint8

const (
	ItemFile ItemKind = iota
	ItemDirectory
	// ItemDone tells the scan coordinator that one directory listing has been
	// fully drained. It carries no entry.
	ItemDone
)

func (k ItemKind) String() string {
	switch k {
	case ItemFile:
		return "file"
	case ItemDirectory:
		return "dir"
	case ItemDone:
		return "done"
	default:
		return "unknown"
	}
}

// WorkItem is a single result of the scan and a single unit of work for the
// copy phase.
type WorkItem struct {
	Kind  ItemKind
	Entry PathEntry
}

func FileItem(e PathEntry) WorkItem {
	return WorkItem{Kind: ItemFile, Entry: e}
}

func DirectoryItem(e PathEntry) WorkItem {
	e.IsDir = true
	return WorkItem{Kind: ItemDirectory, Entry: e}
}

func DoneItem() WorkItem {
	return WorkItem{Kind: ItemDone}
}

// ScanResult is what the scan phase hands to the copy phase.
type ScanResult struct {
	Queue  []WorkItem
	Found  Accumulator
	Dirs   int
	Errors int
}

// Report summarizes a complete run.
type Report struct {
	Totals     Accumulator
	Dirs       int
	ScanErrors int
	Elapsed    time.Duration
}
