package pcopy

// Accumulator is an additive record of found, copied and skipped files and
// bytes. Values are passed between goroutines by copy and only ever merged.
type Accumulator struct {
	FileCountFound   uint64 `json:"file_count_found"`
	ByteCountFound   uint64 `json:"byte_count_found"`
	FileCountCopied  uint64 `json:"file_count_copied"`
	ByteCountCopied  uint64 `json:"byte_count_copied"`
	FileCountSkipped uint64 `json:"file_count_skipped"`
	ByteCountSkipped uint64 `json:"byte_count_skipped"`
}

func Found(files, bytes uint64) Accumulator {
	return Accumulator{FileCountFound: files, ByteCountFound: bytes}
}

func Copies(files, bytes uint64) Accumulator {
	return Accumulator{FileCountCopied: files, ByteCountCopied: bytes}
}

func Skips(files, bytes uint64) Accumulator {
	return Accumulator{FileCountSkipped: files, ByteCountSkipped: bytes}
}

// Add returns the sum of a and b.
func (a Accumulator) Add(b Accumulator) Accumulator {
	return Accumulator{
		FileCountFound:   a.FileCountFound + b.FileCountFound,
		ByteCountFound:   a.ByteCountFound + b.ByteCountFound,
		FileCountCopied:  a.FileCountCopied + b.FileCountCopied,
		ByteCountCopied:  a.ByteCountCopied + b.ByteCountCopied,
		FileCountSkipped: a.FileCountSkipped + b.FileCountSkipped,
		ByteCountSkipped: a.ByteCountSkipped + b.ByteCountSkipped,
	}
}

// Merge adds b into a in place.
func (a *Accumulator) Merge(b Accumulator) {
	*a = a.Add(b)
}

// FilePercent is the share of found files already copied, 0 when nothing was found.
func (a Accumulator) FilePercent() float64 {
	if a.FileCountFound == 0 {
		return 0
	}
	return float64(a.FileCountCopied) / float64(a.FileCountFound) * 100
}

// BytePercent is the share of found bytes already copied, 0 when nothing was found.
func (a Accumulator) BytePercent() float64 {
	if a.ByteCountFound == 0 {
		return 0
	}
	return float64(a.ByteCountCopied) / float64(a.ByteCountFound) * 100
}

func sizeOf(e PathEntry) uint64 {
	if e.Size < 0 {
		return 0
	}
	return uint64(e.Size)
}
