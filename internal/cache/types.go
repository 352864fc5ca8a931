package cache

import (
	"runtime"

	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/metrics"
	"pdfbudget/internal/progress"
)

// Entry is the pre-compressed form of one input document
type Entry struct {
	Original       string
	CompressedPath string
	// Size is domain.Unusable when compression failed or was cancelled.
	Size int64
	Err  error
	// Cached is set when the entry was filled by an earlier call.
	Cached bool
}

// Fragment converts the entry for the assembler.
func (e Entry) Fragment() domain.Fragment {
	return domain.Fragment{
		Path:   e.CompressedPath,
		Size:   e.Size,
		Origin: e.Original,
		Err:    e.Err,
	}
}

// Options configures the cache
type Options struct {
	Workers  int
	Quality  domain.Quality
	WorkDir  string
	Metrics  *metrics.Metrics
	Notifier *progress.Notifier
}

// DefaultWorkers leaves one core to the caller, with a floor of two.
func DefaultWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 2 {
		n = 2
	}
	return n
}

// slot is written once by the worker that claimed it; done is closed after.
type slot struct {
	done  chan struct{}
	entry Entry
}
