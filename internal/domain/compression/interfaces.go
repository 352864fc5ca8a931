package compression

import (
	"context"
)

// Result describes one successful engine invocation.
type Result struct {
	OutputPath string
	Size       int64
	// Diagnostic holds engine output worth surfacing, even on success.
	Diagnostic string
	// Skipped lists inputs excluded by fault isolation, as passed to Invoke.
	Skipped []string
}

// Recompressor merges and recompresses an ordered batch into one file.
// Implementations must not modify the inputs.
type Recompressor interface {
	Invoke(ctx context.Context, inputs []string, quality Quality, output string) (*Result, error)
}

// PageSource reads and writes page streams.
type PageSource interface {
	PageCount(path string) (int, error)
	// WriteRange writes pages [start, end) of path to output.
	WriteRange(path string, start, end int, output string) error
	// Merge concatenates the pages of inputs, in order, without recompression.
	Merge(inputs []string, output string) error
}

// InputValidator is implemented by page sources that can reject a file
// before any engine work is spent on it.
type InputValidator interface {
	Validate(path string) error
}

// BlankStripper is implemented by page sources that can drop content-free pages.
// It returns the number of removed pages; zero means output was not written.
type BlankStripper interface {
	StripBlankPages(path, output string) (int, error)
}
