package compression

import (
	"fmt"
	"math"
	"strings"
)

// Quality is a Ghostscript PDFSETTINGS preset, forwarded verbatim to the engine.
type Quality string

const (
	QualityScreen   Quality = "screen"
	QualityEbook    Quality = "ebook"
	QualityPrinter  Quality = "printer"
	QualityPrepress Quality = "prepress"
)

// ParseQuality normalizes a preset name. It accepts the engine spelling
// ("/ebook") and the older level names used by the desktop app.
func ParseQuality(s string) (Quality, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.TrimPrefix(v, "/")

	switch v {
	case "screen", "ultra":
		return QualityScreen, nil
	case "ebook", "aggressive", "":
		return QualityEbook, nil
	case "printer", "good_enough":
		return QualityPrinter, nil
	case "prepress":
		return QualityPrepress, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidQuality, s)
}

// PDFSettings returns the value for -dPDFSETTINGS.
func (q Quality) PDFSettings() string {
	return "/" + string(q)
}

// Unusable marks a fragment whose compression failed.
const Unusable int64 = math.MaxInt64

// SizeBudget is the byte ceiling for one output file plus the overhead
// reserved when fragments are merged without recompression.
type SizeBudget struct {
	Limit  int64 `json:"limit" toml:"limit"`
	Margin int64 `json:"margin" toml:"margin"`
}

// Validate checks 0 <= Margin < Limit.
func (b SizeBudget) Validate() error {
	if b.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive, got %d", ErrInvalidBudget, b.Limit)
	}
	if b.Margin < 0 || b.Margin >= b.Limit {
		return fmt.Errorf("%w: margin %d must be in [0, %d)", ErrInvalidBudget, b.Margin, b.Limit)
	}
	return nil
}

// Fits reports whether a measured file of size bytes is acceptable as output.
func (b SizeBudget) Fits(size int64) bool {
	return size <= b.Limit
}

// PackLimit is the running total allowed when grouping fragments.
func (b SizeBudget) PackLimit() int64 {
	return b.Limit - b.Margin
}

// PageRange is the half-open page interval [Start, End) of Source.
type PageRange struct {
	Source string `json:"source"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
}

// Len returns the number of pages in the range.
func (r PageRange) Len() int {
	return r.End - r.Start
}

func (r PageRange) String() string {
	return fmt.Sprintf("%s[%d:%d]", r.Source, r.Start, r.End)
}

// Fragment is one compressed file built from one input document.
type Fragment struct {
	// Path of the compressed file; empty when Size is Unusable.
	Path string
	// Size is measured after the producing invocation completed.
	Size int64
	// Origin is the document that can be re-split by pages if needed.
	Origin string
	// Pages covered, expressed against the caller's original document.
	Pages PageRange
	Err   error
}

// IsUnusable reports whether the fragment failed to compress.
func (f Fragment) IsUnusable() bool {
	return f.Size == Unusable || f.Path == ""
}

// Part is a finalized output file.
type Part struct {
	Path  string      `json:"path"`
	Size  int64       `json:"size"`
	Pages []PageRange `json:"pages"`
	// OverBudget is set when a single page could not be brought under the limit.
	OverBudget bool `json:"over_budget,omitempty"`
}

// EntryKind tells the assembler how a plan entry is produced.
type EntryKind int

const (
	// EntryMerge concatenates already compressed fragments.
	EntryMerge EntryKind = iota
	// EntrySplit re-splits a fragment that is over budget on its own.
	EntrySplit
	// EntrySkip is a fragment that could not be compressed at all.
	EntrySkip
)

func (k EntryKind) String() string {
	switch k {
	case EntryMerge:
		return "merge"
	case EntrySplit:
		return "split"
	case EntrySkip:
		return "skip"
	}
	return "unknown"
}

// PlanEntry is one group of fragments that becomes one or more outputs.
type PlanEntry struct {
	Kind      EntryKind
	Fragments []Fragment
	Size      int64
}

// BuildPlan lists plan entries in output order.
type BuildPlan []PlanEntry

