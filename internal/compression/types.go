package compression

import (
	"time"

	"pdfbudget/internal/metrics"
)

const (
	manifestName  = "inputs.lst"
	stagedPattern = "%05d.pdf"
	probePattern  = "probe_%05d.pdf"

	// fixed part of the per-call timeout before the per-file allowance
	timeoutFloor = 90 * time.Second
)

// Options holds engine and invocation settings
type Options struct {
	GhostscriptPath string
	// WorkDir is where private staging directories are created.
	WorkDir    string
	ImageDPI   int
	PDFVersion string
	Grayscale  bool

	BaseTimeout    time.Duration
	PerFileTimeout time.Duration
	MaxTimeout     time.Duration

	Metrics *metrics.Metrics
}

// DefaultOptions returns default invocation options
func DefaultOptions() Options {
	return Options{
		ImageDPI:       110,
		PDFVersion:     "1.4",
		BaseTimeout:    120 * time.Second,
		PerFileTimeout: 3 * time.Second,
		MaxTimeout:     900 * time.Second,
	}
}

func (o *Options) applyDefaults() {
	def := DefaultOptions()
	if o.ImageDPI <= 0 {
		o.ImageDPI = def.ImageDPI
	}
	if o.PDFVersion == "" {
		o.PDFVersion = def.PDFVersion
	}
	if o.BaseTimeout <= 0 {
		o.BaseTimeout = def.BaseTimeout
	}
	if o.PerFileTimeout <= 0 {
		o.PerFileTimeout = def.PerFileTimeout
	}
	if o.MaxTimeout <= 0 {
		o.MaxTimeout = def.MaxTimeout
	}
}
