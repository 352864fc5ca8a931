package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"pdfbudget/internal/common"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/metrics"
	"pdfbudget/internal/progress"
)

// Mode selects the strategy used once the whole set is over budget.
type Mode string

const (
	// ModeTurbo splits the already compressed whole set by pages.
	ModeTurbo Mode = "turbo"
	// ModePrecise compresses every input alone and packs the results.
	ModePrecise Mode = "precise"
	// ModeMerge concatenates the inputs without compressing them.
	ModeMerge Mode = "merge"
)

// ParseMode accepts the mode names used on the command line.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeTurbo, "":
		return ModeTurbo, nil
	case ModePrecise:
		return ModePrecise, nil
	case ModeMerge:
		return ModeMerge, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// State of a run.
type State string

const (
	StateIdle             State = "idle"
	StatePreparingInputs  State = "preparing_inputs"
	StateWholeSetCompress State = "whole_set_compress"
	StateUnderBudget      State = "under_budget"
	StateOverBudget       State = "over_budget"
	StateSplittingByPages State = "splitting_by_pages"
	StatePrecompressing   State = "precompressing"
	StatePacking          State = "packing"
	StateRefining         State = "refining"
	StateMerging          State = "merging"
	StateCancelled        State = "cancelled"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

// Request describes one run.
type Request struct {
	Inputs      []string
	Output      string
	Quality     domain.Quality
	Budget      domain.SizeBudget
	Mode        Mode
	RemoveBlank bool
}

// Options configures the orchestrator
type Options struct {
	WorkDir  string
	Workers  int
	Metrics  *metrics.Metrics
	Reporter progress.Reporter
}

// Output is one finalized file.
type Output struct {
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	OverBudget bool   `json:"over_budget,omitempty"`
}

// Outcome summarizes a run for the caller.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Report is the end-of-run summary with every accumulated message.
type Report struct {
	RunID       string             `json:"run_id"`
	Mode        Mode               `json:"mode"`
	State       State              `json:"state"`
	Transitions []State            `json:"transitions"`
	Outputs     []Output           `json:"outputs"`
	Skipped     []string           `json:"skipped,omitempty"`
	Messages    []progress.Message `json:"messages,omitempty"`
	BytesIn     int64              `json:"bytes_in"`
	Duration    time.Duration      `json:"duration"`
	Err         error              `json:"-"`
}

// Warnings returns the warning messages.
func (r *Report) Warnings() []progress.Message {
	return filter(r.Messages, progress.LevelWarn)
}

// Errors returns the error messages.
func (r *Report) Errors() []progress.Message {
	return filter(r.Messages, progress.LevelError)
}

func filter(msgs []progress.Message, level progress.Level) []progress.Message {
	var out []progress.Message
	for _, m := range msgs {
		if m.Level == level {
			out = append(out, m)
		}
	}
	return out
}

// BytesOut is the total size of the outputs.
func (r *Report) BytesOut() int64 {
	var n int64
	for _, o := range r.Outputs {
		n += o.Size
	}
	return n
}

// OutputPaths lists output paths in order.
func (r *Report) OutputPaths() []string {
	paths := make([]string, len(r.Outputs))
	for i, o := range r.Outputs {
		paths[i] = o.Path
	}
	return paths
}

// Outcome is success when every input made it under budget, partial when
// outputs exist but inputs were skipped or a page stayed over budget.
func (r *Report) Outcome() Outcome {
	switch {
	case r.State == StateCancelled:
		return OutcomeCancelled
	case r.Err != nil || len(r.Outputs) == 0:
		return OutcomeFailed
	case len(r.Skipped) > 0:
		return OutcomePartial
	}
	for _, o := range r.Outputs {
		if o.OverBudget {
			return OutcomePartial
		}
	}
	return OutcomeSuccess
}

// Summary renders the report for the terminal.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s (%s): %s in %s\n", r.RunID, r.Mode, r.Outcome(), r.Duration.Round(time.Millisecond))
	for _, o := range r.Outputs {
		mark := ""
		if o.OverBudget {
			mark = " (over limit)"
		}
		fmt.Fprintf(&b, "  %s  %s%s\n", o.Path, common.FormatBytes(o.Size), mark)
	}
	for _, s := range r.Skipped {
		fmt.Fprintf(&b, "  skipped: %s\n", s)
	}
	for _, m := range r.Messages {
		if m.Level == progress.LevelInfo {
			continue
		}
		fmt.Fprintf(&b, "  %s\n", m.String())
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "  error: %v\n", r.Err)
	}
	return b.String()
}
