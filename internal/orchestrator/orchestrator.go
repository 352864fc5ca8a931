package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pdfbudget/internal/assembler"
	"pdfbudget/internal/cache"
	"pdfbudget/internal/common"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
	"pdfbudget/internal/progress"
	"pdfbudget/internal/splitter"
)

// Orchestrator drives one run from inputs to finalized outputs.
type Orchestrator struct {
	engine domain.Recompressor
	source domain.PageSource
	opts   Options

	mu    sync.Mutex
	state State
}

// New creates a new orchestrator instance
func New(engine domain.Recompressor, source domain.PageSource, opts Options) *Orchestrator {
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Orchestrator{engine: engine, source: source, opts: opts, state: StateIdle}
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// run holds the per-run collaborators.
type run struct {
	o        *Orchestrator
	req      Request
	report   *Report
	ledger   *progress.Ledger
	notifier *progress.Notifier
	dir      string
	log      zerolog.Logger
	// original maps prepared input paths back to the caller's paths.
	original map[string]string
}

func (r *run) transition(s State) {
	r.o.mu.Lock()
	r.o.state = s
	r.o.mu.Unlock()
	r.report.State = s
	r.report.Transitions = append(r.report.Transitions, s)
	r.log.Debug().Str("state", string(s)).Msg("state changed")
}

func (r *run) skip(paths ...string) {
	for _, p := range paths {
		if orig, ok := r.original[p]; ok {
			p = orig
		}
		r.report.Skipped = append(r.report.Skipped, p)
	}
}

// Run executes req. Cancelling ctx stops the run between engine calls; the
// report then lists only the outputs finalized before that point. The
// returned error is the fatal reason, or ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Report, error) {
	start := time.Now()
	runID := common.ShortID()
	ctx = logger.WithStr(ctx, "run_id", runID)

	r := &run{
		o:        o,
		req:      req,
		report:   &Report{RunID: runID, Mode: req.Mode},
		ledger:   progress.NewLedger(),
		notifier: progress.NewNotifier(o.opts.Reporter),
		log:      logger.FromContext(ctx),
		original: make(map[string]string),
	}
	r.transition(StateIdle)

	err := r.execute(ctx)
	r.finish(err)
	r.report.Duration = time.Since(start)
	r.report.Messages = r.ledger.Messages()

	o.opts.Metrics.ObserveRun(string(req.Mode), string(r.report.Outcome()), r.report.BytesIn, r.report.BytesOut())
	r.log.Info().Str("outcome", string(r.report.Outcome())).Int("outputs", len(r.report.Outputs)).
		Dur("elapsed", r.report.Duration).Msg("run finished")
	return r.report, r.report.Err
}

func (r *run) finish(err error) {
	switch {
	case err == nil:
		r.transition(StateDone)
		r.notifier.Completed(r.report.OutputPaths())
	case errors.Is(err, domain.ErrCancelled) || errors.Is(err, context.Canceled):
		if !errors.Is(err, domain.ErrCancelled) {
			err = fmt.Errorf("%w: %v", domain.ErrCancelled, err)
		}
		r.report.Err = err
		r.transition(StateCancelled)
		r.ledger.Info(fmt.Sprintf("run cancelled with %d output(s) finalized", len(r.report.Outputs)))
		r.notifier.Failed(err)
	default:
		r.report.Err = err
		r.ledger.Error("run failed", err)
		r.transition(StateFailed)
		r.notifier.Failed(err)
	}
}

func (r *run) cancelled(ctx context.Context) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}
	return nil
}

func (r *run) execute(ctx context.Context) error {
	req := r.req
	if len(req.Inputs) == 0 {
		return fmt.Errorf("%w: no input files", domain.ErrNoValidInputs)
	}
	if req.Output == "" {
		return errors.New("output path is required")
	}
	if req.Mode != ModeMerge {
		if err := req.Budget.Validate(); err != nil {
			return err
		}
	}
	if req.Quality == "" {
		r.req.Quality = domain.QualityEbook
	}
	if err := r.cancelled(ctx); err != nil {
		return err
	}

	if err := os.MkdirAll(r.o.opts.WorkDir, common.DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create work directory: %w", err)
	}
	dir, err := os.MkdirTemp(r.o.opts.WorkDir, "run-"+r.report.RunID+"-")
	if err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	defer os.RemoveAll(dir)
	r.dir = dir

	inputs, err := r.prepare(ctx)
	if err != nil {
		return err
	}

	if req.Mode == ModeMerge {
		return r.mergeOnly(ctx, inputs)
	}
	return r.compress(ctx, inputs)
}

// prepare drops unreadable inputs and optionally strips blank pages.
func (r *run) prepare(ctx context.Context) ([]string, error) {
	r.transition(StatePreparingInputs)
	r.notifier.Label("Preparing documents")
	r.notifier.SetTotal(len(r.req.Inputs))
	r.notifier.Step(0)

	validator, _ := r.o.source.(domain.InputValidator)
	stripper, _ := r.o.source.(domain.BlankStripper)

	var inputs []string
	for i, in := range r.req.Inputs {
		if err := r.cancelled(ctx); err != nil {
			return nil, err
		}
		r.notifier.SubLabel(filepath.Base(in))

		size, err := common.FileSize(in)
		if err == nil && validator != nil {
			err = validator.Validate(in)
		}
		if err != nil {
			if !errors.Is(err, domain.ErrUnreadableInput) {
				err = domain.NewDocumentError(in, fmt.Errorf("%w: %v", domain.ErrUnreadableInput, err))
			}
			r.log.Warn().Err(err).Str("file", filepath.Base(in)).Msg("skipping unreadable input")
			r.ledger.Warn(fmt.Sprintf("%s cannot be read and was skipped", filepath.Base(in)), err)
			r.skip(in)
			r.notifier.Step(i + 1)
			continue
		}
		r.report.BytesIn += size

		use := in
		if r.req.RemoveBlank && stripper != nil {
			cleaned := filepath.Join(r.dir, fmt.Sprintf("clean-%03d%s", i+1, filepath.Ext(in)))
			removed, err := stripper.StripBlankPages(in, cleaned)
			switch {
			case err != nil:
				r.ledger.Warn(fmt.Sprintf("blank pages of %s could not be checked", filepath.Base(in)), err)
			case removed > 0:
				r.ledger.Info(fmt.Sprintf("%d blank page(s) removed from %s", removed, filepath.Base(in)))
				r.original[cleaned] = in
				use = cleaned
			}
		}
		inputs = append(inputs, use)
		r.notifier.Step(i + 1)
	}

	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: all %d input(s) were unreadable", domain.ErrNoValidInputs, len(r.req.Inputs))
	}
	return inputs, nil
}

func (r *run) mergeOnly(ctx context.Context, inputs []string) error {
	r.transition(StateMerging)
	r.notifier.Label("Merging documents")
	r.notifier.SetTotal(1)
	r.notifier.Step(0)

	tmp := filepath.Join(r.dir, "merged.pdf")
	if err := r.o.source.Merge(inputs, tmp); err != nil {
		return err
	}
	if err := r.cancelled(ctx); err != nil {
		return err
	}
	if err := r.finalize(tmp, r.req.Output, false); err != nil {
		return err
	}
	r.notifier.Step(1)
	return nil
}

func (r *run) finalize(from, to string, overBudget bool) error {
	if err := common.MoveFile(from, to); err != nil {
		return fmt.Errorf("failed to write %s: %w", to, err)
	}
	size, err := common.FileSize(to)
	if err != nil {
		return err
	}
	r.report.Outputs = append(r.report.Outputs, Output{Path: to, Size: size, OverBudget: overBudget})
	return nil
}

func (r *run) compress(ctx context.Context, inputs []string) error {
	r.transition(StateWholeSetCompress)
	r.notifier.Label("Compressing whole set")
	r.notifier.SubLabel("Step 1/2")
	r.notifier.SetTotal(1)
	r.notifier.Step(0)

	whole := filepath.Join(r.dir, "whole.pdf")
	res, err := r.o.engine.Invoke(ctx, inputs, r.req.Quality, whole)
	switch {
	case errors.Is(err, domain.ErrInvocationTimeout):
		// a smaller batch may still succeed
		r.ledger.Warn("compressing the whole set timed out, compressing documents one by one", err)
		r.transition(StateOverBudget)
		return r.precise(ctx, inputs)
	case err != nil:
		return err
	}
	r.notifier.Step(1)

	if len(res.Skipped) > 0 {
		names := make([]string, len(res.Skipped))
		for i, s := range res.Skipped {
			names[i] = filepath.Base(r.originalOf(s))
		}
		r.ledger.Warn(fmt.Sprintf("corrupt or incompatible PDFs skipped: %s", strings.Join(names, ", ")), domain.ErrInvocationFailed)
		r.skip(res.Skipped...)
		inputs = without(inputs, res.Skipped)
	}
	if err := r.cancelled(ctx); err != nil {
		return err
	}

	if r.req.Budget.Fits(res.Size) {
		r.transition(StateUnderBudget)
		r.o.opts.Metrics.IncPart("whole")
		r.ledger.Info(fmt.Sprintf("compressed PDF saved with %s", common.FormatBytes(res.Size)))
		return r.finalize(whole, r.req.Output, false)
	}

	r.transition(StateOverBudget)
	r.log.Info().Int64("size", res.Size).Int64("limit", r.req.Budget.Limit).Msg("whole set over budget")
	if r.req.Mode == ModePrecise {
		os.Remove(whole)
		return r.precise(ctx, inputs)
	}
	return r.turbo(ctx, whole)
}

func (r *run) turbo(ctx context.Context, whole string) error {
	r.transition(StateSplittingByPages)
	r.notifier.Label("Splitting by pages")
	r.notifier.SubLabel("Step 2/2")

	s := splitter.New(r.o.engine, r.o.source, splitter.Options{
		Quality:    r.req.Quality,
		WorkDir:    r.dir,
		OutputBase: r.req.Output,
		Metrics:    r.o.opts.Metrics,
		Ledger:     r.ledger,
		Notifier:   r.notifier,
	})
	parts, err := s.Split(ctx, whole, r.req.Budget, 1)
	return r.collect(parts, err)
}

func (r *run) precise(ctx context.Context, inputs []string) error {
	if err := r.cancelled(ctx); err != nil {
		return err
	}
	r.transition(StatePrecompressing)
	r.notifier.Label("Compressing each document")

	c := cache.New(r.o.engine, cache.Options{
		Workers:  r.o.opts.Workers,
		Quality:  r.req.Quality,
		WorkDir:  r.dir,
		Metrics:  r.o.opts.Metrics,
		Notifier: r.notifier,
	})
	defer c.Cleanup()

	entries, err := c.BuildMany(ctx, inputs)
	if err != nil {
		return err
	}
	if err := r.cancelled(ctx); err != nil {
		return err
	}

	fragments := make([]domain.Fragment, len(entries))
	var failed []string
	for i, e := range entries {
		if errors.Is(e.Err, domain.ErrToolNotFound) {
			return e.Err
		}
		fragments[i] = e.Fragment()
		if e.Err != nil {
			failed = append(failed, e.Original)
		}
	}
	if len(failed) == len(entries) {
		r.skip(failed...)
		return fmt.Errorf("%w: no document could be compressed", domain.ErrNoValidInputs)
	}

	r.transition(StatePacking)
	r.notifier.Label("Building parts without recompression")

	s := splitter.New(r.o.engine, r.o.source, splitter.Options{
		Quality:    r.req.Quality,
		WorkDir:    r.dir,
		OutputBase: r.req.Output,
		Metrics:    r.o.opts.Metrics,
		Ledger:     r.ledger,
	})
	a := assembler.New(r.o.source, &refining{run: r, splitter: s}, assembler.Options{
		WorkDir:    r.dir,
		OutputBase: r.req.Output,
		Metrics:    r.o.opts.Metrics,
		Ledger:     r.ledger,
		Notifier:   r.notifier,
		Skipped:    func(doc string) { r.skip(doc) },
	})
	parts, err := a.Assemble(ctx, fragments, r.req.Budget, 1)
	return r.collect(parts, err)
}

// refining marks the run as refining while a fragment is re-split.
type refining struct {
	run      *run
	splitter *splitter.Splitter
}

func (f *refining) Split(ctx context.Context, document string, budget domain.SizeBudget, startIndex int) ([]domain.Part, error) {
	f.run.transition(StateRefining)
	f.run.notifier.SubLabel("Splitting " + filepath.Base(f.run.originalOf(document)))
	defer f.run.transition(StatePacking)
	return f.splitter.Split(ctx, document, budget, startIndex)
}

func (r *run) originalOf(p string) string {
	if orig, ok := r.original[p]; ok {
		return orig
	}
	return p
}

// collect records finalized parts. A lone part takes the requested name.
func (r *run) collect(parts []domain.Part, err error) error {
	if err == nil && len(parts) == 1 {
		if mvErr := common.MoveFile(parts[0].Path, r.req.Output); mvErr != nil {
			return fmt.Errorf("failed to write %s: %w", r.req.Output, mvErr)
		}
		parts[0].Path = r.req.Output
	}
	for _, p := range parts {
		r.report.Outputs = append(r.report.Outputs, Output{Path: p.Path, Size: p.Size, OverBudget: p.OverBudget})
	}
	if err == nil && len(parts) > 1 {
		r.ledger.Info(fmt.Sprintf("over %s, split into %d parts", common.FormatBytes(r.req.Budget.Limit), len(parts)))
	}
	return err
}

func without(paths, drop []string) []string {
	skip := make(map[string]bool, len(drop))
	for _, d := range drop {
		skip[d] = true
	}
	var out []string
	for _, p := range paths {
		if !skip[p] {
			out = append(out, p)
		}
	}
	return out
}
