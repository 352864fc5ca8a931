package splitter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"pdfbudget/internal/common"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
	"pdfbudget/internal/metrics"
	"pdfbudget/internal/progress"
)

// Options configures a splitter
type Options struct {
	Quality domain.Quality
	// WorkDir holds probe files; accepted probes are moved out of it.
	WorkDir string
	// OutputBase is the destination path parts are numbered after.
	OutputBase string

	Metrics  *metrics.Metrics
	Ledger   *progress.Ledger
	Notifier *progress.Notifier
}

// Splitter cuts one document into the fewest contiguous page ranges whose
// compressed form fits the budget.
type Splitter struct {
	engine domain.Recompressor
	source domain.PageSource
	opts   Options
}

// New creates a new splitter instance
func New(engine domain.Recompressor, source domain.PageSource, opts Options) *Splitter {
	if opts.Quality == "" {
		opts.Quality = domain.QualityEbook
	}
	return &Splitter{engine: engine, source: source, opts: opts}
}

// probe is one measured compression of pages [cursor, cursor+k).
type probe struct {
	path string
	size int64
	err  error
}

func (p *probe) fits(b domain.SizeBudget) bool {
	return p.err == nil && b.Fits(p.size)
}

// cursorProbes caches measurements for the current cursor.
type cursorProbes map[int]*probe

func (c cursorProbes) discard(keep int) {
	for k, p := range c {
		if k != keep && p.path != "" {
			os.Remove(p.path)
		}
	}
}

// Split writes document as parts numbered from startIndex. On cancellation or
// a fatal engine error it returns the parts finalized so far with the error.
func (s *Splitter) Split(ctx context.Context, document string, budget domain.SizeBudget, startIndex int) ([]domain.Part, error) {
	ctx = logger.Component(ctx, "splitter")
	log := logger.FromContext(ctx).With().Str("file", filepath.Base(document)).Logger()

	total, err := s.source.PageCount(document)
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, domain.NewDocumentError(document, fmt.Errorf("%w: no pages", domain.ErrUnreadableInput))
	}
	base := s.opts.OutputBase
	if base == "" {
		base = document
	}

	n := s.opts.Notifier
	n.SetTotal(total)
	n.Step(0)

	var parts []domain.Part
	index := startIndex
	for cursor := 0; cursor < total; {
		probes := cursorProbes{}
		k, err := s.search(ctx, document, cursor, total-cursor, budget, probes)
		if err != nil {
			probes.discard(-1)
			return parts, err
		}

		// a page that cannot fit is still emitted alone
		overBudget := k == 0
		if overBudget {
			k = 1
		}
		part, err := s.accept(document, cursor, k, overBudget, budget, probes, common.PartName(base, index), log)
		probes.discard(k)
		if err != nil {
			return parts, err
		}
		parts = append(parts, part)
		s.opts.Metrics.IncPart("split")
		log.Info().Int("start", cursor+1).Int("end", cursor+k).Int64("size", part.Size).Str("part", filepath.Base(part.Path)).Msg("part written")

		index++
		cursor += k
		n.Step(cursor)
	}
	return parts, nil
}

// search finds the largest k <= remaining whose probe fits, or 0 when even a
// single page does not.
func (s *Splitter) search(ctx context.Context, document string, cursor, remaining int, budget domain.SizeBudget, probes cursorProbes) (int, error) {
	bestOK, smallestBad := 0, remaining+1

	for k := 1; ; {
		p, err := s.measure(ctx, document, cursor, k, probes)
		if err != nil {
			return 0, err
		}
		if !p.fits(budget) {
			smallestBad = k
			break
		}
		bestOK = k
		if k == remaining {
			return k, nil
		}
		k *= 2
		if k > remaining {
			k = remaining
		}
	}

	lo, hi := bestOK, smallestBad-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		p, err := s.measure(ctx, document, cursor, mid, probes)
		if err != nil {
			return 0, err
		}
		if p.fits(budget) {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo, nil
}

// measure compresses pages [cursor, cursor+k) once per cursor. Engine
// failures are recorded on the probe; only cancellation and a missing engine
// are returned as errors.
func (s *Splitter) measure(ctx context.Context, document string, cursor, k int, probes cursorProbes) (*probe, error) {
	if p, ok := probes[k]; ok {
		return p, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}

	id := common.ShortID()
	rangePath := filepath.Join(s.opts.WorkDir, fmt.Sprintf("range-%s-%d-%d.pdf", id, cursor, k))
	probePath := filepath.Join(s.opts.WorkDir, fmt.Sprintf("probe-%s-%d-%d.pdf", id, cursor, k))

	if err := s.source.WriteRange(document, cursor, cursor+k, rangePath); err != nil {
		os.Remove(rangePath)
		p := &probe{err: err}
		probes[k] = p
		return p, nil
	}
	defer os.Remove(rangePath)

	s.opts.Metrics.IncProbe()
	res, err := s.engine.Invoke(ctx, []string{rangePath}, s.opts.Quality, probePath)
	if errors.Is(err, domain.ErrToolNotFound) {
		return nil, err
	}
	if err != nil {
		os.Remove(probePath)
		log := logger.FromContext(ctx)
		log.Debug().Err(err).Int("start", cursor+1).Int("pages", k).Msg("probe failed")
		p := &probe{err: err}
		probes[k] = p
		return p, nil
	}

	p := &probe{path: res.OutputPath, size: res.Size}
	probes[k] = p
	return p, nil
}

// accept finalizes pages [cursor, cursor+k). With overBudget the single page
// at cursor could not fit; it is kept compressed when possible, raw otherwise.
func (s *Splitter) accept(document string, cursor, k int, overBudget bool, budget domain.SizeBudget, probes cursorProbes, name string, log zerolog.Logger) (domain.Part, error) {
	part := domain.Part{
		Path:       name,
		Pages:      []domain.PageRange{{Source: document, Start: cursor, End: cursor + k}},
		OverBudget: overBudget,
	}

	p := probes[k]
	if p != nil && p.err == nil {
		if err := common.MoveFile(p.path, name); err != nil {
			return part, fmt.Errorf("failed to finalize part: %w", err)
		}
		part.Size = p.size
	} else {
		// the engine rejected this page; keep it as is
		if err := s.source.WriteRange(document, cursor, cursor+1, name); err != nil {
			return part, fmt.Errorf("failed to write page %d: %w", cursor+1, err)
		}
		size, err := common.FileSize(name)
		if err != nil {
			return part, err
		}
		part.Size = size
		part.OverBudget = !budget.Fits(size)
		cause := error(domain.ErrInvocationFailed)
		if p != nil && p.err != nil {
			cause = p.err
		}
		s.opts.Ledger.Warn(fmt.Sprintf("page %d of %s could not be compressed and was kept unchanged", cursor+1, filepath.Base(document)), cause)
	}

	if part.OverBudget {
		log.Warn().Int("page", cursor+1).Int64("size", part.Size).Msg("single page exceeds the budget")
		s.opts.Ledger.Warn(
			fmt.Sprintf("page %d of %s is %s on its own, above the %s limit", cursor+1, filepath.Base(document),
				common.FormatBytes(part.Size), common.FormatBytes(budget.Limit)),
			domain.ErrBudgetUnattainable)
	}
	return part, nil
}
