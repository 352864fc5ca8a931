package assembler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"pdfbudget/internal/common"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/logger"
	"pdfbudget/internal/metrics"
	"pdfbudget/internal/progress"
)

// Splitter re-splits one document by pages.
type Splitter interface {
	Split(ctx context.Context, document string, budget domain.SizeBudget, startIndex int) ([]domain.Part, error)
}

// Options configures an assembler
type Options struct {
	WorkDir    string
	OutputBase string
	// Skipped is told about every document left out of the parts.
	Skipped func(document string)

	Metrics  *metrics.Metrics
	Ledger   *progress.Ledger
	Notifier *progress.Notifier
}

// Assembler packs pre-compressed fragments into as few parts as the budget allows
type Assembler struct {
	source   domain.PageSource
	splitter Splitter
	opts     Options
}

// New creates a new assembler instance
func New(source domain.PageSource, splitter Splitter, opts Options) *Assembler {
	return &Assembler{source: source, splitter: splitter, opts: opts}
}

// Assemble builds the plan and writes its parts numbered from startIndex.
// Merged groups that measure over the limit are bisected; a lone fragment
// still over goes back to the splitter on its original document. On
// cancellation the parts finalized so far are returned with the error.
func (a *Assembler) Assemble(ctx context.Context, fragments []domain.Fragment, budget domain.SizeBudget, startIndex int) ([]domain.Part, error) {
	ctx = logger.Component(ctx, "assembler")
	log := logger.FromContext(ctx)

	plan := Plan(fragments, budget)
	log.Info().Int("fragments", len(fragments)).Int("entries", len(plan)).Msg("packing plan ready")

	n := a.opts.Notifier
	n.SetTotal(len(plan))
	n.Step(0)

	b := &build{a: a, budget: budget, index: startIndex}
	for i, entry := range plan {
		if ctx.Err() != nil {
			return b.parts, fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
		}

		var err error
		switch entry.Kind {
		case domain.EntrySkip:
			f := entry.Fragments[0]
			a.skip(f.Origin, fmt.Sprintf("%s could not be compressed and was left out", filepath.Base(f.Origin)), f.Err)
		case domain.EntrySplit:
			log.Info().Str("file", filepath.Base(entry.Fragments[0].Origin)).Int64("size", entry.Size).Msg("fragment over limit, splitting by pages")
			err = b.split(ctx, entry.Fragments[0])
		default:
			err = b.emit(ctx, entry.Fragments)
		}
		if err != nil {
			return b.parts, err
		}
		n.Step(i + 1)
	}
	return b.parts, nil
}

func (a *Assembler) skip(document, text string, err error) {
	a.opts.Ledger.Warn(text, domain.NewDocumentError(document, err))
	if a.opts.Skipped != nil {
		a.opts.Skipped(document)
	}
}

// fatal reports whether err must stop the whole run rather than one document.
func fatal(err error) bool {
	return errors.Is(err, domain.ErrToolNotFound) || errors.Is(err, domain.ErrCancelled)
}

// build tracks the part counter; it advances only when a part is finalized.
type build struct {
	a      *Assembler
	budget domain.SizeBudget
	index  int
	parts  []domain.Part
}

// split re-splits the original of f. A failure confined to that document
// leaves it out, keeping any part already finalized from it.
func (b *build) split(ctx context.Context, f domain.Fragment) error {
	parts, err := b.a.splitter.Split(ctx, f.Origin, b.budget, b.index)
	b.parts = append(b.parts, parts...)
	b.index += len(parts)
	if err == nil || fatal(err) {
		return err
	}
	log := logger.FromContext(ctx)
	log.Warn().Err(err).Str("file", filepath.Base(f.Origin)).Int("parts", len(parts)).Msg("splitting failed, document left out")
	text := fmt.Sprintf("%s could not be split by pages and was left out", filepath.Base(f.Origin))
	if len(parts) > 0 {
		text = fmt.Sprintf("%s could not be split by pages after %d part(s), its remaining pages were left out", filepath.Base(f.Origin), len(parts))
	}
	b.a.skip(f.Origin, text, err)
	return nil
}

// emit merges group without recompression and keeps it when it fits.
func (b *build) emit(ctx context.Context, group []domain.Fragment) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", domain.ErrCancelled, ctx.Err())
	}
	log := logger.FromContext(ctx)

	paths := make([]string, len(group))
	for i, f := range group {
		paths[i] = f.Path
	}
	tmp := filepath.Join(b.a.opts.WorkDir, "merge-"+common.ShortID()+".pdf")

	mergeErr := b.a.source.Merge(paths, tmp)
	var size int64
	if mergeErr == nil {
		size, mergeErr = common.FileSize(tmp)
	}
	if mergeErr == nil && b.budget.Fits(size) {
		name := common.PartName(b.a.opts.OutputBase, b.index)
		if err := common.MoveFile(tmp, name); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("failed to finalize part: %w", err)
		}
		b.parts = append(b.parts, domain.Part{Path: name, Size: size, Pages: pageRanges(group)})
		b.index++
		b.a.opts.Metrics.IncPart("pack")
		log.Info().Int("fragments", len(group)).Int64("size", size).Str("part", filepath.Base(name)).Msg("part written")
		return nil
	}
	os.Remove(tmp)

	if len(group) == 1 {
		if mergeErr != nil {
			log.Warn().Err(mergeErr).Str("file", filepath.Base(group[0].Origin)).Msg("fragment could not be written")
			b.a.skip(group[0].Origin, fmt.Sprintf("%s could not be written to a part and was left out", filepath.Base(group[0].Origin)), mergeErr)
			return nil
		}
		log.Info().Str("file", filepath.Base(group[0].Origin)).Int64("size", size).Msg("fragment over limit, splitting by pages")
		return b.split(ctx, group[0])
	}

	if mergeErr != nil {
		log.Warn().Err(mergeErr).Int("fragments", len(group)).Msg("merge failed, bisecting")
	} else {
		log.Debug().Int("fragments", len(group)).Int64("size", size).Msg("merged group over limit, bisecting")
	}
	mid := len(group) / 2
	if err := b.emit(ctx, group[:mid]); err != nil {
		return err
	}
	return b.emit(ctx, group[mid:])
}

func pageRanges(group []domain.Fragment) []domain.PageRange {
	ranges := make([]domain.PageRange, 0, len(group))
	for _, f := range group {
		r := f.Pages
		if r.Source == "" {
			r.Source = f.Origin
		}
		ranges = append(ranges, r)
	}
	return ranges
}
