package pages

import (
	"bytes"
	"fmt"
	"io"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"pdfbudget/internal/common"
	domain "pdfbudget/internal/domain/compression"
)

const pdfMIME = "application/pdf"

// Source reads, slices and concatenates PDFs with pdfcpu. Pages are never
// re-encoded, so output size is the sum of what the inputs carry.
type Source struct {
	conf *model.Configuration
}

var (
	_ domain.PageSource     = (*Source)(nil)
	_ domain.InputValidator = (*Source)(nil)
	_ domain.BlankStripper  = (*Source)(nil)
)

// NewSource creates a new page source with relaxed validation
func NewSource() *Source {
	api.DisableConfigDir()
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Source{conf: conf}
}

// PageCount returns the number of pages of path.
func (s *Source) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, domain.NewDocumentError(path, fmt.Errorf("%w: %v", domain.ErrUnreadableInput, err))
	}
	return n, nil
}

// WriteRange writes pages [start, end) of path to output.
func (s *Source) WriteRange(path string, start, end int, output string) error {
	if start < 0 || start >= end {
		return fmt.Errorf("invalid page range [%d:%d)", start, end)
	}
	sel := []string{fmt.Sprintf("%d-%d", start+1, end)}
	if err := api.TrimFile(path, output, sel, s.conf); err != nil {
		return fmt.Errorf("failed to extract pages %d-%d of %s: %w", start+1, end, path, err)
	}
	return nil
}

// Merge concatenates inputs into output. A single input is copied as is.
func (s *Source) Merge(inputs []string, output string) error {
	switch len(inputs) {
	case 0:
		return fmt.Errorf("%w: nothing to merge", domain.ErrNoValidInputs)
	case 1:
		return common.CopyFile(inputs[0], output)
	}
	if err := api.MergeCreateFile(inputs, output, false, s.conf); err != nil {
		return fmt.Errorf("failed to merge %d files: %w", len(inputs), err)
	}
	return nil
}

// Validate sniffs the file header. It does not parse the document.
func (s *Source) Validate(path string) error {
	size, err := common.FileSize(path)
	if err != nil {
		return domain.NewDocumentError(path, fmt.Errorf("%w: %v", domain.ErrUnreadableInput, err))
	}
	if size == 0 {
		return domain.NewDocumentError(path, fmt.Errorf("%w: empty file", domain.ErrUnreadableInput))
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return domain.NewDocumentError(path, fmt.Errorf("%w: %v", domain.ErrUnreadableInput, err))
	}
	if !mt.Is(pdfMIME) {
		return domain.NewDocumentError(path, fmt.Errorf("%w: detected %s", domain.ErrUnreadableInput, mt.String()))
	}
	return nil
}

// BlankPages returns the 1-based numbers of pages with no images, no
// annotations and an empty content stream.
func (s *Source) BlankPages(path string) ([]int, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := api.ValidateContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to validate %s: %w", path, err)
	}

	var blank []int
	for p := 1; p <= ctx.PageCount; p++ {
		ok, err := isBlank(ctx, p)
		if err != nil {
			// unknown content counts as content
			continue
		}
		if ok {
			blank = append(blank, p)
		}
	}
	return blank, nil
}

func isBlank(ctx *model.Context, pageNr int) (bool, error) {
	d, _, _, err := ctx.PageDict(pageNr, false)
	if err != nil {
		return false, err
	}
	if _, found := d.Find("Annots"); found {
		return false, nil
	}
	if len(pdfcpu.ImageObjNrs(ctx, pageNr)) > 0 {
		return false, nil
	}
	if _, found := d.Find("Contents"); !found {
		return true, nil
	}
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return false, err
	}
	if r == nil {
		return true, nil
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(content)) == 0, nil
}

// StripBlankPages writes path without its blank pages to output and returns
// how many were removed. Nothing is written when no page is blank or when
// every page is blank.
func (s *Source) StripBlankPages(path, output string) (int, error) {
	blank, err := s.BlankPages(path)
	if err != nil {
		return 0, err
	}
	if len(blank) == 0 {
		return 0, nil
	}
	total, err := s.PageCount(path)
	if err != nil {
		return 0, err
	}
	if len(blank) >= total {
		return 0, nil
	}

	sel := make([]string, len(blank))
	for i, p := range blank {
		sel[i] = strconv.Itoa(p)
	}
	if err := api.RemovePagesFile(path, output, sel, s.conf); err != nil {
		return 0, fmt.Errorf("failed to remove blank pages from %s: %w", path, err)
	}
	return len(blank), nil
}
