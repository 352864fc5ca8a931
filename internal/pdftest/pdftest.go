// Package pdftest provides deterministic stand-ins for the page source and
// the recompression engine.
//
// A fake document is a text file with one line per page. Each line is the
// page id, a '|' and '#' padding so the line is exactly the page weight in
// bytes (plus the newline). Merging concatenates lines, extracting a range
// selects lines, and the fake engine shrinks every line by a scale factor,
// so sizes are additive and monotonic in the page count.
package pdftest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	domain "pdfbudget/internal/domain/compression"
)

const (
	// MarkCorrupt as a page id makes the engine reject the document.
	MarkCorrupt = "CORRUPT"
	// MarkUnreadable as a page id makes Validate reject the document.
	MarkUnreadable = "UNREADABLE"
	// BlankPrefix marks page ids that StripBlankPages removes.
	BlankPrefix = "blank"
)

// Page is one page of a fake document.
type Page struct {
	ID     string
	Weight int
}

func (p Page) line() string {
	n := p.Weight - len(p.ID) - 1
	if n < 0 {
		n = 0
	}
	return p.ID + "|" + strings.Repeat("#", n)
}

// Uniform returns n pages named prefix-1..prefix-n of the same weight.
func Uniform(prefix string, n, weight int) []Page {
	pages := make([]Page, n)
	for i := range pages {
		pages[i] = Page{ID: fmt.Sprintf("%s-%d", prefix, i+1), Weight: weight}
	}
	return pages
}

// WriteDoc writes a fake document and returns its path.
func WriteDoc(tb testing.TB, dir, name string, pages []Page) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := writePages(path, pages); err != nil {
		tb.Fatalf("write fake document: %v", err)
	}
	return path
}

// PageIDs returns the page ids of a fake document in order.
func PageIDs(tb testing.TB, path string) []string {
	tb.Helper()
	pages, err := readPages(path)
	if err != nil {
		tb.Fatalf("read fake document: %v", err)
	}
	ids := make([]string, len(pages))
	for i, p := range pages {
		ids[i] = p.ID
	}
	return ids
}

// Write writes a fake document without a testing.TB.
func Write(path string, pages []Page) error {
	return writePages(path, pages)
}

func writePages(path string, pages []Page) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	var b bytes.Buffer
	for _, p := range pages {
		b.WriteString(p.line())
		b.WriteByte('\n')
	}
	return os.WriteFile(path, b.Bytes(), 0644)
}

func readPages(path string) ([]Page, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pages []Page
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		id, _, ok := strings.Cut(line, "|")
		if !ok {
			return nil, fmt.Errorf("%s: malformed page line", path)
		}
		pages = append(pages, Page{ID: id, Weight: len(line)})
	}
	return pages, sc.Err()
}

// Source is an in-process PageSource over fake documents.
type Source struct{}

var (
	_ domain.PageSource     = Source{}
	_ domain.InputValidator = Source{}
	_ domain.BlankStripper  = Source{}
)

func (Source) PageCount(path string) (int, error) {
	pages, err := readPages(path)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

func (Source) WriteRange(path string, start, end int, output string) error {
	pages, err := readPages(path)
	if err != nil {
		return err
	}
	if start < 0 || end > len(pages) || start >= end {
		return fmt.Errorf("range [%d:%d) out of bounds for %d pages", start, end, len(pages))
	}
	return writePages(output, pages[start:end])
}

func (Source) Merge(inputs []string, output string) error {
	var all []Page
	for _, in := range inputs {
		pages, err := readPages(in)
		if err != nil {
			return err
		}
		all = append(all, pages...)
	}
	return writePages(output, all)
}

func (Source) Validate(path string) error {
	pages, err := readPages(path)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return errors.New("document has no pages")
	}
	for _, p := range pages {
		if p.ID == MarkUnreadable {
			return errors.New("document is not a PDF")
		}
	}
	return nil
}

func (Source) StripBlankPages(path, output string) (int, error) {
	pages, err := readPages(path)
	if err != nil {
		return 0, err
	}
	var kept []Page
	for _, p := range pages {
		if !strings.HasPrefix(p.ID, BlankPrefix) {
			kept = append(kept, p)
		}
	}
	removed := len(pages) - len(kept)
	if removed == 0 || len(kept) == 0 {
		return 0, nil
	}
	return removed, writePages(output, kept)
}

// Engine is a fake Recompressor that scales every page by Scale. It mirrors
// the fault isolation contract: corrupt inputs in a multi-file batch are
// skipped, a batch with no good input fails.
type Engine struct {
	Scale float64
	// MinPage is the smallest compressed page weight.
	MinPage int
	// ToolMissing makes every call fail with ErrToolNotFound.
	ToolMissing bool
	// Before runs at the start of every call.
	Before func(inputs []string)

	calls atomic.Int64
	mu    sync.Mutex
	log   [][]string
}

var _ domain.Recompressor = (*Engine)(nil)

// NewEngine creates a fake engine with the given scale.
func NewEngine(scale float64) *Engine {
	return &Engine{Scale: scale, MinPage: 4}
}

// Calls returns the number of invocations so far.
func (e *Engine) Calls() int {
	return int(e.calls.Load())
}

// Batches returns the inputs of every invocation in call order.
func (e *Engine) Batches() [][]string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([][]string, len(e.log))
	copy(out, e.log)
	return out
}

func (e *Engine) Invoke(ctx context.Context, inputs []string, quality domain.Quality, output string) (*domain.Result, error) {
	e.calls.Add(1)
	e.mu.Lock()
	e.log = append(e.log, append([]string(nil), inputs...))
	e.mu.Unlock()
	if e.Before != nil {
		e.Before(inputs)
	}
	if e.ToolMissing {
		return nil, &domain.InvocationError{Kind: domain.ErrToolNotFound, Inputs: inputs}
	}

	var all []Page
	var skipped []string
	for _, in := range inputs {
		pages, err := readPages(in)
		if err != nil || isCorrupt(pages) {
			skipped = append(skipped, in)
			continue
		}
		for _, p := range pages {
			w := int(float64(p.Weight) * e.Scale)
			if w < e.MinPage {
				w = e.MinPage
			}
			all = append(all, Page{ID: p.ID, Weight: w})
		}
	}
	if len(skipped) == len(inputs) {
		return nil, &domain.InvocationError{Kind: domain.ErrInvocationFailed, Inputs: inputs, Diagnostic: "fake engine rejected input"}
	}
	if err := writePages(output, all); err != nil {
		return nil, err
	}
	info, err := os.Stat(output)
	if err != nil {
		return nil, err
	}
	return &domain.Result{OutputPath: output, Size: info.Size(), Skipped: skipped}, nil
}

func isCorrupt(pages []Page) bool {
	for _, p := range pages {
		if p.ID == MarkCorrupt {
			return true
		}
	}
	return false
}
