package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/pdftest"
	"pdfbudget/internal/progress"
)

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Emit(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) steps() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	for _, ev := range r.events {
		if ev.Kind == progress.KindStep {
			out = append(out, ev.Value)
		}
	}
	return out
}

func writeDocs(t *testing.T, dir string, n int) []string {
	t.Helper()
	docs := make([]string, n)
	for i := range docs {
		name := fmt.Sprintf("doc%d", i+1)
		docs[i] = pdftest.WriteDoc(t, dir, name+".pdf", pdftest.Uniform(name, i+1, 100))
	}
	return docs
}

func TestBuildMany_OrderAndSizes(t *testing.T) {
	dir := t.TempDir()
	docs := writeDocs(t, dir, 8)
	engine := pdftest.NewEngine(0.5)
	rec := &recorder{}
	c := New(engine, Options{Workers: 4, WorkDir: t.TempDir(), Notifier: progress.NewNotifier(rec)})

	entries, err := c.BuildMany(context.Background(), docs)
	if err != nil {
		t.Fatalf("BuildMany failed: %v", err)
	}
	if len(entries) != len(docs) {
		t.Fatalf("Expected %d entries, got %d", len(docs), len(entries))
	}
	for i, e := range entries {
		if e.Original != docs[i] {
			t.Errorf("Entry %d: expected %s, got %s", i, docs[i], e.Original)
		}
		// i+1 pages of 50 bytes plus newline each
		if want := int64((i + 1) * 51); e.Size != want {
			t.Errorf("Entry %d: expected size %d, got %d", i, want, e.Size)
		}
		if e.Cached {
			t.Errorf("Entry %d: expected fresh entry", i)
		}
	}
	if engine.Calls() != 8 {
		t.Errorf("Expected 8 engine calls, got %d", engine.Calls())
	}

	steps := rec.steps()
	// initial step(0) then one per unit
	if len(steps) != 9 {
		t.Fatalf("Expected 9 step events, got %v", steps)
	}
	for i, s := range steps {
		if s != i {
			t.Errorf("Expected step %d, got %d", i, s)
		}
	}
}

func TestBuildMany_Idempotent(t *testing.T) {
	dir := t.TempDir()
	docs := writeDocs(t, dir, 3)
	engine := pdftest.NewEngine(0.5)
	c := New(engine, Options{Workers: 2, WorkDir: t.TempDir()})

	first, err := c.BuildMany(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}

	rec := &recorder{}
	c.opts.Notifier = progress.NewNotifier(rec)
	second, err := c.BuildMany(context.Background(), append(docs, docs[0]))
	if err != nil {
		t.Fatal(err)
	}

	if engine.Calls() != 3 {
		t.Errorf("Expected cached documents not to be recompressed, got %d calls", engine.Calls())
	}
	for i := range first {
		if second[i].CompressedPath != first[i].CompressedPath || !second[i].Cached {
			t.Errorf("Entry %d: expected cached copy of first result", i)
		}
	}
	if second[3].CompressedPath != first[0].CompressedPath {
		t.Error("Expected repeated document to share its entry")
	}
	if steps := rec.steps(); len(steps) != 1 || steps[0] != 4 {
		t.Errorf("Expected a single step(4), got %v", steps)
	}
}

func TestBuildMany_FailureIsUnusable(t *testing.T) {
	dir := t.TempDir()
	good := pdftest.WriteDoc(t, dir, "good.pdf", pdftest.Uniform("g", 2, 100))
	bad := pdftest.WriteDoc(t, dir, "bad.pdf", []pdftest.Page{{ID: pdftest.MarkCorrupt, Weight: 100}})
	c := New(pdftest.NewEngine(0.5), Options{WorkDir: t.TempDir()})

	entries, err := c.BuildMany(context.Background(), []string{good, bad})
	if err != nil {
		t.Fatal(err)
	}
	if entries[0].Err != nil || entries[0].Size == domain.Unusable {
		t.Errorf("Expected good entry, got %+v", entries[0])
	}
	if entries[1].Size != domain.Unusable || !errors.Is(entries[1].Err, domain.ErrInvocationFailed) {
		t.Errorf("Expected unusable entry, got %+v", entries[1])
	}
	if !entries[1].Fragment().IsUnusable() {
		t.Error("Expected fragment to be unusable")
	}
	if f := entries[1].Fragment(); f.Origin != bad || f.Err == nil {
		t.Errorf("Expected the failure to travel with the fragment, got %+v", f)
	}
}

func TestBuildMany_CancelledBeforeStart(t *testing.T) {
	dir := t.TempDir()
	docs := writeDocs(t, dir, 3)
	engine := pdftest.NewEngine(0.5)
	c := New(engine, Options{Workers: 2, WorkDir: t.TempDir()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	entries, err := c.BuildMany(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if engine.Calls() != 0 {
		t.Errorf("Expected no engine call, got %d", engine.Calls())
	}
	for i, e := range entries {
		if !errors.Is(e.Err, domain.ErrCancelled) || e.Size != domain.Unusable {
			t.Errorf("Entry %d: expected cancelled, got %+v", i, e)
		}
	}

	// cancelled slots are evicted and retried
	entries, err = c.BuildMany(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	if engine.Calls() != 3 {
		t.Errorf("Expected 3 engine calls on retry, got %d", engine.Calls())
	}
	for i, e := range entries {
		if e.Err != nil {
			t.Errorf("Entry %d: unexpected error %v", i, e.Err)
		}
	}
}

func TestBuildMany_CancelledMidway(t *testing.T) {
	dir := t.TempDir()
	docs := writeDocs(t, dir, 4)
	engine := pdftest.NewEngine(0.5)
	ctx, cancel := context.WithCancel(context.Background())
	engine.Before = func([]string) { cancel() }
	c := New(engine, Options{Workers: 1, WorkDir: t.TempDir()})

	entries, err := c.BuildMany(ctx, docs)
	if err != nil {
		t.Fatal(err)
	}
	if engine.Calls() != 1 {
		t.Errorf("Expected the in-flight unit only, got %d calls", engine.Calls())
	}
	if entries[0].Err != nil {
		t.Errorf("Expected in-flight unit to complete, got %v", entries[0].Err)
	}
	for i, e := range entries[1:] {
		if !errors.Is(e.Err, domain.ErrCancelled) {
			t.Errorf("Entry %d: expected cancelled, got %v", i+1, e.Err)
		}
	}
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	docs := writeDocs(t, dir, 2)
	engine := pdftest.NewEngine(0.5)
	c := New(engine, Options{WorkDir: t.TempDir()})

	entries, err := c.BuildMany(context.Background(), docs)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Cleanup(); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	for _, e := range entries {
		if _, err := os.Stat(e.CompressedPath); !os.IsNotExist(err) {
			t.Errorf("Expected %s to be removed", e.CompressedPath)
		}
	}

	again, err := c.BuildMany(context.Background(), docs[:1])
	if err != nil {
		t.Fatal(err)
	}
	if again[0].Cached || engine.Calls() != 3 {
		t.Errorf("Expected a fresh compression after cleanup, got %+v after %d calls", again[0], engine.Calls())
	}
}
