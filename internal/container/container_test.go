package container

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"pdfbudget/internal/config"
	domain "pdfbudget/internal/domain/compression"
	"pdfbudget/internal/orchestrator"
	"pdfbudget/internal/pdftest"
)

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.WorkingDir = filepath.Join(dir, "work")
	cfg.DatabasePath = filepath.Join(dir, "db.sqlite3")
	cfg.MetricsFile = filepath.Join(dir, "pdfbudget.prom")

	c, err := New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	c.source = pdftest.Source{}
	c.newEngine = func(config.Compression) domain.Recompressor { return pdftest.NewEngine(0.5) }
	return c
}

func TestSettings_PreferencesOverlayConfig(t *testing.T) {
	c := newTestContainer(t)
	c.config.Compression.Quality = "printer"
	c.config.Compression.Workers = 3

	s, err := c.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if s.Quality != "printer" || s.Workers != 3 {
		t.Errorf("Expected config values without stored changes, got %+v", s)
	}

	if err := c.GetDatabase().UpdatePreferences(map[string]interface{}{"quality": "screen", "workers": "6"}); err != nil {
		t.Fatal(err)
	}
	s, err = c.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if s.Quality != "screen" || s.Workers != 6 {
		t.Errorf("Expected stored preferences to win, got %+v", s)
	}
}

func TestNewRequest(t *testing.T) {
	s := config.Default().Compression
	s.Turbo = true

	req, err := NewRequest([]string{"/docs/peticao.pdf"}, "", s, "")
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	if req.Mode != orchestrator.ModeTurbo || req.Output != "/docs/peticao_compressed.pdf" {
		t.Errorf("Unexpected request %+v", req)
	}
	if req.Budget.Limit != 5*1024*1024 || req.Quality != domain.QualityEbook {
		t.Errorf("Unexpected defaults %+v", req)
	}

	s.Turbo = false
	req, _ = NewRequest([]string{"a.pdf"}, "out.pdf", s, "")
	if req.Mode != orchestrator.ModePrecise || req.Output != "out.pdf" {
		t.Errorf("Unexpected request %+v", req)
	}

	s.Limit = "huge"
	if _, err := NewRequest([]string{"a.pdf"}, "", s, ""); !errors.Is(err, domain.ErrInvalidBudget) {
		t.Errorf("Expected ErrInvalidBudget, got %v", err)
	}

	s.Limit, s.Margin = "1MB", "2MB"
	if _, err := NewRequest([]string{"a.pdf"}, "", s, ""); !errors.Is(err, domain.ErrInvalidBudget) {
		t.Errorf("Expected margin above limit to be rejected, got %v", err)
	}
}

func TestExecute_RecordsHistoryAndMetrics(t *testing.T) {
	c := newTestContainer(t)
	in := pdftest.WriteDoc(t, t.TempDir(), "a.pdf", pdftest.Uniform("a", 3, 100))

	s, _ := c.Settings()
	req, err := NewRequest([]string{in}, "", s, "")
	if err != nil {
		t.Fatal(err)
	}
	report, err := c.Execute(context.Background(), req, s, nil)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if report.Outcome() != orchestrator.OutcomeSuccess {
		t.Errorf("Expected success, got %s", report.Outcome())
	}

	runs, err := c.GetDatabase().RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].RunID != report.RunID || runs[0].Inputs != 1 {
		t.Errorf("Expected the run in the history, got %+v", runs)
	}
	if _, err := os.Stat(c.config.MetricsFile); err != nil {
		t.Errorf("Expected metrics textfile: %v", err)
	}
}
