package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
	next:
		for _, metric := range f.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if labels[lp.GetName()] != lp.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	return 0
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveInvocation("ok", time.Second)
	m.IncIsolated(2)
	m.IncCacheEntry("ok")
	m.IncProbe()
	m.IncPart("split")
	m.ObserveRun("turbo", "success", 1, 1)
	if err := m.WriteTextfile("/nonexistent/x.prom"); err != nil {
		t.Errorf("Expected nil metrics to be a no-op, got %v", err)
	}
}

func TestCounters(t *testing.T) {
	m := New()
	m.ObserveInvocation("ok", 200*time.Millisecond)
	m.ObserveInvocation("ok", time.Second)
	m.ObserveInvocation("failed", time.Second)
	m.IncIsolated(1)
	m.IncPart("split")

	if got := counterValue(t, m, "pdfbudget_engine_invocations_total", map[string]string{"result": "ok"}); got != 2 {
		t.Errorf("Expected 2 ok invocations, got %v", got)
	}
	if got := counterValue(t, m, "pdfbudget_isolated_inputs_total", nil); got != 1 {
		t.Errorf("Expected 1 isolated input, got %v", got)
	}
	if got := counterValue(t, m, "pdfbudget_parts_written_total", map[string]string{"producer": "split"}); got != 1 {
		t.Errorf("Expected 1 split part, got %v", got)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveRun("precise", "success", 2048, 1024)
	path := filepath.Join(t.TempDir(), "pdfbudget.prom")

	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `pdfbudget_runs_total{mode="precise",outcome="success"} 1`) {
		t.Errorf("Expected run counter in textfile, got:\n%s", data)
	}
}
