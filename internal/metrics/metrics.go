package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pdfbudget"

// Metrics groups the collectors of one process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	invocations    *prometheus.CounterVec
	invocationTime prometheus.Histogram
	isolatedInputs prometheus.Counter
	cacheEntries   *prometheus.CounterVec
	probes         prometheus.Counter
	partsWritten   *prometheus.CounterVec
	runs           *prometheus.CounterVec
	bytesIn        prometheus.Counter
	bytesOut       prometheus.Counter
}

// New creates a new metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_invocations_total",
				Help:      "Engine invocations by result (ok, failed, timeout, isolated)",
			},
			[]string{"result"},
		),
		invocationTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_invocation_duration_seconds",
				Help:      "Wall time of engine invocations",
				Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
			},
		),
		isolatedInputs: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "isolated_inputs_total",
				Help:      "Inputs excluded from a batch by fault isolation",
			},
		),
		cacheEntries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "precompression_entries_total",
				Help:      "Pre-compression cache entries by result (ok, failed, cached, cancelled)",
			},
			[]string{"result"},
		),
		probes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "split_probes_total",
				Help:      "Page-range probes compressed by the splitter",
			},
		),
		partsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "parts_written_total",
				Help:      "Output parts by producer (whole, split, pack)",
			},
			[]string{"producer"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		bytesIn: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "input_bytes_total",
				Help:      "Bytes of accepted inputs",
			},
		),
		bytesOut: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "output_bytes_total",
				Help:      "Bytes of finalized outputs",
			},
		),
	}

	m.registry.MustRegister(
		m.invocations, m.invocationTime, m.isolatedInputs, m.cacheEntries,
		m.probes, m.partsWritten, m.runs, m.bytesIn, m.bytesOut,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveInvocation records one engine call.
func (m *Metrics) ObserveInvocation(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(result).Inc()
	m.invocationTime.Observe(d.Seconds())
}

func (m *Metrics) IncIsolated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.isolatedInputs.Add(float64(n))
}

func (m *Metrics) IncCacheEntry(result string) {
	if m == nil {
		return
	}
	m.cacheEntries.WithLabelValues(result).Inc()
}

func (m *Metrics) IncProbe() {
	if m == nil {
		return
	}
	m.probes.Inc()
}

func (m *Metrics) IncPart(producer string) {
	if m == nil {
		return
	}
	m.partsWritten.WithLabelValues(producer).Inc()
}

// ObserveRun records a finished run and its byte totals.
func (m *Metrics) ObserveRun(mode, outcome string, in, out int64) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(mode, outcome).Inc()
	if in > 0 {
		m.bytesIn.Add(float64(in))
	}
	if out > 0 {
		m.bytesOut.Add(float64(out))
	}
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
