// Package metrics holds the Prometheus collectors the screener exports.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "screener"

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	registry       *prometheus.Registry
	imports        *prometheus.CounterVec
	importFacts    prometheus.Counter
	importDuration prometheus.Histogram
	fundamentals   *prometheus.CounterVec
	marketRefresh  *prometheus.CounterVec
}

// New builds the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		imports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "imports_total",
			Help:      "Spreadsheet imports by result.",
		}, []string{"result"}),
		importFacts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_facts_total",
			Help:      "Financial values written by committed imports.",
		}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "import_duration_seconds",
			Help:      "Time spent importing one spreadsheet.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		fundamentals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fundamentals_runs_total",
			Help:      "Per-company fundamentals computations by result.",
		}, []string{"result"}),
		marketRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_refreshes_total",
			Help:      "Per-company market data refreshes by job and result.",
		}, []string{"job", "result"}),
	}
	reg.MustRegister(m.imports, m.importFacts, m.importDuration, m.fundamentals, m.marketRefresh)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveImport(err error, facts int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.imports.WithLabelValues(result(err)).Inc()
	m.importDuration.Observe(elapsed.Seconds())
	if err == nil {
		m.importFacts.Add(float64(facts))
	}
}

func (m *Metrics) ObserveFundamentals(err error) {
	if m == nil {
		return
	}
	m.fundamentals.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObserveMarketRefresh(job string, err error) {
	if m == nil {
		return
	}
	m.marketRefresh.WithLabelValues(job, result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
