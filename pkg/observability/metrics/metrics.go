// Package metrics exposes the catalog's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeImported  = "imported"
	OutcomeDuplicate = "duplicate"
	OutcomeFailed    = "failed"

	OutcomeServed   = "served"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics holds the collectors for one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	importsTotal     *prometheus.CounterVec
	importDuration   prometheus.Histogram
	storedBytesTotal prometheus.Counter
	downloadsTotal   *prometheus.CounterVec
}

// New registers the catalog collectors, plus the Go and process collectors, on
// a fresh registry.
func New() (*Metrics, error) {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		importsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom_imports_total",
			Help: "DICOM import attempts partitioned by outcome.",
		}, []string{"outcome"}),
		importDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dicom_import_duration_seconds",
			Help:    "Wall time of a single DICOM import.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		storedBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dicom_stored_bytes_total",
			Help: "Bytes written to the blob store by imports.",
		}),
		downloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dicom_downloads_total",
			Help: "Instance file downloads partitioned by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{
		m.importsTotal,
		m.importDuration,
		m.storedBytesTotal,
		m.downloadsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ObserveImport(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.importsTotal.WithLabelValues(outcome).Inc()
	m.importDuration.Observe(seconds)
}

func (m *Metrics) AddStoredBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.storedBytesTotal.Add(float64(n))
}

func (m *Metrics) ObserveDownload(outcome string) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(outcome).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
