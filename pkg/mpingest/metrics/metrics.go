package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what an ingestion run did. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	ingested     *prometheus.CounterVec
	linked       *prometheus.CounterVec
	misses       *prometheus.CounterVec
	passDuration *prometheus.GaugeVec
}

// New creates a metrics set on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpingest",
			Name:      "records_ingested_total",
			Help:      "Entities upserted, by entity kind.",
		}, []string{"kind"}),
		linked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpingest",
			Name:      "associations_linked_total",
			Help:      "Topic associations upserted, by association kind.",
		}, []string{"kind"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mpingest",
			Name:      "resolution_misses_total",
			Help:      "Optional associations skipped because the target could not be resolved.",
		}, []string{"kind"}),
		passDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mpingest",
			Name:      "pass_duration_seconds",
			Help:      "Wall time of the last ingestion pass.",
		}, []string{"mode", "pass"}),
	}
	m.registry.MustRegister(m.ingested, m.linked, m.misses, m.passDuration)
	return m
}

func (m *Metrics) Ingested(kind string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(kind).Inc()
}

func (m *Metrics) Linked(kind string) {
	if m == nil {
		return
	}
	m.linked.WithLabelValues(kind).Inc()
}

func (m *Metrics) Miss(kind string) {
	if m == nil {
		return
	}
	m.misses.WithLabelValues(kind).Inc()
}

// PassDone records how long a pass of the given mode took.
func (m *Metrics) PassDone(mode, pass string, d time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.WithLabelValues(mode, pass).Set(d.Seconds())
}

// Gatherer exposes the registry, e.g. for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes every metric in the Prometheus text format, for the
// node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
