package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"treatment-journey/internal/consultation"
)

// MetricsSink maps events onto Prometheus collectors.
type MetricsSink struct {
	registry *prometheus.Registry

	turns       *prometheus.CounterVec
	generation  *prometheus.HistogramVec
	factsMerged *prometheus.CounterVec
	journeys    prometheus.Counter
	emergencies prometheus.Counter
	reports     *prometheus.CounterVec
}

// NewMetricsSink registers its collectors on registry, or on a fresh registry
// when nil.
func NewMetricsSink(registry *prometheus.Registry) *MetricsSink {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	m := &MetricsSink{
		registry: registry,
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "turns_total",
			Help:      "Conversation turns by outcome",
		}, []string{"outcome"}),
		generation: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "journey",
			Name:      "generation_seconds",
			Help:      "Latency of text-generation calls in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"status"}),
		factsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "facts_merged_total",
			Help:      "Facts offered to the aggregator by category",
		}, []string{"category"}),
		journeys: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "synthesized_total",
			Help:      "Treatment journeys synthesized",
		}),
		emergencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "emergencies_total",
			Help:      "Turns short-circuited by the emergency detector",
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "journey",
			Name:      "reports_total",
			Help:      "Care-team report deliveries by status",
		}, []string{"status"}),
	}
	registry.MustRegister(m.turns, m.generation, m.factsMerged, m.journeys, m.emergencies, m.reports)
	return m
}

func (m *MetricsSink) Record(_ context.Context, e consultation.Event) {
	switch e.Kind {
	case consultation.EventTurnStarted:
		m.turns.WithLabelValues("started").Inc()
	case consultation.EventEmergencyDispatched:
		m.turns.WithLabelValues("emergency").Inc()
		m.emergencies.Inc()
	case consultation.EventGenerationCompleted:
		m.generation.WithLabelValues("ok").Observe(e.Duration.Seconds())
	case consultation.EventGenerationFailed:
		m.turns.WithLabelValues("failed").Inc()
		if e.Duration > 0 {
			m.generation.WithLabelValues("error").Observe(e.Duration.Seconds())
		}
	case consultation.EventFactsMerged:
		for category, n := range e.Counts {
			m.factsMerged.WithLabelValues(category).Add(float64(n))
		}
	case consultation.EventJourneySynthesized:
		m.journeys.Inc()
	case consultation.EventReportSent:
		m.reports.WithLabelValues("sent").Inc()
	case consultation.EventReportFailed:
		m.reports.WithLabelValues("failed").Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsSink) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
