package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every collector of the process. A private registry keeps
// tests free of AlreadyRegisteredError panics from the global one.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	FetchTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "calsummary_fetch_total",
		Help: "ICS fetch attempts by source and result",
	}, []string{"source", "result"})

	FetchDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "calsummary_fetch_duration_seconds",
		Help:    "Latency of a single ICS fetch attempt",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	StageEvents = factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "calsummary_stage_events",
		Help: "Events leaving each pipeline stage in the last run",
	}, []string{"mode", "stage"})

	SourceFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "calsummary_source_failures_total",
		Help: "Sources that contributed no data, by failure kind",
	}, []string{"source", "kind"})

	RunsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "calsummary_runs_total",
		Help: "Pipeline runs by mode and outcome",
	}, []string{"mode", "outcome"})

	DeliveriesTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "calsummary_deliveries_total",
		Help: "Summary deliveries by transport and result",
	}, []string{"transport", "result"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
