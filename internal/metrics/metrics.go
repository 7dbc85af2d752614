// Package metrics records search activity in a private Prometheus registry
// that is written to a textfile when the run ends.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/justapithecus/esgfsearch/esgf"
)

// Status label of requests that failed before a response arrived.
const statusError = "error"

// Metrics holds the collectors of one run.
type Metrics struct {
	Registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RecordsTotal    prometheus.Counter
	EntriesTotal    prometheus.Counter
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "esgfsearch_requests_total",
				Help: "Search requests sent to index nodes",
			},
			[]string{"phase", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "esgfsearch_request_duration_seconds",
				Help:    "Duration of search requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase"},
		),
		RecordsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "esgfsearch_records_total",
			Help: "Records passed to the output formatter",
		}),
		EntriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "esgfsearch_entries_total",
			Help: "Merged manifest entries written",
		}),
	}
}

// ObserveRequest implements esgf.Observer.
func (m *Metrics) ObserveRequest(ev esgf.RequestEvent) {
	status := statusError
	if ev.Status != 0 {
		status = strconv.Itoa(ev.Status)
	}
	m.RequestsTotal.WithLabelValues(ev.Phase, status).Inc()
	m.RequestDuration.WithLabelValues(ev.Phase).Observe(ev.Duration.Seconds())
}

// ObserveRun adds the totals of a finished run.
func (m *Metrics) ObserveRun(stats esgf.RunStats) {
	m.RecordsTotal.Add(float64(stats.Records))
	m.EntriesTotal.Add(float64(stats.Entries))
}

// WriteFile writes the registry in text exposition format. The file is
// replaced atomically, as the node_exporter textfile collector expects.
func (m *Metrics) WriteFile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

var _ esgf.Observer = (*Metrics)(nil)
