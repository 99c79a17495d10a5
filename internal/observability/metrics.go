package observability

import (
	"net/http"
	"time"

	"codeberg.org/mutker/powerdash/internal/history"
	"codeberg.org/mutker/powerdash/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "powerdash"

// Metrics exports channel and fetcher activity to Prometheus. It implements
// both telemetry.Observer and history.Observer.
type Metrics struct {
	registry *prometheus.Registry

	samplesAccepted prometheus.Counter
	samplesDropped  prometheus.Counter
	connState       *prometheus.GaugeVec
	reconnects      prometheus.Counter
	lastPower       prometheus.Gauge

	fetches      *prometheus.CounterVec
	fetchLatency *prometheus.HistogramVec
	staleDropped *prometheus.CounterVec
}

var (
	_ telemetry.Observer = (*Metrics)(nil)
	_ history.Observer   = (*Metrics)(nil)
)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		samplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_accepted_total",
			Help:      "Live samples decoded and published.",
		}),
		samplesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_dropped_total",
			Help:      "Live messages dropped because they could not be decoded.",
		}),
		connState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current live connection state (1 for the active state).",
		}, []string{"state"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Scheduled reconnect attempts of the live channel.",
		}),
		lastPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_power_watts",
			Help:      "Power of the most recent accepted sample.",
		}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_fetches_total",
			Help:      "Historical dataset fetches by kind and outcome.",
		}, []string{"kind", "outcome"}),
		fetchLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dataset_fetch_duration_seconds",
			Help:      "Historical dataset request latency.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"kind"}),
		staleDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dataset_stale_responses_total",
			Help:      "Dataset responses dropped because a newer request was issued.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		m.samplesAccepted,
		m.samplesDropped,
		m.connState,
		m.reconnects,
		m.lastPower,
		m.fetches,
		m.fetchLatency,
		m.staleDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) StateChanged(state telemetry.ConnState, _ error) {
	for _, s := range []telemetry.ConnState{
		telemetry.StateConnecting,
		telemetry.StateOpen,
		telemetry.StateClosed,
		telemetry.StateErrored,
	} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.connState.WithLabelValues(s.String()).Set(v)
	}
}

func (m *Metrics) SampleAccepted(s telemetry.Sample) {
	m.samplesAccepted.Inc()
	m.lastPower.Set(s.Power)
}

func (m *Metrics) SampleDropped([]byte, error) {
	m.samplesDropped.Inc()
}

func (m *Metrics) Reconnecting(int, time.Duration) {
	m.reconnects.Inc()
}

func (m *Metrics) FetchFinished(kind history.Kind, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.fetches.WithLabelValues(string(kind), outcome).Inc()
	m.fetchLatency.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
}

func (m *Metrics) StaleDropped(kind history.Kind) {
	m.staleDropped.WithLabelValues(string(kind)).Inc()
}
