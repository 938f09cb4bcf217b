package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusRecorder struct {
	outcomes *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	gatherer prometheus.Gatherer
}

// NewPrometheusRecorder registers its collectors on a fresh registry so that
// several recorders can coexist in one process (tests).
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()

	outcomes := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "x402",
			Name:      "requests_total",
			Help:      "Gate requests by scheme, network, outcome and rejection reason",
		},
		[]string{"scheme", "network", "outcome", "reason"},
	)

	latency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "x402",
			Name:      "verify_latency_seconds",
			Help:      "Proof verification latency, facilitator round trips included",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"scheme", "network"},
	)

	reg.MustRegister(outcomes, latency, prometheus.NewGoCollector())

	return &PrometheusRecorder{outcomes: outcomes, latency: latency, gatherer: reg}
}

func (p *PrometheusRecorder) Outcome(scheme, network, outcome, reason string) {
	p.outcomes.With(prometheus.Labels{
		"scheme":  scheme,
		"network": network,
		"outcome": outcome,
		"reason":  reason,
	}).Inc()
}

func (p *PrometheusRecorder) ObserveVerify(scheme, network string, d time.Duration) {
	p.latency.With(prometheus.Labels{
		"scheme":  scheme,
		"network": network,
	}).Observe(d.Seconds())
}

// Handler serves the recorder's registry in the Prometheus text format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = NoopRecorder{}
	_ Recorder = (*PrometheusRecorder)(nil)
)
