package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
)

var Module = fx.Module("metrics",
	fx.Provide(New),
)

// Metrics owns its registry so tests can build independent instances. The
// default registry still carries the runtime and database pool collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry           *prometheus.Registry
	payoutsProcessed   *prometheus.CounterVec
	pendingSettlements prometheus.Gauge
	jobDuration        *prometheus.HistogramVec
	httpDuration       *prometheus.HistogramVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		payoutsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "revshare_payouts_processed_total",
			Help: "Payout instructions reaching a status, by provider.",
		}, []string{"status", "provider"}),
		pendingSettlements: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "revshare_pending_settlements",
			Help: "Settlement runs finalized but not yet paid.",
		}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "revshare_job_duration_seconds",
			Help:    "Job handler duration by queue and outcome.",
			Buckets: prometheus.DefBuckets,
		}, []string{"queue", "outcome"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "revshare_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.payoutsProcessed,
		m.pendingSettlements,
		m.jobDuration,
		m.httpDuration,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) PayoutProcessed(status, provider string) {
	if m == nil {
		return
	}
	m.payoutsProcessed.WithLabelValues(status, provider).Inc()
}

func (m *Metrics) SetPendingSettlements(n int64) {
	if m == nil {
		return
	}
	m.pendingSettlements.Set(float64(n))
}

func (m *Metrics) ObserveJob(queue, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(queue, outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(prometheus.Gatherers{m.registry, prometheus.DefaultGatherer}, promhttp.HandlerOpts{})
}
