package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samirkhoja/hookbin/internal/model"
)

// Collector holds the service counters. A nil *Collector is valid and records nothing.
type Collector struct {
	gatherer prometheus.Gatherer

	captures        *prometheus.CounterVec
	bodyReadErrors  prometheus.Counter
	bodyOversize    prometheus.Counter
	rejected        *prometheus.CounterVec
	forwards        *prometheus.CounterVec
	forwardDuration *prometheus.HistogramVec
	forwardsWaiting prometheus.Gauge
	storeErrors     *prometheus.CounterVec
	streamClients   prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Collector {
	c := &Collector{
		gatherer: reg,
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbin_captures_total",
			Help: "Inbound webhook requests captured",
		}, []string{"method"}),
		bodyReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hookbin_body_read_errors_total",
			Help: "Request bodies that could not be read and were stored as empty",
		}),
		bodyOversize: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hookbin_body_oversize_total",
			Help: "Request bodies over the ingest ceiling, stored without a raw copy",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbin_rejected_total",
			Help: "Inbound requests answered without capture",
		}, []string{"reason"}),
		forwards: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbin_forwards_total",
			Help: "Forward attempts by trigger and terminal state",
		}, []string{"trigger", "state"}),
		forwardDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hookbin_forward_duration_seconds",
			Help:    "Wall time of forward attempts",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 7.5, 10, 30},
		}, []string{"state"}),
		forwardsWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hookbin_forwards_waiting",
			Help: "Async forwards queued for a concurrency slot",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hookbin_store_errors_total",
			Help: "Persistence failures by operation",
		}, []string{"op"}),
		streamClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hookbin_stream_clients",
			Help: "Connected live stream clients",
		}),
	}
	reg.MustRegister(c.captures, c.bodyReadErrors, c.bodyOversize, c.rejected, c.forwards, c.forwardDuration,
		c.forwardsWaiting, c.storeErrors, c.streamClients)
	return c
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}

func (c *Collector) Captured(m model.Method) {
	if c == nil {
		return
	}
	c.captures.WithLabelValues(string(m)).Inc()
}

func (c *Collector) BodyReadFailed() {
	if c == nil {
		return
	}
	c.bodyReadErrors.Inc()
}

func (c *Collector) BodyOversize() {
	if c == nil {
		return
	}
	c.bodyOversize.Inc()
}

// Rejected counts requests answered before capture: not_found, paused,
// method, rate_limited.
func (c *Collector) Rejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Forwarded(trigger model.ForwardTrigger, outcome model.ForwardOutcome) {
	if c == nil {
		return
	}
	c.forwards.WithLabelValues(string(trigger), string(outcome.State)).Inc()
	c.forwardDuration.WithLabelValues(string(outcome.State)).Observe((time.Duration(outcome.DurationMs) * time.Millisecond).Seconds())
}

func (c *Collector) ForwardWaiting(delta float64) {
	if c == nil {
		return
	}
	c.forwardsWaiting.Add(delta)
}

func (c *Collector) StoreFailed(op string) {
	if c == nil {
		return
	}
	c.storeErrors.WithLabelValues(op).Inc()
}

func (c *Collector) StreamClients(delta float64) {
	if c == nil {
		return
	}
	c.streamClients.Add(delta)
}
