// Package metrics exposes dispatcher and reply statistics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miladsoleymani/replymux/core"
)

const namespace = "replymux"

// Collector implements middleware.MetricsCollector, core.Observer and
// core.ReplyObserver on top of Prometheus collectors.
type Collector struct {
	processed *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	discarded *prometheus.CounterVec
	replies   *prometheus.CounterVec
	gatherer  prometheus.Gatherer
}

// New creates a Collector and registers it with reg. A nil reg uses a
// fresh registry.
func New(reg *prometheus.Registry) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	c := &Collector{
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_processed_total",
				Help:      "Total number of handler invocations",
			},
			[]string{"destination", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_processing_duration_seconds",
				Help:      "Handler processing duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"destination", "status"},
		),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "in_flight",
			Help:      "Handler invocations currently running",
		}),
		discarded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_discarded_total",
				Help:      "Deliveries settled without running the handler",
			},
			[]string{"destination", "reason"},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replies_total",
				Help:      "Reply attempts by outcome",
			},
			[]string{"outcome"},
		),
		gatherer: reg,
	}
	reg.MustRegister(c.processed, c.duration, c.inFlight, c.discarded, c.replies)
	return c
}

func (c *Collector) MessageProcessed(destination string, d time.Duration, err error) {
	status := string(core.StatusSuccess)
	if err != nil {
		status = string(core.StatusError)
	}
	c.processed.WithLabelValues(destination, status).Inc()
	c.duration.WithLabelValues(destination, status).Observe(d.Seconds())
}

func (c *Collector) InFlightChanged(n int) {
	c.inFlight.Set(float64(n))
}

func (c *Collector) MessageDiscarded(destination, reason string) {
	c.discarded.WithLabelValues(destination, reason).Inc()
}

func (c *Collector) ReplyObserved(outcome core.ReplyOutcome) {
	c.replies.WithLabelValues(string(outcome)).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
