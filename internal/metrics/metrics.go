package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the service.
type Metrics struct {
	registry *prometheus.Registry

	Toggles          *prometheus.CounterVec
	ToggleDuration   *prometheus.HistogramVec
	ToggleCoalesced  *prometheus.CounterVec
	MembershipChecks *prometheus.CounterVec
	Recounts         *prometheus.CounterVec
	FeedPublished    *prometheus.CounterVec
	RequestCounter   *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
}

// New registers every collector on a fresh registry so tests can build as many as they like.
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Toggles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "upvote",
				Name:      "toggles_total",
				Help:      "Upvote toggles by target kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		ToggleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: serviceName,
				Subsystem: "upvote",
				Name:      "toggle_duration_seconds",
				Help:      "Time spent in the atomic toggle",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		ToggleCoalesced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "upvote",
				Name:      "toggles_coalesced_total",
				Help:      "Toggle requests that shared one in-flight toggle with an identical request",
			},
			[]string{"kind"},
		),
		MembershipChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "upvote",
				Name:      "membership_checks_total",
				Help:      "Membership checks by target kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		Recounts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "recount",
				Name:      "targets_total",
				Help:      "Counter recounts by result (unchanged, repaired, failed)",
			},
			[]string{"result"},
		),
		FeedPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "feed",
				Name:      "events_total",
				Help:      "Live feed events by kind and publish outcome",
			},
			[]string{"kind", "outcome"},
		),
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: serviceName,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: serviceName,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}

// Middleware records request count and latency per route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
		m.RequestCounter.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
	}
}
