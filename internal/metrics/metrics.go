// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trustdesk"

// Metrics holds every collector on a private registry. A nil *Metrics is a
// valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	Evaluations         *prometheus.CounterVec
	SpamVerdicts        *prometheus.CounterVec
	Flags               *prometheus.CounterVec
	Resolutions         *prometheus.CounterVec
	DependencyFallbacks *prometheus.CounterVec
	ProfileCache        *prometheus.CounterVec
	TrustRecomputes     prometheus.Counter
	FeedClients         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)
	m.HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
	m.Evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "post_evaluations_total",
			Help:      "Post evaluations by result (computed, cached)",
		},
		[]string{"result"},
	)
	m.SpamVerdicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spam_verdicts_total",
			Help:      "Spam verdicts by risk level and auto-hide decision",
		},
		[]string{"risk_level", "auto_hide"},
	)
	m.Flags = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flags_total",
			Help:      "Accepted flag submissions (created, duplicate)",
		},
		[]string{"result"},
	)
	m.Resolutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_resolutions_total",
			Help:      "Resolved moderation queue items by outcome",
		},
		[]string{"outcome"},
	)
	m.DependencyFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dependency_fallbacks_total",
			Help:      "Evaluations that fell back to neutral defaults, by dependency",
		},
		[]string{"dependency"},
	)
	m.ProfileCache = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "profile_cache_requests_total",
			Help:      "Author profile cache lookups (hit, miss)",
		},
		[]string{"result"},
	)
	m.TrustRecomputes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trust_recomputes_total",
			Help:      "User trust profiles recomputed",
		},
	)
	m.FeedClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "feed_clients",
			Help:      "Connected moderator feed clients",
		},
	)

	m.registry.MustRegister(
		m.HTTPRequests,
		m.HTTPRequestDuration,
		m.Evaluations,
		m.SpamVerdicts,
		m.Flags,
		m.Resolutions,
		m.DependencyFallbacks,
		m.ProfileCache,
		m.TrustRecomputes,
		m.FeedClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry backing the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Middleware records request counts and latency keyed by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unknown"
		}
		method := c.Request.Method
		m.HTTPRequests.WithLabelValues(method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	var h http.Handler = promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func (m *Metrics) ObserveEvaluation(cached bool) {
	if m == nil {
		return
	}
	result := "computed"
	if cached {
		result = "cached"
	}
	m.Evaluations.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveVerdict(riskLevel string, autoHide bool) {
	if m == nil {
		return
	}
	m.SpamVerdicts.WithLabelValues(riskLevel, strconv.FormatBool(autoHide)).Inc()
}

func (m *Metrics) ObserveFlag(created bool) {
	if m == nil {
		return
	}
	result := "duplicate"
	if created {
		result = "created"
	}
	m.Flags.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.Resolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFallback(dependency string) {
	if m == nil {
		return
	}
	m.DependencyFallbacks.WithLabelValues(dependency).Inc()
}

func (m *Metrics) ObserveRecomputes(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.TrustRecomputes.Add(float64(n))
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.ProfileCache.WithLabelValues("hit").Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.ProfileCache.WithLabelValues("miss").Inc()
}

func (m *Metrics) SetFeedClients(n int) {
	if m == nil {
		return
	}
	m.FeedClients.Set(float64(n))
}
