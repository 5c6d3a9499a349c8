package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()

	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/api/posts/:id/spam", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/posts/p1/spam", nil))
	}

	got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/posts/:id/spam", "404"))
	assert.Equal(t, 2.0, got)
}

func TestDomainCounters(t *testing.T) {
	m := New()

	m.ObserveEvaluation(false)
	m.ObserveEvaluation(true)
	m.ObserveEvaluation(true)
	m.ObserveFlag(true)
	m.ObserveFlag(false)
	m.ObserveResolution("removed")
	m.ObserveFallback("identity_service")
	m.ObserveVerdict("high", true)
	m.ObserveRecomputes(3)
	m.ObserveRecomputes(0)
	m.CacheHit()
	m.CacheMiss()
	m.SetFeedClients(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("computed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Evaluations.WithLabelValues("cached")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flags.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Flags.WithLabelValues("duplicate")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resolutions.WithLabelValues("removed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DependencyFallbacks.WithLabelValues("identity_service")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SpamVerdicts.WithLabelValues("high", "true")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TrustRecomputes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProfileCache.WithLabelValues("hit")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.FeedClients))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveEvaluation(false)
		m.ObserveFlag(true)
		m.ObserveResolution("approved")
		m.ObserveFallback("content_store")
		m.ObserveVerdict("low", false)
		m.ObserveRecomputes(1)
		m.CacheHit()
		m.CacheMiss()
		m.SetFeedClients(1)
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandlerExposesPrivateRegistry(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	m.ObserveFlag(true)

	r := gin.New()
	r.GET("/metrics", m.Handler())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.True(t, strings.Contains(body, `trustdesk_flags_total{result="created"} 1`))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
