package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/trustdesk/internal/db/dbtest"
	"github.com/sujalbistaa/trustdesk/internal/engine"
	"github.com/sujalbistaa/trustdesk/internal/metrics"
	"github.com/sujalbistaa/trustdesk/internal/models"
	"github.com/sujalbistaa/trustdesk/internal/moderation"
	"github.com/sujalbistaa/trustdesk/internal/store"
	"github.com/sujalbistaa/trustdesk/internal/trust"
	"github.com/sujalbistaa/trustdesk/internal/ws"
)

const adminToken = "s3cret"

func newRouter(t *testing.T, limiter *KeyedRateLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb := dbtest.New(t)
	log, _ := test.NewNullLogger()
	agg := trust.NewAggregator(gdb, trust.DefaultConfig(), log)
	mod := moderation.NewService(gdb, agg, moderation.DefaultConfig(), log)
	hub := ws.NewHub("*", log)

	eng := engine.New(engine.Options{
		Verdicts:   store.NewVerdicts(gdb),
		Moderation: mod,
		Trust:      agg,
		Notifier:   hub,
		Log:        log,
	})
	if limiter == nil {
		limiter = NewKeyedRateLimiter(rate.Inf, 1)
	}

	router := gin.New()
	env := &Env{Engine: eng, DB: gdb, Hub: hub, FlagLimiter: limiter, Log: log}
	SetupRoutes(router, env, RouteConfig{CORSOrigin: "*", AdminToken: adminToken}, metrics.New())
	return router
}

func do(r *gin.Engine, method, path string, body interface{}, admin bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Token", adminToken)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestEvaluateAndRead(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodPost, "/api/posts/evaluate", gin.H{
		"id": "p1", "authorId": "u1", "content": "GUARANTEED 10x RETURNS!!! DM me on telegram",
		"createdAt": time.Now().Add(-2 * time.Hour),
	}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	ev := decode[engine.Evaluation](t, w)
	assert.True(t, ev.Spam.IsSpam)
	assert.ElementsMatch(t, []string{"identity_service", "content_store"}, ev.Credibility.Degraded)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(r, http.MethodGet, "/api/posts/p1/spam", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ev.Spam.RiskScore, decode[models.SpamVerdict](t, w).RiskScore)

	w = do(r, http.MethodGet, "/api/posts/p1/credibility", nil, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/api/posts/unknown/credibility", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/api/posts/evaluate", gin.H{"content": "no ids"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlagLifecycle(t *testing.T) {
	r := newRouter(t, nil)

	for i, reporter := range []string{"r1", "r2", "r3", "r1"} {
		w := do(r, http.MethodPost, "/api/posts/p7/flags", gin.H{"reporterId": reporter, "reason": "spam"}, false)
		if i < 3 {
			assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		} else {
			assert.Equal(t, http.StatusOK, w.Code, "repeat flag updates instead of creating")
		}
	}

	w := do(r, http.MethodPost, "/api/posts/p7/flags", gin.H{"reporterId": "r4", "reason": "rude"}, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodGet, "/api/posts/p7/flags", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Flag](t, w), 3)

	w = do(r, http.MethodGet, "/api/moderation/queue?status=pending", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]models.QueueItem](t, w)
	require.Len(t, items, 1)
	item := items[0]
	assert.Equal(t, 4, item.TotalFlags)
	assert.Equal(t, 3, item.UniqueReporters)
	assert.Equal(t, models.PriorityMedium, item.Priority)

	path := "/api/moderation/queue/" + item.ID
	w = do(r, http.MethodPost, path+"/claim", gin.H{"moderatorId": "mod-1"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.QueueInReview, decode[models.QueueItem](t, w).Status)

	w = do(r, http.MethodPost, path+"/claim", gin.H{"moderatorId": "mod-2"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodPost, path+"/resolve", gin.H{"outcome": "approved", "moderatorId": "mod-1"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.OutcomeApproved, decode[models.QueueItem](t, w).Outcome)

	w = do(r, http.MethodPost, path+"/resolve", gin.H{"outcome": "removed", "moderatorId": "mod-1"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "Already handled", decode[map[string]string](t, w)["error"])

	w = do(r, http.MethodGet, path+"/actions", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.ModerationAction](t, w), 2)

	w = do(r, http.MethodGet, "/api/moderation/queue/missing", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestQueueValidation(t *testing.T) {
	r := newRouter(t, nil)

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/moderation/queue?limit=ten", nil, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/moderation/queue?status=open", nil, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPost, "/api/moderation/queue/x/resolve", gin.H{"outcome": "approved"}, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/moderation/queue?reason=rude", nil, true).Code)
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/api/moderation/queue?sort=random", nil, true).Code)
}

func TestQueueStatsAndFilters(t *testing.T) {
	r := newRouter(t, nil)

	do(r, http.MethodPost, "/api/posts/p1/flags", gin.H{"reporterId": "r1", "reason": "spam"}, false)
	do(r, http.MethodPost, "/api/posts/p1/flags", gin.H{"reporterId": "r2", "reason": "spam"}, false)
	do(r, http.MethodPost, "/api/posts/p2/flags", gin.H{"reporterId": "r3", "reason": "misinformation"}, false)

	w := do(r, http.MethodGet, "/api/moderation/queue?reason=misinformation", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	items := decode[[]models.QueueItem](t, w)
	require.Len(t, items, 1)
	assert.Equal(t, "p2", items[0].PostID)

	w = do(r, http.MethodGet, "/api/moderation/queue?sort=most_flagged", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	items = decode[[]models.QueueItem](t, w)
	require.Len(t, items, 2)
	assert.Equal(t, "p1", items[0].PostID)

	w = do(r, http.MethodPost, "/api/moderation/queue/"+items[0].ID+"/claim", gin.H{"moderatorId": "mod-1"}, true)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(r, http.MethodGet, "/api/moderation/queue?assignedTo=mod-1", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.QueueItem](t, w), 1)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/moderation/stats", nil, false).Code)
	w = do(r, http.MethodGet, "/api/moderation/stats", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[moderation.Stats](t, w)
	assert.Equal(t, 3, st.TotalFlags)
	assert.Equal(t, 1, st.PendingReviews)
	assert.Equal(t, 1, st.InReview)
	assert.Equal(t, 2, st.QueueBreakdown[models.ReasonSpam])
	assert.Equal(t, 1, st.QueueBreakdown[models.ReasonMisinformation])
}

func TestAdminRoutesRequireToken(t *testing.T) {
	r := newRouter(t, nil)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/api/moderation/queue", nil, false).Code)

	req := httptest.NewRequest(http.MethodGet, "/api/moderation/queue", nil)
	req.Header.Set("X-Admin-Token", "wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodPost, "/api/users/u1/trust/recompute", nil, false).Code)
}

func TestAdminFailsClosedWithoutToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/x", AdminAuthMiddleware(""), func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Admin-Token", "")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUserTrustEndpoints(t *testing.T) {
	r := newRouter(t, nil)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/users/u1/trust", nil, false).Code)

	w := do(r, http.MethodPost, "/api/posts/evaluate", gin.H{"id": "p1", "authorId": "u1", "content": "Watching the 200-day moving average."}, false)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodPost, "/api/users/u1/trust/recompute", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	p := decode[models.UserTrustProfile](t, w)
	assert.Equal(t, int64(1), p.Version)

	w = do(r, http.MethodGet, "/api/users/u1/trust", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, p.Score, decode[models.UserTrustProfile](t, w).Score)

	w = do(r, http.MethodGet, "/api/users/u1/trust/badges", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFlagRateLimitPerReporter(t *testing.T) {
	r := newRouter(t, NewKeyedRateLimiter(rate.Every(time.Hour), 1))

	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/posts/p1/flags", gin.H{"reporterId": "r1", "reason": "spam"}, false).Code)
	assert.Equal(t, http.StatusTooManyRequests, do(r, http.MethodPost, "/api/posts/p2/flags", gin.H{"reporterId": "r1", "reason": "spam"}, false).Code)
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/api/posts/p2/flags", gin.H{"reporterId": "r2", "reason": "spam"}, false).Code)
}

func TestKeyedRateLimiterSweep(t *testing.T) {
	rl := NewKeyedRateLimiter(rate.Every(time.Hour), 2)
	assert.True(t, rl.Allow("busy"))
	rl.GetLimiter("idle")

	assert.Equal(t, 1, rl.Sweep())
	assert.Equal(t, 1, rl.size())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rl.Run(ctx, time.Millisecond)
}

func TestHealthAndMetrics(t *testing.T) {
	r := newRouter(t, nil)

	w := do(r, http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode[map[string]interface{}](t, w)["status"])
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))

	w = do(r, http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "trustdesk_http_requests_total")
}

func TestRequestIDIsPreserved(t *testing.T) {
	r := newRouter(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
}
