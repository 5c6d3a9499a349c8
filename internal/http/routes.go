package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/sujalbistaa/trustdesk/internal/metrics"
)

// RouteConfig carries the settings the router needs.
type RouteConfig struct {
	CORSOrigin string
	AdminToken string
}

// SetupRoutes configures all application routes and middleware.
func SetupRoutes(router *gin.Engine, env *Env, cfg RouteConfig, m *metrics.Metrics) {

	// --- Middleware ---

	router.Use(RequestIDMiddleware())
	router.Use(RecoveryMiddleware(env.Log))
	router.Use(LoggingMiddleware(env.Log))
	router.Use(m.Middleware())
	router.Use(SecurityHeadersMiddleware())

	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{corsOrigin},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Token", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: corsOrigin != "*",
	}))

	if cfg.AdminToken == "" {
		env.Log.Warn("X_ADMIN_TOKEN not set, moderation endpoints will refuse every request")
	}
	admin := AdminAuthMiddleware(cfg.AdminToken)

	// --- API Routes ---

	router.GET("/health", env.Health)
	if m != nil {
		router.GET("/metrics", m.Handler())
	}

	api := router.Group("/api")
	{
		api.POST("/posts/evaluate", env.EvaluatePost)
		api.GET("/posts/:id/credibility", env.GetPostCredibility)
		api.GET("/posts/:id/spam", env.GetSpamVerdict)
		api.POST("/posts/:id/flags", env.SubmitFlag)
		api.GET("/posts/:id/flags", env.ListFlags)

		api.GET("/users/:id/trust", env.GetUserTrust)
		api.GET("/users/:id/trust/badges", env.BadgeHistory)
		api.POST("/users/:id/trust/recompute", admin, env.RecomputeUserTrust)
	}

	mod := api.Group("/moderation", admin)
	{
		mod.GET("/queue", env.ListQueue)
		mod.GET("/stats", env.QueueStats)
		mod.GET("/queue/:id", env.GetQueueItem)
		mod.GET("/queue/:id/actions", env.QueueActions)
		mod.POST("/queue/:id/claim", env.ClaimQueueItem)
		mod.POST("/queue/:id/release", env.ReleaseQueueItem)
		mod.POST("/queue/:id/resolve", env.ResolveQueueItem)
	}

	// --- WebSocket Route ---

	router.GET("/ws", admin, env.ServeFeed)
}
