package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/sujalbistaa/trustdesk/internal/clients"
	"github.com/sujalbistaa/trustdesk/internal/config"
	"github.com/sujalbistaa/trustdesk/internal/credibility"
	"github.com/sujalbistaa/trustdesk/internal/db"
	"github.com/sujalbistaa/trustdesk/internal/detector"
	"github.com/sujalbistaa/trustdesk/internal/engine"
	routes "github.com/sujalbistaa/trustdesk/internal/http"
	"github.com/sujalbistaa/trustdesk/internal/logging"
	"github.com/sujalbistaa/trustdesk/internal/metrics"
	"github.com/sujalbistaa/trustdesk/internal/moderation"
	"github.com/sujalbistaa/trustdesk/internal/store"
	"github.com/sujalbistaa/trustdesk/internal/trust"
	"github.com/sujalbistaa/trustdesk/internal/ws"
)

func main() {
	// .env has to be loaded before the config is read.
	bootLog := logging.NewLoggerWithService("trustdesk", config.GetLogLevel())
	config.LoadEnv(bootLog)
	cfg := config.Load()
	logger := logging.NewLoggerWithService("trustdesk", cfg.LogLevel)

	// 1. Database
	database, err := db.Init(cfg.DatabaseURL, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	logger.Info("Running database migrations...")
	if err := db.Migrate(database); err != nil {
		logger.WithError(err).Fatal("Failed to run migrations")
	}
	logger.Info("Migrations complete.")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Metrics and moderator feed
	m := metrics.New()
	hub := ws.NewHub(cfg.CORSOrigin, logger)
	hub.OnClientCount = m.SetFeedClients
	go hub.Run(ctx)

	// 3. Collaborators
	identity := clients.NewIdentityClient(clients.IdentityOptions{
		BaseURL:  cfg.IdentityServiceURL,
		Timeout:  cfg.DependencyTimeout,
		CacheTTL: cfg.ProfileCacheTTL,
		Hooks:    clients.CacheHooks{OnHit: m.CacheHit, OnMiss: m.CacheMiss},
	}, logger)
	content := clients.NewContentClient(cfg.ContentServiceURL, cfg.DependencyTimeout, nil, logger)
	if cfg.IdentityServiceURL == "" {
		logger.Warn("IDENTITY_SERVICE_URL not set, author profiles are unavailable")
	}
	if cfg.ContentServiceURL == "" {
		logger.Warn("CONTENT_SERVICE_URL not set, reaction counts are unavailable")
	}

	// 4. Domain services
	aggregator := trust.NewAggregator(database, trust.DefaultConfig(), logger)

	modCfg := moderation.DefaultConfig()
	modCfg.ProactiveReviewThreshold = cfg.ProactiveReviewThreshold
	modService := moderation.NewService(database, aggregator, modCfg, logger)
	modService.SetNotifier(hub)
	modService.SetAuthorLookup(content.PostAuthor)

	eng := engine.New(engine.Options{
		Verdicts:               store.NewVerdicts(database),
		Moderation:             modService,
		Trust:                  aggregator,
		Profiles:               identity,
		Reactions:              content,
		Detector:               detector.New(detector.DefaultConfig()),
		Scorer:                 credibility.New(credibility.DefaultWeights()),
		Notifier:               hub,
		Metrics:                m,
		Log:                    logger,
		RecomputeReactionDelta: cfg.RecomputeReactionDelta,
	})

	worker := trust.NewRecomputeWorker(aggregator, cfg.TrustRecomputeInterval, logger)
	worker.OnRecompute = m.ObserveRecomputes
	go worker.Run(ctx)

	limiter := routes.NewKeyedRateLimiter(rate.Limit(cfg.FlagRatePerMinute/60), cfg.FlagRateBurst)
	go limiter.Run(ctx, 10*time.Minute)

	// 5. Router
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	routes.SetupRoutes(router, &routes.Env{
		Engine:      eng,
		DB:          database,
		Hub:         hub,
		FlagLimiter: limiter,
		Log:         logger,
	}, routes.RouteConfig{CORSOrigin: cfg.CORSOrigin, AdminToken: cfg.AdminToken}, m)

	// 6. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	if sqlDB, err := database.DB(); err == nil {
		_ = sqlDB.Close()
	}

	logger.Info("Server exiting")
}
