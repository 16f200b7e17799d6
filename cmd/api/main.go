package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/phishguard/backend/internal/api/handlers"
	"github.com/phishguard/backend/internal/cache/redis"
	"github.com/phishguard/backend/internal/detection"
	"github.com/phishguard/backend/internal/feedback"
	"github.com/phishguard/backend/internal/heuristics"
	"github.com/phishguard/backend/internal/metrics"
	"github.com/phishguard/backend/internal/middleware/ratelimit"
	"github.com/phishguard/backend/internal/middleware/security"
	"github.com/phishguard/backend/internal/middleware/validation"
	"github.com/phishguard/backend/internal/ml"
	"github.com/phishguard/backend/internal/reputation"
	"github.com/phishguard/backend/internal/retrain"
	"github.com/phishguard/backend/internal/review"
	"github.com/phishguard/backend/internal/storage/sqlite"
	"github.com/phishguard/backend/pkg/config"
	appLogger "github.com/phishguard/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting PhishGuard API Server")

	metrics.Init()

	store, err := sqlite.NewStore(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite store", zap.Error(err))
	}
	defer store.Close()

	if err := store.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *redis.Client
	if cfg.Redis.Enabled {
		cache, err = redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The service degrades to uncached operation rather than refusing
			// to start.
			appLogger.Warn("Redis unavailable, caching disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	mlClient := ml.NewClient(cfg.Model.Endpoint, time.Duration(cfg.Model.TimeoutSec)*time.Second)

	var reputationCache reputation.Cache
	if cache != nil {
		reputationCache = cache
	}
	reputationClient := reputation.NewClient(
		cfg.Reputation.Enabled,
		cfg.Reputation.BaseURL,
		cfg.Reputation.APIKey,
		time.Duration(cfg.Reputation.TimeoutSec)*time.Second,
		reputationCache,
		time.Duration(cfg.Reputation.CacheTTLSec)*time.Second,
	)

	analyzer := heuristics.NewAnalyzer(cfg.Detection)

	engineOpts := detection.Options{
		MLTimeout:         time.Duration(cfg.Model.TimeoutSec) * time.Second,
		ReputationTimeout: time.Duration(cfg.Reputation.TimeoutSec) * time.Second,
		Recorder:          store,
	}
	if cache != nil {
		engineOpts.Cache = cache
	}
	engine := detection.NewEngine(analyzer, mlClient, reputationClient, engineOpts)

	notifier := retrain.NewHTTPNotifier(cfg.Retrain.Endpoint, time.Duration(cfg.Retrain.TimeoutSec)*time.Second)
	trigger := retrain.NewTrigger(cfg.Retrain.Threshold, notifier, time.Duration(cfg.Retrain.TimeoutSec)*time.Second)
	defer trigger.Wait()

	validator := feedback.NewValidator(cfg.Feedback)
	feedbackService := feedback.NewService(validator, store, trigger)
	coordinator := review.NewCoordinator(store, trigger)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(cfg.Server.RateLimit)
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))
	app.Use(limiter.Middleware())
	app.Use(validation.Middleware(validation.Config{MaxBodyBytes: cfg.Server.BodyLimit}))

	scanHandler := handlers.NewScanHandler(engine, store)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackService)
	adminHandler := handlers.NewAdminHandler(coordinator, store)

	api := app.Group("/api/v1")

	api.Post("/scan", scanHandler.HandleScan)
	api.Get("/scan/history", scanHandler.GetScanHistory)

	api.Post("/feedback", feedbackHandler.HandleSubmit)
	api.Get("/feedback/:id", feedbackHandler.GetFeedback)

	api.Get("/admin/feedback/pending", adminHandler.GetReviewQueue)
	api.Post("/admin/feedback/batch-review", adminHandler.HandleBatchReview)
	api.Post("/admin/feedback/:id/review", adminHandler.HandleReview)
	api.Get("/admin/feedback/:id/audit", adminHandler.GetAuditTrail)
	api.Get("/admin/dashboard", adminHandler.GetDashboard)
	api.Get("/admin/dataset", adminHandler.GetDataset)

	app.Get("/metrics", metrics.MetricsHandler())

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
