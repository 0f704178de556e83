package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"

	"github.com/linkdex/linkdex/internal/api"
	"github.com/linkdex/linkdex/internal/batch"
	"github.com/linkdex/linkdex/internal/cache"
	"github.com/linkdex/linkdex/internal/classify"
	"github.com/linkdex/linkdex/internal/config"
	"github.com/linkdex/linkdex/internal/db"
	"github.com/linkdex/linkdex/internal/enrich"
	"github.com/linkdex/linkdex/internal/events"
	"github.com/linkdex/linkdex/internal/extractor"
	"github.com/linkdex/linkdex/internal/fetcher"
	"github.com/linkdex/linkdex/internal/importer"
	"github.com/linkdex/linkdex/internal/logger"
	"github.com/linkdex/linkdex/internal/middleware"
	"github.com/linkdex/linkdex/internal/queue"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("initializing database")
	conn, err := db.Init(cfg.Database)
	if err != nil {
		zlog.Error("failed to initialize database", logger.Err(err))
		os.Exit(1)
	}

	// Core collaborators.
	hub := events.NewHub(zlog)
	importCache := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	registry := extractor.NewDefaultRegistry(zlog)
	pageFetcher := fetcher.New(cfg.Fetcher.Timeout, cfg.Fetcher.UserAgent, cfg.Fetcher.RateLimitRPS)
	classifier := classify.NewClient(cfg.Classifier.BaseURL, cfg.Classifier.Timeout)

	// Processing queue with the enrichment runner.
	processingQueue := queue.New(conn, hub, zlog, queue.Config{
		PollInterval:  cfg.Queue.PollInterval,
		MaxConcurrent: cfg.Queue.MaxConcurrent,
		MaxAttempts:   cfg.Queue.MaxAttempts,
		InnerAttempts: cfg.Queue.InnerAttempts,
		StopTimeout:   cfg.Queue.StopTimeout,
	})
	enricher := enrich.New(conn, classifier, importCache, zlog)
	processingQueue.RegisterRunner(db.PhaseEnrichment, enricher)

	imp := importer.New(conn, importCache, registry, pageFetcher, classifier, processingQueue, zlog)
	batchManager := batch.NewManager(imp, importCache, conn, hub, zlog, batch.Config{
		DefaultConcurrency: cfg.Batch.DefaultConcurrency,
		MaxConcurrency:     cfg.Batch.MaxConcurrency,
		Retention:          cfg.Batch.Retention,
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if err := processingQueue.Start(rootCtx); err != nil {
		zlog.Error("failed to start processing queue", logger.Err(err))
		os.Exit(1)
	}

	// Periodic maintenance: cache sweep and completed-job cleanup.
	maintenance := cron.New()
	if _, err := maintenance.AddFunc(cfg.Cache.CleanupSchedule, func() {
		if removed := importCache.Cleanup(); removed > 0 {
			zlog.Debug("cache cleanup", logger.Int("removed", removed))
		}
	}); err != nil {
		zlog.Error("invalid cache cleanup schedule", logger.Err(err))
		os.Exit(1)
	}
	if _, err := maintenance.AddFunc(cfg.Queue.CleanupSchedule, func() {
		if n, err := processingQueue.ClearCompleted(cfg.Queue.CompletedRetention); err != nil {
			zlog.Warn("completed-job cleanup failed", logger.Err(err))
		} else if n > 0 {
			zlog.Debug("completed-job cleanup", logger.Int64("removed", n))
		}
	}); err != nil {
		zlog.Error("invalid queue cleanup schedule", logger.Err(err))
		os.Exit(1)
	}
	maintenance.Start()

	// HTTP surface.
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.CORS())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC(),
			"service":   "linkdex",
		})
	})
	r.POST("/auth/login", api.LoginHandler(conn, cfg.Auth, zlog))

	authorized := r.Group("/")
	authorized.Use(middleware.JWTRequired(cfg.Auth.JWTSecret, zlog))
	{
		authorized.POST("/import", api.ImportHandler(imp))

		authorized.POST("/batches", api.StartBatchHandler(batchManager))
		authorized.GET("/batches/:id", api.GetBatchHandler(batchManager))
		authorized.DELETE("/batches/:id", api.CancelBatchHandler(batchManager))

		authorized.GET("/nodes", api.ListNodesHandler(conn))
		authorized.GET("/nodes/:id", api.GetNodeHandler(conn))
		authorized.GET("/nodes/:id/jobs", api.NodeJobsHandler(processingQueue))

		authorized.GET("/queue/stats", api.QueueStatsHandler(processingQueue))
		authorized.GET("/queue/jobs/:id", api.GetJobHandler(processingQueue))
		authorized.DELETE("/queue/jobs/:id", api.CancelJobHandler(processingQueue))
		authorized.POST("/queue/retry-failed", api.RetryFailedHandler(processingQueue))
		authorized.POST("/queue/clear-completed", api.ClearCompletedHandler(processingQueue))

		authorized.GET("/events", api.EventsHandler(hub))
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zlog.Info("server starting", logger.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Error("server failed", logger.Err(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("server forced to shutdown", logger.Err(err))
	}

	maintenance.Stop()
	batchManager.Close()
	if err := processingQueue.Stop(); err != nil {
		zlog.Warn("failed to stop processing queue", logger.Err(err))
	}
	hub.Close()
	rootCancel()

	zlog.Info("server exited")
}
