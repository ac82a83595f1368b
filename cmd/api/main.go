package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quillpost/quillpost-backend/internal/api"
	"github.com/quillpost/quillpost-backend/internal/config"
	"github.com/quillpost/quillpost-backend/internal/content"
	gdb "github.com/quillpost/quillpost-backend/internal/db"
	"github.com/quillpost/quillpost-backend/internal/genai"
	"github.com/quillpost/quillpost-backend/internal/jobs"
	"github.com/quillpost/quillpost-backend/internal/log"
	"github.com/quillpost/quillpost-backend/internal/metrics"
	"github.com/quillpost/quillpost-backend/internal/store"
	"github.com/quillpost/quillpost-backend/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting Quillpost API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"db", cfg.Database.Type,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("quillpost-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Initialize database
	db, err := gdb.NewDatabase(&gdb.Config{
		Type:         cfg.Database.Type,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}, logger.Desugar())
	if err != nil {
		logger.Fatalw("Failed to create database", "error", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := gdb.ConnectAndMigrate(ctx, db, gdb.AllSchemas()); err != nil {
		logger.Fatalw("Failed to initialize database", "error", err)
	}
	defer db.Disconnect(context.Background())
	logger.Infow("Database initialized")

	// Setup cache; falls back to memory when Redis is unreachable
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()
	if cache.IsInMemoryMode() {
		logger.Warnw("Running with in-memory cache; events stay in this process")
	}

	// Setup services
	services := content.NewServices(db,
		content.WithLogger(logger),
		content.WithMetrics(metricsObj),
	)

	var models genai.Lister
	if err := cfg.RequireGeminiKey(); err != nil {
		logger.Warnw("Model listing disabled", "error", err)
	} else {
		client := genai.NewClient(genai.Config{
			APIKey:   cfg.Gemini.APIKey,
			BaseURL:  cfg.Gemini.BaseURL,
			Timeout:  cfg.Gemini.Timeout,
			PageSize: cfg.Gemini.PageSize,
		}, logger, metricsObj)
		models = genai.NewCachedLister(client, cache, cfg.Cache.ModelsCacheTTL, logger)
	}

	// Create context for background jobs
	jobsCtx, jobsCancel := context.WithCancel(context.Background())
	defer jobsCancel()

	publisher := jobs.NewScheduledPublisher(services.Posts, cache, logger, jobs.ScheduledPublisherConfig{
		Interval: cfg.Jobs.PublishInterval,
		Channel:  store.ChannelPostEvents,
	})
	go func() {
		logger.Infow("Starting scheduled publisher", "interval", cfg.Jobs.PublishInterval)
		if err := publisher.Start(jobsCtx); err != nil && err != context.Canceled {
			logger.Errorw("Scheduled publisher error", "error", err)
		}
	}()

	// Setup WebSocket hub and SSE handler for post events
	wsHub := ws.NewHub(cache, store.ChannelPostEvents, cfg.Security.CORSAllowedOrigins, logger)
	sseHandler := ws.NewSSEHandler(cache, store.ChannelPostEvents, logger)
	go wsHub.Run(jobsCtx)

	// Setup API handler and middleware
	handler := api.NewHandler(services, models, db, cache, logger).
		WithEvents(cache, store.ChannelPostEvents)
	middleware := api.NewMiddleware(logger, metricsObj)

	router := handler.Routes(middleware, api.RouterConfig{
		CORSOrigins:    cfg.Security.CORSAllowedOrigins,
		RateLimitRPM:   cfg.Security.RateLimitRPM,
		MetricsHandler: metricsHandler,
		EventStream:    http.HandlerFunc(sseHandler.HandleSSE),
		EventSocket:    http.HandlerFunc(wsHub.HandleWebSocket),
	})

	// Log configured CORS origins for easier debugging in dev
	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Setup HTTP server. No WriteTimeout: event streams stay open and
	// other routes are bounded by the timeout middleware.
	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())
		publisher.Stop()

		// Give outstanding requests 30 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
