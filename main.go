package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chat8/realtime-service/config"
	"chat8/realtime-service/db"
	"chat8/realtime-service/handlers"
	"chat8/realtime-service/middleware"
	"chat8/realtime-service/services"
	"chat8/realtime-service/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	logger := utils.NewLogger(cfg.LogLevel)

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}

	// Connect to Redis
	redisClient, err := services.NewRedisClient(cfg.RedisURL, cfg.RedisDB)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}

	// Initialize stores
	presenceStore := services.NewRedisPresenceStore(redisClient, cfg.HeartbeatTimeout, logger)
	stagedStore := db.NewStagedStore(database)
	friendStore := db.NewFriendStore(database)
	historyStore := db.NewHistoryStore(database)

	// Initialize core services
	registry := services.NewRegistry(logger)
	tracker := services.NewTracker(registry, presenceStore, friendStore,
		cfg.HeartbeatTimeout, cfg.SweepInterval, logger)
	delivery := services.NewDelivery(registry, stagedStore, historyStore, logger)
	relay := services.NewRelay(registry, logger)

	// Initialize handlers
	wsHandler := handlers.NewWSHandler(registry, tracker, delivery, relay, cfg, logger)
	presenceHandler := handlers.NewPresenceHandler(tracker, presenceStore, logger)
	adminHandler := handlers.NewAdminHandler(registry, logger)

	// Start the presence timeout sweep
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	go tracker.Run(sweepCtx)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "realtime-service",
			"version": "1.0.0",
		})
	})

	// Realtime endpoint
	router.GET("/ws", middleware.Auth(cfg.JWTSecret), wsHandler.Handle)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(cfg.JWTSecret))
	{
		presence := v1.Group("/presence")
		{
			presence.GET("/status/:id", presenceHandler.GetStatus)
			presence.GET("/contacts", presenceHandler.GetContacts)
			presence.GET("/online", presenceHandler.GetOnlineUsers)
			presence.PUT("/status", presenceHandler.SetStatus)
			presence.POST("/heartbeat", presenceHandler.Heartbeat)
		}

		admin := v1.Group("/admin")
		{
			admin.POST("/broadcast", adminHandler.Broadcast)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Starting realtime service", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Stop the sweep and drop every live connection
	stopSweep()
	registry.CloseAll()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	if err := redisClient.Close(); err != nil {
		logger.Error("Failed to close Redis connection", "error", err)
	}

	logger.Info("Server exited")
}
