package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chorus/chat-service/config"
	"chorus/chat-service/db"
	"chorus/chat-service/handlers"
	"chorus/chat-service/middleware"
	"chorus/chat-service/services"
	"chorus/chat-service/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Initialize logger
	level := slog.LevelInfo
	if cfg.Environment == "development" {
		level = slog.LevelDebug
	}
	logger := utils.NewLogger(level)

	// Connect to database
	database, err := db.Connect(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	store := services.NewStore(database)

	// Connect to Redis for the denormalized presence cache
	redisClient, err := services.NewRedisClient(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()
	presenceCache := services.NewPresenceCache(redisClient, store, cfg.PresenceTTL, logger)

	// Initialize core services. The registry fans presence events out
	// through the hub, and the relay delivers through it as well.
	verifier := services.NewVerifier(cfg.JWTSecret, store)
	registry := services.NewRegistry(logger)
	registry.AttachRecorder(presenceCache)
	hub := services.NewHub(verifier, registry, logger)
	registry.AttachSink(hub)
	relay := services.NewRelay(store, registry, hub, logger)
	hub.AttachRelay(relay)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(store, verifier, cfg.TokenTTL, logger)
	messageHandler := handlers.NewMessageHandler(store, presenceCache, logger)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS())

	// Health check endpoint
	router.GET("/health", handlers.HealthCheck(hub))

	// Realtime channel
	router.GET("/ws", hub.HandleConnection)

	// API routes
	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
		}

		messages := api.Group("/messages")
		messages.Use(middleware.Auth(verifier))
		{
			messages.GET("/history/:userId", messageHandler.History)
			messages.GET("/conversations", messageHandler.Conversations)
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
		logger.Info("Starting Chat Service", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Close realtime sessions before the listener
	hub.Shutdown()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", "error", err)
	}

	logger.Info("Server exited")
}
