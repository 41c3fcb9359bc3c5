package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"

	"github.com/tradepulse/tradepulse-api/internal/auth"
	"github.com/tradepulse/tradepulse-api/internal/bus"
	"github.com/tradepulse/tradepulse-api/internal/config"
	"github.com/tradepulse/tradepulse-api/internal/database"
	"github.com/tradepulse/tradepulse-api/internal/emitter"
	"github.com/tradepulse/tradepulse-api/internal/entitlement"
	"github.com/tradepulse/tradepulse-api/internal/notifications"
	"github.com/tradepulse/tradepulse-api/internal/push"
	"github.com/tradepulse/tradepulse-api/internal/subscriptions"
	"github.com/tradepulse/tradepulse-api/internal/trades"
	"github.com/tradepulse/tradepulse-api/pkg/middleware"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the trade fan-out server with graceful shutdown
// support: domain store, entitlement resolver, event bus, change emitter,
// push hub and the HTTP API.
func main() {
	cfg, err := config.Load(os.Getenv("TRADEPULSE_CONFIG"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register demo credentials
	if key := os.Getenv("TRADEPULSE_DEMO_API_KEY"); key != "" {
		authService.RegisterAPICredentials(key, os.Getenv("TRADEPULSE_DEMO_API_SECRET"))
	}

	subscriptionService := subscriptions.NewService(db)
	subscriptionHandlers := subscriptions.NewGinHandlers(subscriptionService)

	// Background sweep keeps the active flag aligned with expiry windows.
	sweeper := subscriptions.NewSweeper(subscriptionService.Store(), 5*time.Minute)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	go sweeper.Start(sweepCtx)

	tradeService := trades.NewService(db)
	resolver := entitlement.NewResolver(tradeService.Store())
	statsCache := trades.NewStatsCache(tradeService, cfg.Stats.CacheTTL)
	tradeHandlers := trades.NewGinHandlers(tradeService, resolver, subscriptionService, statsCache)

	notificationService := notifications.NewService(notifications.NewDatabase(db))
	access := entitlement.NewUserAccess(resolver, subscriptionService)
	notificationHandlers := notifications.NewGinHandlers(notificationService, access)

	// Event fabric: committed changes fan out through the bus to the push hub.
	eventBus := bus.NewWithBuffer(cfg.Push.SubscriberBuffer)
	changeEmitter := emitter.New(eventBus, notificationService, subscriptionService, resolver)
	tradeService.RegisterObserver(changeEmitter)

	hub := push.NewHub(eventBus, authService, subscriptionService, tradeService, notificationService, resolver, cfg.Push)

	// Initialize router
	router := gin.Default()
	router.Use(middleware.RateLimit())

	setupRoutes(router, authHandlers, tradeHandlers, subscriptionHandlers, notificationHandlers, authService, hub)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()
	zlog.Info().Str("port", cfg.Port).Msg("Server started")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	stopSweeper()
	hub.Shutdown()

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Trade/notification/subscription routes: Protected by bearer tokens
// - Internal routes: Analyst-only mutation surface
// - Push endpoints: Token-authenticated websocket channels
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	tradeHandlers *trades.GinHandlers,
	subscriptionHandlers *subscriptions.GinHandlers,
	notificationHandlers *notifications.GinHandlers,
	identity auth.Identity,
	hub *push.Hub,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Entitlement-filtered read API
		tradesGroup := v1.Group("/trades")
		tradesGroup.Use(middleware.BearerAuth(identity))
		{
			tradesGroup.GET("/completed", tradeHandlers.GetCompletedTradesHandler())
			tradesGroup.GET("/grouped", tradeHandlers.GetGroupedTradesHandler())
			tradesGroup.GET("/monthly", tradeHandlers.GetMonthlyTradesHandler())
			tradesGroup.GET("/statistics", tradeHandlers.GetStatisticsHandler())
		}

		notificationsGroup := v1.Group("/notifications")
		notificationsGroup.Use(middleware.BearerAuth(identity))
		{
			notificationsGroup.GET("", notificationHandlers.ListHandler())
			notificationsGroup.POST("/:id/mark_read", notificationHandlers.MarkReadHandler())
			notificationsGroup.POST("/mark_all_read", notificationHandlers.MarkAllReadHandler())
		}

		subscriptionGroup := v1.Group("/subscription")
		subscriptionGroup.Use(middleware.BearerAuth(identity))
		{
			subscriptionGroup.GET("", subscriptionHandlers.GetSubscriptionHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.BearerAuth(identity), middleware.AnalystAuth())
		{
			internal.POST("/instruments", tradeHandlers.CreateInstrumentHandler())
			internal.GET("/instruments/:id/available_kinds", tradeHandlers.GetAvailableKindsHandler())
			internal.POST("/trades", tradeHandlers.CreateTradeHandler())
			internal.POST("/trades/:id/status", tradeHandlers.TransitionTradeHandler())
			internal.POST("/trades/:id/history", tradeHandlers.AppendHistoryHandler())
			internal.POST("/trades/:id/risk_level", tradeHandlers.UpdateRiskLevelHandler())
			internal.POST("/trades/:id/chart_image", tradeHandlers.UpdateChartImageHandler())
			internal.POST("/trades/:id/analysis", tradeHandlers.UpsertAnalysisHandler())
			internal.POST("/trades/:id/insight", tradeHandlers.UpsertInsightHandler())
			internal.POST("/payments/complete", subscriptionHandlers.CompletePaymentHandler())
		}
	}

	// Persistent connection endpoints
	ws := router.Group("/ws")
	{
		ws.GET("/trades", hub.TradesHandler())
		ws.GET("/indices", hub.IndicesHandler())
		ws.GET("/notifications", hub.NotificationsHandler())
	}
}
