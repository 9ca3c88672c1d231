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

	"github.com/meridianex/exchange-core/internal/audit"
	"github.com/meridianex/exchange-core/internal/auth"
	"github.com/meridianex/exchange-core/internal/book"
	"github.com/meridianex/exchange-core/internal/database"
	"github.com/meridianex/exchange-core/internal/fees"
	"github.com/meridianex/exchange-core/internal/ledger"
	"github.com/meridianex/exchange-core/internal/matching"
	"github.com/meridianex/exchange-core/internal/risk"
	"github.com/meridianex/exchange-core/internal/settlement"
	"github.com/meridianex/exchange-core/pkg/middleware"

	"github.com/gin-gonic/gin"
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

// main initializes and runs the exchange API server with graceful
// shutdown support. It wires the ledger, risk, matching and settlement
// services over a shared database connection.
func main() {
	db, err := database.NewDatabase(os.Getenv("DB_PATH"))
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService("meridian-secret-key")
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret, "")

	ledgerService := ledger.NewService(db)
	riskService := risk.NewService(db, ledgerService)
	auditService := audit.NewService(db)
	books := book.NewManager()

	engine := matching.NewEngine(db, matching.Config{}, books, ledgerService, riskService, auditService, fees.DefaultSchedule())
	if err := engine.LoadOpenOrders(); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to recover order books")
	}
	matchingHandlers := matching.NewGinHandlers(engine, auditService)

	settlementService := settlement.NewService(db, ledgerService)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	// Create and start settlement processor
	settlementProcessor := settlement.NewProcessor(settlementService, time.Minute)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go settlementProcessor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, matchingHandlers, settlementHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers.
// Routes are grouped by functionality with appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	matchingHandlers *matching.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order routes
		orders := v1.Group("/orders")
		orders.Use(middleware.JWTAuth())
		{
			orders.POST("", matchingHandlers.SubmitOrderHandler())
			orders.GET("/:order_id", matchingHandlers.GetOrderStatusHandler())
			orders.POST("/:order_id/cancel", matchingHandlers.CancelOrderHandler())
			orders.GET("/:order_id/trades", matchingHandlers.ListTradesHandler())
			orders.GET("/:order_id/audit", matchingHandlers.ListAuditTrailHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth())
		{
			internal.POST("/settlement/:trade_id", settlementHandlers.SettleTradeHandler())
			internal.GET("/settlement/:trade_id", settlementHandlers.GetSettlementHandler())
		}
	}
}
