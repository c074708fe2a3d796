package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fleetbridge/backend/internal/db"
	"github.com/fleetbridge/backend/internal/dispatch"
	"github.com/fleetbridge/backend/internal/fanout"
	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/ledger"
	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/middleware"
	"github.com/fleetbridge/backend/internal/ops"
	"github.com/fleetbridge/backend/internal/queue"
	"github.com/fleetbridge/backend/internal/routes"
	"github.com/fleetbridge/backend/internal/routing"
	"github.com/fleetbridge/backend/internal/secrets"

	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Set CORS headers for all requests
		origin := "http://localhost:5173"
		if os.Getenv("ENV") != "local" && os.Getenv("ENV") != "" {
			if corsOrigin := os.Getenv("CORS_ORIGIN"); corsOrigin != "" {
				origin = corsOrigin
			}
		}

		c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		// Handle preflight request
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		c.Next()
	}
}

func main() {
	// Initialize logger first
	logger.Initialize()

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	// Connect to database
	db.Connect()
	db.AutoMigrate()

	box, err := secrets.NewBoxFromEnv()
	if err != nil {
		logger.Fatal("Credential key misconfigured", map[string]interface{}{"error": err.Error()})
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: os.Getenv("REDIS_PASSWORD"),
	})

	// Assemble the pipeline: the ledger owns state, the hub fans logs out and
	// the dispatcher routes accepted jobs onto the Redis worker pools.
	led := ledger.New(db.DB, ops.ValidatePayload)
	hub := fanout.NewHub(led)
	bridge := fanout.NewRedisBridge(redisClient)
	hub.AttachBridge(bridge)
	led.AttachPublisher(hub)

	resolver := inventory.NewResolver(db.DB, box)
	router := routing.NewRouter(db.DB)
	q := queue.NewRedisQueue(redisClient)
	dispatcher := dispatch.NewDispatcher(led, resolver, router, q)
	poller := dispatch.NewPoller(led, dispatcher, 5*time.Second)

	// Setup graceful shutdown
	stopChan := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		logger.Warn("Received shutdown signal, stopping background workers...", nil)
		close(stopChan)
	}()

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go bridge.Listen(bgCtx, hub)
	go poller.Run(bgCtx)

	// Set Gin mode
	if os.Getenv("GIN_MODE") == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router without default middleware
	r := gin.New()

	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	// Use our custom logging middleware instead of gin.Default()
	r.Use(middleware.CustomLoggerMiddleware())
	r.Use(CORSMiddleware())
	r.Use(gin.Recovery())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		dbStatus := "ok"
		var dbError error

		if db.DB != nil {
			sqlDB, err := db.DB.DB()
			if err != nil {
				dbStatus = "error"
				dbError = err
			} else if err := sqlDB.Ping(); err != nil {
				dbStatus = "error"
				dbError = err
			}
		} else {
			dbStatus = "error"
			dbError = fmt.Errorf("database connection not initialized")
		}

		redisStatus := "ok"
		var redisError error
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			redisStatus = "error"
			redisError = err
		}

		overallStatus := "ok"
		statusCode := 200
		if dbStatus != "ok" || redisStatus != "ok" {
			overallStatus = "error"
			statusCode = 503
		}

		c.JSON(statusCode, gin.H{
			"status":    overallStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   "1.0.0",
			"services": gin.H{
				"database": gin.H{
					"status": dbStatus,
					"error":  dbError,
				},
				"redis": gin.H{
					"status": redisStatus,
					"error":  redisError,
				},
			},
		})
	})

	// Setup routes
	routes.SetupRoutes(r, db.DB, led, hub, dispatcher, box)

	// Start server with graceful shutdown
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	logger.Info("Starting FleetBridge API server", map[string]interface{}{
		"port":     port,
		"gin_mode": gin.Mode(),
		"redis":    redisAddr,
	})

	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Wait for shutdown signal
	<-stopChan
	logger.Info("Shutting down server gracefully...", nil)
	bgCancel()

	// Create a context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", map[string]interface{}{
			"error": err.Error(),
		})
	} else {
		logger.Info("Server exited gracefully", nil)
	}
}
