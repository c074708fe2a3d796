package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fleetbridge/backend/internal/db"
	"github.com/fleetbridge/backend/internal/device"
	"github.com/fleetbridge/backend/internal/executor"
	"github.com/fleetbridge/backend/internal/fanout"
	"github.com/fleetbridge/backend/internal/inventory"
	"github.com/fleetbridge/backend/internal/ledger"
	"github.com/fleetbridge/backend/internal/logger"
	"github.com/fleetbridge/backend/internal/ops"
	"github.com/fleetbridge/backend/internal/queue"
	"github.com/fleetbridge/backend/internal/secrets"
	"github.com/fleetbridge/backend/internal/worker"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
)

// The worker binary serves one or more region pools plus the default pool.
// WORKER_REGIONS is a comma-separated list of region identifiers; empty means
// default pool only.
func main() {
	logger.Initialize()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables", nil)
	}

	db.Connect()

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

	led := ledger.New(db.DB, ops.ValidatePayload)
	hub := fanout.NewHub(led)
	bridge := fanout.NewRedisBridge(redisClient)
	hub.AttachBridge(bridge)
	led.AttachPublisher(hub)

	resolver := inventory.NewResolver(db.DB, box)
	registry := ops.NewRegistry(device.NewSSHClient())

	cfg := executor.Config{}
	if raw := os.Getenv("MAX_IN_FLIGHT"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.MaxInFlight = v
		}
	}
	if raw := os.Getenv("HOST_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			cfg.HostTimeout = d
		}
	}
	exec := executor.New(cfg, led)

	keys := []string{queue.DefaultKey}
	if raw := os.Getenv("WORKER_REGIONS"); raw != "" {
		for _, identifier := range strings.Split(raw, ",") {
			identifier = strings.TrimSpace(identifier)
			if identifier != "" {
				keys = append(keys, queue.KeyForIdentifier(identifier))
			}
		}
	}

	w := worker.New(led, resolver, registry, exec, queue.NewRedisQueue(redisClient), keys)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-sigChan
		logger.Warn("Received shutdown signal, draining worker...", nil)
		cancel()
	}()

	logger.Info("Starting FleetBridge worker", map[string]interface{}{
		"queues": keys,
		"redis":  redisAddr,
	})
	w.Run(ctx)
	logger.Info("Worker exited gracefully", nil)
}
