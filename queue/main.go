package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	queueapi "github.com/Ftotnem/duels-network/queue/api"
	"github.com/Ftotnem/duels-network/queue/matchmaker"
	"github.com/Ftotnem/duels-network/shared/api"
	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/logging"
	"github.com/Ftotnem/duels-network/shared/metrics"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
	"github.com/Ftotnem/duels-network/shared/registry"
	"github.com/Ftotnem/duels-network/shared/service"
	"github.com/Ftotnem/duels-network/shared/telemetry"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadQueueServiceConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, string(registry.KindQueue), cfg.ServiceID)
	logger.Info().Str("listen_addr", cfg.ListenAddr).Dur("tick_interval", cfg.TickInterval).Msg("Configuration loaded for Queue Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, "queue-service", cfg.ServiceID, cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	// --- 3. Connect to Redis ---
	redisClient, err := redisu.NewRedisClient(ctx, cfg.RedisAddrs, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	redisBroker := broker.NewRedisBroker(redisClient, logger)
	redisCache := cache.NewRedisCache(redisClient)

	// --- 4. Start the cluster node ---
	m := metrics.New(cfg.ServiceID, nil)
	node := cluster.NewNode(cfg.CommonConfig, registry.KindQueue, redisBroker, redisCache, m, logger)
	if err := node.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start cluster node")
	}

	// --- 5. Matchmaker ---
	assignment := cluster.NewAssignmentManager(node.Registry, cfg.ServiceID, registry.KindQueue, cfg.RingUpdateRate, logger)
	duels := service.NewDuelClient(node, cfg.StatusTimeout)
	mm := matchmaker.New(node, assignment, duels, cfg.TickInterval, cfg.HeartbeatTTL(), logger)
	mm.Register()
	mm.Start()
	node.Ready()

	// --- 6. HTTP server ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, logger)
	api.NewAdminHandler(node).RegisterRoutes(baseServer)
	queueapi.NewQueueAPIHandlers(mm, logger).RegisterRoutes(baseServer.Router)

	go func() {
		if err := baseServer.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	// --- 7. Graceful Shutdown ---
	<-ctx.Done()
	logger.Info().Msg("Shutting down Queue Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server graceful shutdown failed")
	}
	mm.Stop()
	node.Shutdown()
	if err := redisBroker.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing broker")
	}
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing Redis client")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing traces")
	}
	logger.Info().Msg("Queue Service gracefully shut down.")
}
