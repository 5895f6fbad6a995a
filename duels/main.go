package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Ftotnem/duels-network/duels/arena"
	duelapi "github.com/Ftotnem/duels-network/duels/api"
	"github.com/Ftotnem/duels-network/duels/service"
	"github.com/Ftotnem/duels-network/duels/store"
	"github.com/Ftotnem/duels-network/shared/api"
	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/logging"
	"github.com/Ftotnem/duels-network/shared/metrics"
	"github.com/Ftotnem/duels-network/shared/models"
	"github.com/Ftotnem/duels-network/shared/pool"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
	"github.com/Ftotnem/duels-network/shared/registry"
	"github.com/Ftotnem/duels-network/shared/telemetry"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadDuelServiceConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, string(registry.KindDuel), cfg.ServiceID)
	logger.Info().Str("listen_addr", cfg.ListenAddr).Int("arena_pool_size", cfg.ArenaPoolSize).Msg("Configuration loaded for Duel Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, "duel-service", cfg.ServiceID, cfg.OTelEndpoint)
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
	node := cluster.NewNode(cfg.CommonConfig, registry.KindDuel, redisBroker, redisCache, m, logger)
	if err := node.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start cluster node")
	}

	// --- 5. Warm the arena pool ---
	creator := arena.NewCreator(cfg.ArenaGridSpacing, nil, nil, logger)
	arenas := pool.New(models.ArenaTypes, creator.Make, pool.Options[models.ArenaType, *arena.Arena]{
		Target:              cfg.ArenaPoolSize,
		MaxConcurrentBuilds: int64(cfg.MaxConcurrentBuilds),
		BuildTimeout:        cfg.ArenaBuildTimeout,
		Label:               func(t models.ArenaType) string { return string(t) },
		Metrics:             m,
		Discard: func(t models.ArenaType, a *arena.Arena) {
			logger.Debug().Str("arena_id", a.ID).Msg("Discarding idle arena")
		},
	}, logger)
	initCtx, cancelInit := context.WithTimeout(ctx, cfg.ArenaBuildTimeout*time.Duration(cfg.ArenaPoolSize))
	if err := arenas.Initialize(initCtx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize arena pool")
	}
	cancelInit()

	// --- 6. Game service ---
	gameStore := store.NewGameStore(redisCache, logger)
	if _, err := gameStore.PurgeServer(ctx, cfg.ServiceID); err != nil {
		logger.Warn().Err(err).Msg("Failed to purge stale game records")
	}
	games := service.NewGameService(node, gameStore, arenas, logger)
	games.Register()
	node.Ready()

	// --- 7. HTTP server ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, logger)
	api.NewAdminHandler(node).RegisterRoutes(baseServer)
	duelapi.NewDuelAPIHandlers(games, arenas, logger).RegisterRoutes(baseServer.Router)

	go func() {
		if err := baseServer.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	// --- 8. Graceful Shutdown ---
	<-ctx.Done()
	logger.Info().Msg("Shutting down Duel Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server graceful shutdown failed")
	}
	games.Close(shutdownCtx)
	node.Shutdown()
	arenas.Close()
	if err := redisBroker.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing broker")
	}
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing Redis client")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing traces")
	}
	logger.Info().Msg("Duel Service gracefully shut down.")
}
