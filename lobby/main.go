package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	lobbyapi "github.com/Ftotnem/duels-network/lobby/api"
	"github.com/Ftotnem/duels-network/lobby/mojang"
	lobbyservice "github.com/Ftotnem/duels-network/lobby/service"
	"github.com/Ftotnem/duels-network/lobby/store"
	"github.com/Ftotnem/duels-network/shared/api"
	"github.com/Ftotnem/duels-network/shared/broker"
	"github.com/Ftotnem/duels-network/shared/cache"
	"github.com/Ftotnem/duels-network/shared/cluster"
	"github.com/Ftotnem/duels-network/shared/config"
	"github.com/Ftotnem/duels-network/shared/logging"
	"github.com/Ftotnem/duels-network/shared/metrics"
	mongodbu "github.com/Ftotnem/duels-network/shared/mongodb"
	redisu "github.com/Ftotnem/duels-network/shared/redis"
	"github.com/Ftotnem/duels-network/shared/registry"
	"github.com/Ftotnem/duels-network/shared/service"
	"github.com/Ftotnem/duels-network/shared/telemetry"
)

func main() {
	// --- 1. Load Configuration ---
	cfg, err := config.LoadLobbyServiceConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logger := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, string(registry.KindLobby), cfg.ServiceID)
	logger.Info().Str("listen_addr", cfg.ListenAddr).Str("mongodb_database", cfg.MongoDBDatabase).Msg("Configuration loaded for Lobby Service")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- 2. Tracing ---
	shutdownTracing, err := telemetry.Setup(ctx, "lobby-service", cfg.ServiceID, cfg.OTelEndpoint)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to set up tracing")
	}

	// --- 3. Connect to MongoDB ---
	mongoClient, err := mongodbu.NewClient(ctx, cfg.MongoDBConnStr, cfg.MongoDBDatabase, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to MongoDB")
	}
	profileStore := store.NewProfileStore(mongoClient.Collection(cfg.ProfilesCollection), logger)
	if err := profileStore.EnsureIndexes(ctx); err != nil {
		logger.Warn().Err(err).Msg("Failed to ensure profile indexes")
	}

	// --- 4. Connect to Redis ---
	redisClient, err := redisu.NewRedisClient(ctx, cfg.RedisAddrs, cfg.RedisPassword, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	redisBroker := broker.NewRedisBroker(redisClient, logger)
	redisCache := cache.NewRedisCache(redisClient)

	// --- 5. Start the cluster node ---
	m := metrics.New(cfg.ServiceID, nil)
	node := cluster.NewNode(cfg.CommonConfig, registry.KindLobby, redisBroker, redisCache, m, logger)
	if err := node.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start cluster node")
	}

	// --- 6. Services ---
	mojangClient := mojang.NewClient(cfg.MojangSessionURL)
	profiles := lobbyservice.NewProfileService(profileStore, redisCache, mojangClient, logger)
	parties := lobbyservice.NewPartyService(redisCache, cfg.PartyInviteTTL, logger)
	duels := service.NewDuelClient(node, cfg.RequestTimeout)
	matches := lobbyservice.NewMatchService(node, profiles, duels, logger)
	matches.Register()

	queueRing := cluster.NewAssignmentManager(node.Registry, "", registry.KindQueue, cfg.QueueRingUpdate, logger)
	go queueRing.Start()
	queue := service.NewQueueClient(node, queueRing, cfg.RequestTimeout)
	presence := lobbyservice.NewPresenceService(node, profiles, queue, logger)
	presence.Register()

	filler := mojang.NewFiller(mojangClient, profiles, cfg.ProfileFillEvery, logger)
	filler.Start()
	node.Ready()

	// --- 7. HTTP server ---
	baseServer := api.NewBaseServer(cfg.ListenAddr, logger)
	api.NewAdminHandler(node).RegisterRoutes(baseServer)
	lobbyapi.NewLobbyAPIHandlers(profiles, parties, matches, presence, queue, logger).RegisterRoutes(baseServer.Router)

	go func() {
		if err := baseServer.Start(); err != nil {
			logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	// --- 8. Graceful Shutdown ---
	<-ctx.Done()
	logger.Info().Msg("Shutting down Lobby Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := baseServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server graceful shutdown failed")
	}
	filler.Stop()
	queueRing.Stop()
	node.Shutdown()
	if err := redisBroker.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing broker")
	}
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing Redis client")
	}
	if err := mongoClient.Disconnect(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error disconnecting from MongoDB")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error flushing traces")
	}
	logger.Info().Msg("Lobby Service gracefully shut down.")
}
