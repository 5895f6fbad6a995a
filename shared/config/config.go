// shared/config/config.go
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	redisu "github.com/Ftotnem/duels-network/shared/redis"
)

// CommonConfig holds configuration fields that are shared across every service.
type CommonConfig struct {
	RedisAddrs              []string      `env:"REDIS_ADDRS" envSeparator:"," envDefault:"localhost:6379"`
	RedisPassword           string        `env:"REDIS_PASSWORD"`
	ServiceID               string        `env:"SERVICE_ID"`               // Stable identity; generated when empty
	ServiceIP               string        `env:"POD_IP" envDefault:"0.0.0.0"` // Address advertised in heartbeats
	ServicePort             int           // Derived from the service's listen address
	HeartbeatInterval       time.Duration `env:"SERVICE_HEARTBEAT_INTERVAL" envDefault:"5s"`
	HeartbeatMissThreshold  int           `env:"SERVICE_HEARTBEAT_MISS_THRESHOLD" envDefault:"3"`
	RegistryCleanupInterval time.Duration `env:"SERVICE_REGISTRY_CLEANUP_INTERVAL" envDefault:"5s"`
	RequestTimeout          time.Duration `env:"MESSAGING_REQUEST_TIMEOUT" envDefault:"5s"`
	GlobalRequestWindow     time.Duration `env:"MESSAGING_GLOBAL_WINDOW" envDefault:"50ms"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"INFO"`
	LogFormat               string        `env:"LOG_FORMAT" envDefault:"json"`
	OTelEndpoint            string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// HeartbeatTTL is how long a peer stays visible without a fresh heartbeat.
func (c CommonConfig) HeartbeatTTL() time.Duration {
	return c.HeartbeatInterval * time.Duration(c.HeartbeatMissThreshold)
}

// Address is the host:port advertised to peers.
func (c CommonConfig) Address() string {
	return net.JoinHostPort(c.ServiceIP, strconv.Itoa(c.ServicePort))
}

// LobbyServiceConfig holds configuration specific to the lobby service.
type LobbyServiceConfig struct {
	CommonConfig
	ListenAddr         string        `env:"LOBBY_SERVICE_LISTEN_ADDR" envDefault:":8081"`
	MongoDBConnStr     string        `env:"MONGODB_CONN_STR" envDefault:"mongodb://mongodb-service:27017"`
	MongoDBDatabase    string        `env:"MONGODB_DATABASE" envDefault:"duels"`
	ProfilesCollection string        `env:"MONGODB_PROFILES_COLLECTION" envDefault:"profiles"`
	PartyInviteTTL     time.Duration `env:"LOBBY_PARTY_INVITE_TTL" envDefault:"60s"`
	MojangSessionURL   string        `env:"MOJANG_SESSION_URL" envDefault:"https://sessionserver.mojang.com/session/minecraft/profile"`
	ProfileFillEvery   time.Duration `env:"LOBBY_PROFILE_FILL_INTERVAL" envDefault:"5m"`
	QueueRingUpdate    time.Duration `env:"LOBBY_QUEUE_RING_UPDATE_INTERVAL" envDefault:"5s"`
}

// DuelServiceConfig holds configuration specific to a duel arena worker.
type DuelServiceConfig struct {
	CommonConfig
	ListenAddr          string        `env:"DUEL_SERVICE_LISTEN_ADDR" envDefault:":8082"`
	ArenaPoolSize       int           `env:"DUEL_ARENA_POOL_SIZE" envDefault:"3"`
	MaxConcurrentBuilds int           `env:"DUEL_ARENA_MAX_CONCURRENT_BUILDS" envDefault:"4"`
	ArenaGridSpacing    int           `env:"DUEL_ARENA_GRID_SPACING" envDefault:"1000"`
	ArenaBuildTimeout   time.Duration `env:"DUEL_ARENA_BUILD_TIMEOUT" envDefault:"30s"`
}

// QueueServiceConfig holds configuration specific to the matchmaking queue.
type QueueServiceConfig struct {
	CommonConfig
	ListenAddr     string        `env:"QUEUE_SERVICE_LISTEN_ADDR" envDefault:":8083"`
	TickInterval   time.Duration `env:"QUEUE_TICK_INTERVAL" envDefault:"1s"`
	StatusTimeout  time.Duration `env:"QUEUE_STATUS_TIMEOUT" envDefault:"2s"`
	RingUpdateRate time.Duration `env:"QUEUE_RING_UPDATE_INTERVAL" envDefault:"5s"`
}

// ParseEnv loads configuration from environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// finishCommon applies derived values and validation shared by every loader.
func finishCommon(c *CommonConfig, serviceKind, listenAddr string) error {
	port, err := extractPort(listenAddr)
	if err != nil {
		return fmt.Errorf("failed to extract port from listen address '%s': %w", listenAddr, err)
	}
	c.ServicePort = port

	if c.ServiceID == "" {
		c.ServiceID = fmt.Sprintf("%s-%s", serviceKind, uuid.New().String())
	}
	if redisu.ServiceChannel(c.ServiceID) == redisu.GlobalChannel {
		return fmt.Errorf("SERVICE_ID %q is reserved for the global channel", c.ServiceID)
	}
	if len(c.RedisAddrs) == 0 {
		return fmt.Errorf("REDIS_ADDRS must not be empty")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("SERVICE_HEARTBEAT_INTERVAL must be positive (got %s)", c.HeartbeatInterval)
	}
	if c.HeartbeatMissThreshold < 1 {
		return fmt.Errorf("SERVICE_HEARTBEAT_MISS_THRESHOLD must be at least 1 (got %d)", c.HeartbeatMissThreshold)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("MESSAGING_REQUEST_TIMEOUT must be positive (got %s)", c.RequestTimeout)
	}
	return nil
}

// LoadLobbyServiceConfig loads configuration for the lobby service.
func LoadLobbyServiceConfig() (*LobbyServiceConfig, error) {
	cfg := &LobbyServiceConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config for lobby-service: %w", err)
	}
	if err := finishCommon(&cfg.CommonConfig, "lobby", cfg.ListenAddr); err != nil {
		return nil, err
	}
	if cfg.PartyInviteTTL <= 0 {
		return nil, fmt.Errorf("LOBBY_PARTY_INVITE_TTL must be positive (got %s)", cfg.PartyInviteTTL)
	}
	if cfg.ProfileFillEvery <= 0 {
		return nil, fmt.Errorf("LOBBY_PROFILE_FILL_INTERVAL must be positive (got %s)", cfg.ProfileFillEvery)
	}
	return cfg, nil
}

// LoadDuelServiceConfig loads configuration for a duel arena worker.
func LoadDuelServiceConfig() (*DuelServiceConfig, error) {
	cfg := &DuelServiceConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config for duel-service: %w", err)
	}
	if err := finishCommon(&cfg.CommonConfig, "duel", cfg.ListenAddr); err != nil {
		return nil, err
	}
	if cfg.ArenaPoolSize < 1 {
		return nil, fmt.Errorf("DUEL_ARENA_POOL_SIZE must be a positive integer (got %d)", cfg.ArenaPoolSize)
	}
	if cfg.MaxConcurrentBuilds < 1 {
		return nil, fmt.Errorf("DUEL_ARENA_MAX_CONCURRENT_BUILDS must be a positive integer (got %d)", cfg.MaxConcurrentBuilds)
	}
	return cfg, nil
}

// LoadQueueServiceConfig loads configuration for the matchmaking queue.
func LoadQueueServiceConfig() (*QueueServiceConfig, error) {
	cfg := &QueueServiceConfig{}
	if err := ParseEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config for queue-service: %w", err)
	}
	if err := finishCommon(&cfg.CommonConfig, "queue", cfg.ListenAddr); err != nil {
		return nil, err
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("QUEUE_TICK_INTERVAL must be positive (got %s)", cfg.TickInterval)
	}
	return cfg, nil
}

// extractPort extracts the numeric port from a listen address (e.g., ":8082" -> 8082, "0.0.0.0:8082" -> 8082)
func extractPort(listenAddr string) (int, error) {
	_, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		if strings.HasPrefix(listenAddr, ":") {
			portStr = strings.TrimPrefix(listenAddr, ":")
		} else {
			return 0, fmt.Errorf("invalid ListenAddr format for port extraction: %w", err)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("invalid port number '%s': %w", portStr, err)
	}
	return port, nil
}
