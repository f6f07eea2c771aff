package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Transport kinds understood by the client wiring
const (
	TransportWebSocket = "ws"
	TransportRedis     = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Env     string
		Version string
	}

	// Relay server configuration
	Relay struct {
		Port           string
		GRPCPort       string
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		MaxMessageSize int64
	}

	// Transport used by the conversation client
	Transport struct {
		Kind             string
		URL              string
		HandshakeTimeout time.Duration
		SendBuffer       int
	}

	// Search configuration
	Search struct {
		QuiescenceWindow time.Duration
	}

	// Redis configuration
	Redis struct {
		Addr          string
		Password      string
		DB            int
		ChannelPrefix string
	}

	// Database configuration for the participant roster
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}

	// Metrics configuration
	Metrics struct {
		Enabled bool
		Port    string
	}

	// Cache settings for roster lookups
	Cache struct {
		Enabled     bool
		TTL         time.Duration
		MaxSize     int
		PurgeWindow time.Duration
	}

	// Circuit breaker guarding session opens
	Breaker struct {
		FailureThreshold uint
		SuccessThreshold uint
		RetryTimeout     time.Duration
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		_ = godotenv.Load()
		instance = load()
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

func load() *Config {
	cfg := &Config{}

	cfg.Server.Env = getEnvString("APP_ENV", "development")
	cfg.Server.Version = getEnvString("APP_VERSION", "dev")

	cfg.Relay.Port = getEnvString("PORT", "3000")
	cfg.Relay.GRPCPort = getEnvString("GRPC_PORT", "9094")
	cfg.Relay.RateLimit = getEnvFloat("RATE_LIMIT", 20)
	cfg.Relay.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 40)
	cfg.Relay.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
	cfg.Relay.MaxMessageSize = getEnvInt64("MAX_MESSAGE_SIZE", 64<<10) // 64KB

	cfg.Transport.Kind = getEnvString("TRANSPORT", TransportWebSocket)
	cfg.Transport.URL = getEnvString("TRANSPORT_URL", "ws://localhost:3000/ws")
	cfg.Transport.HandshakeTimeout = getEnvDuration("HANDSHAKE_TIMEOUT", 10*time.Second)
	cfg.Transport.SendBuffer = getEnvInt("SEND_BUFFER", 256)

	cfg.Search.QuiescenceWindow = getEnvDuration("SEARCH_QUIESCENCE_WINDOW", 3*time.Second)

	cfg.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
	cfg.Redis.Password = getEnvString("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.ChannelPrefix = getEnvString("REDIS_CHANNEL_PREFIX", "chat")

	cfg.Database.Host = getEnvString("DB_HOST", "localhost")
	cfg.Database.Port = getEnvString("DB_PORT", "5432")
	cfg.Database.User = getEnvString("DB_USER", "postgres")
	cfg.Database.Password = getEnvString("DB_PASSWORD", "postgres")
	cfg.Database.Name = getEnvString("DB_NAME", "mobile-chat")
	cfg.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

	cfg.Logging.Level = getEnvString("LOG_LEVEL", "info")
	cfg.Logging.Format = getEnvString("LOG_FORMAT", "json")

	cfg.Metrics.Enabled = getEnvBool("METRICS_ENABLED", true)
	cfg.Metrics.Port = getEnvString("METRICS_PORT", "2112")

	cfg.Cache.Enabled = getEnvBool("CACHE_ENABLED", true)
	cfg.Cache.TTL = getEnvDuration("CACHE_TTL", 5*time.Minute)
	cfg.Cache.MaxSize = getEnvInt("CACHE_MAX_SIZE", 1000)
	cfg.Cache.PurgeWindow = getEnvDuration("CACHE_PURGE_WINDOW", 10*time.Minute)

	cfg.Breaker.FailureThreshold = uint(getEnvInt("BREAKER_FAILURE_THRESHOLD", 3))
	cfg.Breaker.SuccessThreshold = uint(getEnvInt("BREAKER_SUCCESS_THRESHOLD", 1))
	cfg.Breaker.RetryTimeout = getEnvDuration("BREAKER_RETRY_TIMEOUT", 30*time.Second)

	return cfg
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
