package config

import (
	"os"
	"strconv"
	"time"
)

// StoreBackend selects the persistent key-value store implementation.
type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StoreRedis    StoreBackend = "redis"
	StorePostgres StoreBackend = "postgres"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	Environment string
	LogLevel    string
	AdminToken  string

	// Comma-separated CIDRs allowed to set X-Forwarded-For
	TrustedProxies  string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	Store    StoreBackend
	Redis    RedisConfig
	Database DatabaseConfig
	Remote   RemoteConfig
}

// RedisConfig configures the Redis connection used by the redis store backend.
type RedisConfig struct {
	URL          string
	Namespace    string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig configures the Postgres pool used by the postgres store backend.
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RemoteConfig points at the generation/analysis service.
type RemoteConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        envString("CALLGATE_ADDR", ":8080"),
		Environment: envString("CALLGATE_ENV", "development"),
		LogLevel:    envString("LOG_LEVEL", "info"),
		AdminToken:  os.Getenv("ADMIN_TOKEN"),

		TrustedProxies:  os.Getenv("TRUSTED_PROXIES"),
		RequestTimeout:  envDuration("HTTP_REQUEST_TIMEOUT", 4*time.Minute),
		ShutdownTimeout: envDuration("HTTP_SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxBodyBytes:    int64(envInt("HTTP_MAX_BODY_BYTES", 1<<20)),

		Store: StoreBackend(envString("STORE_BACKEND", string(StoreMemory))),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			Namespace:    envString("REDIS_NAMESPACE", "callgate:"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 500*time.Millisecond),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 500*time.Millisecond),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Remote: RemoteConfig{
			BaseURL: os.Getenv("REMOTE_BASE_URL"),
			APIKey:  os.Getenv("REMOTE_API_KEY"),
			Timeout: envDuration("REMOTE_TIMEOUT", 60*time.Second),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// EnvDuration exposes duration parsing with fallback to other config packages.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	return envDuration(key, fallback)
}

// EnvInt exposes integer parsing with fallback to other config packages.
func EnvInt(key string, fallback int) int {
	return envInt(key, fallback)
}
