// Package config reads the service configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fjod/go_basket/internal/store"
	"github.com/joho/godotenv"
)

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
	BackendPostgres = "postgres"

	ValidationRemote = "remote"
	ValidationLocal  = "local"
)

type Config struct {
	LogLevel           string
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64

	StoreBackend string
	RedisAddr    string
	RedisTTL     time.Duration
	MongoURI     string
	MongoDB      string
	Postgres     store.Credentials

	// GatewayBaseURI prefixes the validation, echo and submit endpoints.
	GatewayBaseURI string
	Namespace      string
	GatewayTimeout time.Duration
	// ValidationMode "local" validates against the in-process stock book
	// instead of the remote service.
	ValidationMode string
	FallbackStock  int
	// StockLevels seeds the local stock book, from STOCK_LEVELS=A:5,B:10.
	StockLevels map[string]int

	// SessionIdleTTL drops baskets unused for this long from memory. Zero
	// keeps them forever.
	SessionIdleTTL time.Duration

	// KafkaBrokers empty disables the event bridge.
	KafkaBrokers []string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		MaxRequestBodySize: 1 << 20, // 1MB
		StoreBackend:       getEnv("STORE_BACKEND", BackendMemory),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		MongoURI:           getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:            getEnv("MONGO_DB", "baskets"),
		Postgres: store.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "baskets"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/store/migrations"),
		},
		GatewayBaseURI: getEnv("GATEWAY_BASE_URI", "http://localhost:8081/"),
		Namespace:      getEnv("NAMESPACE", "default"),
		ValidationMode: getEnv("VALIDATION_MODE", ValidationRemote),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
	}

	var err error
	if cfg.RequestTimeout, err = getDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.GatewayTimeout, err = getDuration("GATEWAY_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.RedisTTL, err = getDuration("REDIS_TTL", 30*24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.SessionIdleTTL, err = getDuration("SESSION_IDLE_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.Postgres.Port, err = getInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.FallbackStock, err = getInt("FALLBACK_STOCK", 99); err != nil {
		return nil, err
	}
	if cfg.StockLevels, err = getStockLevels("STOCK_LEVELS"); err != nil {
		return nil, err
	}

	switch cfg.StoreBackend {
	case BackendMemory, BackendRedis, BackendMongo, BackendPostgres:
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
	switch cfg.ValidationMode {
	case ValidationRemote, ValidationLocal:
	default:
		return nil, fmt.Errorf("unknown VALIDATION_MODE %q", cfg.ValidationMode)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getStockLevels parses a comma separated list of id:total pairs.
func getStockLevels(key string) (map[string]int, error) {
	levels := make(map[string]int)
	for _, pair := range splitList(os.Getenv(key)) {
		id, total, ok := strings.Cut(pair, ":")
		id = strings.TrimSpace(id)
		if !ok || id == "" {
			return nil, fmt.Errorf("invalid %s entry %q", key, pair)
		}
		n, err := strconv.Atoi(strings.TrimSpace(total))
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry %q: %w", key, pair, err)
		}
		levels[id] = n
	}
	return levels, nil
}
