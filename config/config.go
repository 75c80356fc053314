package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	StorageConnectionString string
	TasksTable              string
	ChangesQueue            string
	RedisConnectionString   string
	ChangesChannel          string
	OwnerID                 string
	SnapshotCacheTTL        time.Duration
	ResyncInterval          time.Duration
	IdempotencyTTL          time.Duration
	HTTPPort                string
	ProvisionStorage        bool
	Debug                   bool
	LogFormat               string
}

// Load reads the configuration from the environment. Values from a .env file in
// the working directory fill in variables that are not already set.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		TasksTable:              getEnv("TASKS_TABLE", "tasks"),
		ChangesQueue:            os.Getenv("CHANGES_QUEUE"),
		RedisConnectionString:   os.Getenv("REDIS_CONNECTION_STRING"),
		ChangesChannel:          getEnv("CHANGES_CHANNEL", "tasks-changed"),
		OwnerID:                 os.Getenv("OWNER_ID"),
		HTTPPort:                getEnv("HTTP_PORT", "8080"),
		LogFormat:               strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
	if cfg.StorageConnectionString == "" {
		return nil, errors.New("missing STORAGE_CONNECTION_STRING")
	}
	if cfg.RedisConnectionString == "" {
		return nil, errors.New("missing REDIS_CONNECTION_STRING")
	}
	if cfg.TasksTable == "" {
		return nil, errors.New("TASKS_TABLE must not be empty")
	}

	var err error
	if cfg.SnapshotCacheTTL, err = getDuration("SNAPSHOT_CACHE_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SnapshotCacheTTL < 0 {
		return nil, errors.New("invalid SNAPSHOT_CACHE_TTL: must not be negative")
	}
	if cfg.ResyncInterval, err = getDuration("RESYNC_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ResyncInterval <= 0 {
		return nil, errors.New("invalid RESYNC_INTERVAL: must be greater than zero")
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL <= 0 {
		return nil, errors.New("invalid IDEMPOTENCY_TTL: must be greater than zero")
	}
	if cfg.ProvisionStorage, err = getBool("PROVISION_STORAGE", false); err != nil {
		return nil, err
	}
	if cfg.Debug, err = getBool("DEBUG", false); err != nil {
		return nil, err
	}
	if _, err := strconv.Atoi(cfg.HTTPPort); err != nil {
		return nil, fmt.Errorf("invalid HTTP_PORT: %w", err)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT %q: want text or json", cfg.LogFormat)
	}
	return cfg, nil
}

// ConfigureLogging applies the level and format settings to logger.
func (c *Config) ConfigureLogging(logger *log.Logger) {
	if c.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}
}

// RedisOptions parses the Redis connection string. Both redis:// URLs and the
// Azure "host:port,password=...,ssl=True" form are accepted.
func (c *Config) RedisOptions() (*redis.Options, error) {
	return ParseRedis(c.RedisConnectionString)
}

func ParseRedis(conn string) (*redis.Options, error) {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	addr := strings.TrimSpace(parts[0])
	if addr == "" || strings.Contains(addr, "=") {
		return nil, fmt.Errorf("invalid redis connection string")
	}
	opts := &redis.Options{Addr: addr}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{}
			}
		}
	}
	return opts, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
