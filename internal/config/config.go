package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config represents runtime configuration derived from environment variables.
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Database  DatabaseConfig
	Auth      AuthConfig
	Cache     CacheConfig
	Indexing  IndexingConfig
	AdminPage AdminPageConfig
}

// ServerConfig holds HTTP server runtime parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// LoggingConfig represents structured logging configuration.
type LoggingConfig struct {
	Level  slog.Level
	Format string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

// AuthConfig holds admin authentication settings for the management API.
type AuthConfig struct {
	JWTSecret     string
	AdminPassword string
	TokenDuration time.Duration
}

// CacheConfig selects the invalidation bus used by the page store.
type CacheConfig struct {
	RedisURL string
}

// IndexingConfig controls the connector scheduler and the Canvas connector.
type IndexingConfig struct {
	BatchSize         int
	SchedulerTick     time.Duration
	FileSizeLimit     int64
	HTTPTimeout       time.Duration
	SchedulerDisabled bool
	// VerifyCredentials makes credential creation call Canvas with the new key.
	VerifyCredentials bool
}

// AdminPageConfig controls how the admin page reaches the management API.
type AdminPageConfig struct {
	// ManageAPIURL is the base URL of the management API. Empty means this process.
	ManageAPIURL string
}

const (
	defaultPort            = "8080"
	defaultReadTimeout     = 10 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultShutdownTimeout = 5 * time.Second

	defaultLogFormat = "json"

	defaultMaxConnections = 20
	defaultTokenDuration  = 24 * time.Hour

	defaultBatchSize     = 16
	defaultSchedulerTick = 30 * time.Second
	defaultFileSizeLimit = 5000000
	defaultHTTPTimeout   = 30 * time.Second
)

// Load reads configuration from environment variables, applying defaults when
// values are not provided or invalid.
func Load() (Config, error) {
	port := getEnv("PORT", "")
	if port == "" {
		port = getEnv("SERVER_PORT", defaultPort)
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            port,
			ReadTimeout:     defaultReadTimeout,
			WriteTimeout:    defaultWriteTimeout,
			ShutdownTimeout: defaultShutdownTimeout,
		},
		Logging: LoggingConfig{
			Level:  slog.LevelInfo,
			Format: defaultLogFormat,
		},
		Database: DatabaseConfig{
			URL:            os.Getenv("DATABASE_URL"),
			MaxConnections: defaultMaxConnections,
		},
		Auth: AuthConfig{
			JWTSecret:     getEnv("ADMIN_JWT_SECRET", "change-this-secret"),
			AdminPassword: getEnv("ADMIN_PASSWORD", "admin"),
			TokenDuration: defaultTokenDuration,
		},
		Cache: CacheConfig{
			RedisURL: os.Getenv("REDIS_URL"),
		},
		Indexing: IndexingConfig{
			BatchSize:         defaultBatchSize,
			SchedulerTick:     defaultSchedulerTick,
			FileSizeLimit:     defaultFileSizeLimit,
			HTTPTimeout:       defaultHTTPTimeout,
			VerifyCredentials: true,
		},
		AdminPage: AdminPageConfig{
			ManageAPIURL: os.Getenv("MANAGE_API_URL"),
		},
	}

	if v := os.Getenv("SERVER_READ_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_READ_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ReadTimeout = d
	}

	if v := os.Getenv("SERVER_WRITE_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_WRITE_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if v := os.Getenv("SERVER_SHUTDOWN_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SERVER_SHUTDOWN_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Server.ShutdownTimeout = d
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level, err := parseLogLevel(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
		cfg.Logging.Level = level
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		switch v {
		case "json", "text":
			cfg.Logging.Format = v
		default:
			return Config{}, fmt.Errorf("invalid LOG_FORMAT: must be 'json' or 'text'")
		}
	}

	if v := os.Getenv("DATABASE_MAX_CONNECTIONS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DATABASE_MAX_CONNECTIONS: %w", err)
		}
		cfg.Database.MaxConnections = n
	}

	if v := os.Getenv("ADMIN_TOKEN_HOURS"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ADMIN_TOKEN_HOURS: %w", err)
		}
		cfg.Auth.TokenDuration = time.Duration(n) * time.Hour
	}

	if v := os.Getenv("INDEX_BATCH_SIZE"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid INDEX_BATCH_SIZE: %w", err)
		}
		cfg.Indexing.BatchSize = n
	}

	if v := os.Getenv("SCHEDULER_TICK_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil || d == 0 {
			return Config{}, fmt.Errorf("invalid SCHEDULER_TICK_SECONDS: must be a positive integer")
		}
		cfg.Indexing.SchedulerTick = d
	}

	if v := os.Getenv("CANVAS_FILE_SIZE_LIMIT"); v != "" {
		n, err := parsePositiveInt(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CANVAS_FILE_SIZE_LIMIT: %w", err)
		}
		cfg.Indexing.FileSizeLimit = int64(n)
	}

	if v := os.Getenv("CANVAS_HTTP_TIMEOUT_SECONDS"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CANVAS_HTTP_TIMEOUT_SECONDS: %w", err)
		}
		cfg.Indexing.HTTPTimeout = d
	}

	if v := os.Getenv("DISABLE_SCHEDULER"); v != "" {
		disabled, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid DISABLE_SCHEDULER: %w", err)
		}
		cfg.Indexing.SchedulerDisabled = disabled
	}

	if v := os.Getenv("CANVAS_VERIFY_CREDENTIALS"); v != "" {
		verify, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CANVAS_VERIFY_CREDENTIALS: %w", err)
		}
		cfg.Indexing.VerifyCredentials = verify
	}

	return cfg, nil
}

func parseSeconds(raw string) (time.Duration, error) {
	seconds, err := strconv.Atoi(raw)
	if err != nil || seconds < 0 {
		return 0, fmt.Errorf("must be a non-negative integer")
	}
	return time.Duration(seconds) * time.Second, nil
}

func parsePositiveInt(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch raw {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("must be one of debug, info, warn, error")
	}
}
