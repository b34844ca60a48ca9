package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	GRPC     GRPCConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Approval ApprovalConfig
	Relay    RelayConfig
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
	LogLevel    string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AllowedOrigins  []string
}

type GRPCConfig struct {
	Port int
}

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
	AutoMigrate bool
}

// StorageConfig selects the persistence engine: "postgres" or "memory".
type StorageConfig struct {
	Driver string
}

// RedisConfig is optional; an empty Addr disables the exposure cache and the
// relay cursor store.
type RedisConfig struct {
	Addr             string
	Password         string
	DB               int
	ExposureCacheTTL time.Duration
}

// NATSConfig is optional; an empty URL disables the audit relay.
type NATSConfig struct {
	URL    string
	Stream string
}

// ApprovalConfig holds the calling-layer routing policy. A zero threshold
// disables amount-based routing.
type ApprovalConfig struct {
	Threshold decimal.Decimal
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	SettleLag    time.Duration
}

// Load reads an optional .env file, then environment variables.
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	threshold := decimal.Zero
	if raw := strings.TrimSpace(v.GetString("APPROVAL_THRESHOLD")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("APPROVAL_THRESHOLD: %w", err)
		}
		threshold = parsed
	}

	cfg := &Config{
		Service: ServiceConfig{
			Name:        v.GetString("SERVICE_NAME"),
			Version:     v.GetString("SERVICE_VERSION"),
			Environment: v.GetString("ENVIRONMENT"),
			LogLevel:    v.GetString("LOG_LEVEL"),
		},
		Server: ServerConfig{
			Port:            v.GetInt("HTTP_PORT"),
			ReadTimeout:     v.GetDuration("HTTP_READ_TIMEOUT"),
			WriteTimeout:    v.GetDuration("HTTP_WRITE_TIMEOUT"),
			IdleTimeout:     v.GetDuration("HTTP_IDLE_TIMEOUT"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
			RequestTimeout:  v.GetDuration("HTTP_REQUEST_TIMEOUT"),
			AllowedOrigins:  splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		},
		GRPC: GRPCConfig{
			Port: v.GetInt("GRPC_PORT"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("DB_HOST"),
			Port:        v.GetInt("DB_PORT"),
			User:        v.GetString("DB_USER"),
			Password:    v.GetString("DB_PASSWORD"),
			Database:    v.GetString("DB_NAME"),
			SSLMode:     v.GetString("DB_SSLMODE"),
			MaxConns:    v.GetInt32("DB_MAX_CONNS"),
			MinConns:    v.GetInt32("DB_MIN_CONNS"),
			MaxConnTime: v.GetDuration("DB_MAX_CONN_LIFETIME"),
			MaxIdleTime: v.GetDuration("DB_MAX_CONN_IDLE_TIME"),
			HealthCheck: v.GetDuration("DB_HEALTH_CHECK_PERIOD"),
			AutoMigrate: v.GetBool("DB_AUTO_MIGRATE"),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(v.GetString("STORAGE_DRIVER")),
		},
		Redis: RedisConfig{
			Addr:             v.GetString("REDIS_ADDR"),
			Password:         v.GetString("REDIS_PASSWORD"),
			DB:               v.GetInt("REDIS_DB"),
			ExposureCacheTTL: v.GetDuration("EXPOSURE_CACHE_TTL"),
		},
		NATS: NATSConfig{
			URL:    v.GetString("NATS_URL"),
			Stream: v.GetString("NATS_STREAM"),
		},
		Approval: ApprovalConfig{
			Threshold: threshold,
		},
		Relay: RelayConfig{
			PollInterval: v.GetDuration("RELAY_POLL_INTERVAL"),
			BatchSize:    v.GetInt("RELAY_BATCH_SIZE"),
			SettleLag:    v.GetDuration("RELAY_SETTLE_LAG"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("STORAGE_DRIVER must be postgres or memory, got %q", c.Storage.Driver)
	}
	if c.Server.Port <= 0 || c.GRPC.Port <= 0 {
		return fmt.Errorf("HTTP_PORT and GRPC_PORT must be positive")
	}
	if c.Approval.Threshold.IsNegative() {
		return fmt.Errorf("APPROVAL_THRESHOLD cannot be negative")
	}
	if c.Relay.BatchSize <= 0 {
		return fmt.Errorf("RELAY_BATCH_SIZE must be positive")
	}
	return nil
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVICE_NAME", "be-tr-cheques")
	v.SetDefault("SERVICE_VERSION", "dev")
	v.SetDefault("ENVIRONMENT", "development")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("HTTP_PORT", 8086)
	v.SetDefault("HTTP_READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_IDLE_TIMEOUT", 60*time.Second)
	v.SetDefault("HTTP_REQUEST_TIMEOUT", 30*time.Second)
	v.SetDefault("SHUTDOWN_TIMEOUT", 20*time.Second)
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("GRPC_PORT", 9086)

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "cheques")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_MAX_CONN_LIFETIME", time.Hour)
	v.SetDefault("DB_MAX_CONN_IDLE_TIME", 30*time.Minute)
	v.SetDefault("DB_HEALTH_CHECK_PERIOD", time.Minute)
	v.SetDefault("DB_AUTO_MIGRATE", true)

	v.SetDefault("STORAGE_DRIVER", "postgres")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("EXPOSURE_CACHE_TTL", 15*time.Second)
	v.SetDefault("NATS_STREAM", "CHEQUES_AUDIT")

	v.SetDefault("RELAY_POLL_INTERVAL", 2*time.Second)
	v.SetDefault("RELAY_BATCH_SIZE", 200)
	v.SetDefault("RELAY_SETTLE_LAG", 2*time.Second)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
