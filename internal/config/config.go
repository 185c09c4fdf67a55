package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Auth       AuthConfig       `mapstructure:"auth"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Firmware   FirmwareConfig   `mapstructure:"firmware"`
	Aggregates AggregatesConfig `mapstructure:"aggregates"`
}

// ServerConfig defines server ports and addresses
type ServerConfig struct {
	BindAddress    string   `mapstructure:"bind_address"`
	HTTPPort       int      `mapstructure:"http_port"`
	MetricsPort    int      `mapstructure:"metrics_port"`
	ReadTimeout    string   `mapstructure:"read_timeout"`
	WriteTimeout   string   `mapstructure:"write_timeout"`
	IdleTimeout    string   `mapstructure:"idle_timeout"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Type     string         `mapstructure:"type"` // "postgres" or "memory"
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig defines the relational store connection
type PostgresConfig struct {
	URL            string `mapstructure:"url"`
	MaxConns       int32  `mapstructure:"max_conns"`
	MinConns       int32  `mapstructure:"min_conns"`
	ConnectTimeout string `mapstructure:"connect_timeout"`
}

// RedisConfig defines the cache used for rate limiting and token revocation
type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig defines token issuance and the admin bootstrap key
type AuthConfig struct {
	JWTSecret          string `mapstructure:"jwt_secret"`
	TokenTTL           string `mapstructure:"token_ttl"`
	BcryptCost         int    `mapstructure:"bcrypt_cost"`
	AdminSetupKey      string `mapstructure:"admin_setup_key"`
	BlacklistCacheSize int    `mapstructure:"blacklist_cache_size"`
}

// RateLimitConfig defines per-bucket request budgets
type RateLimitConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Window  string `mapstructure:"window"`
	General int    `mapstructure:"general"`
	Upload  int    `mapstructure:"upload"`
	Admin   int    `mapstructure:"admin"`
}

// FirmwareConfig defines the object store holding firmware binaries
type FirmwareConfig struct {
	Bucket         string `mapstructure:"bucket"`
	Region         string `mapstructure:"region"`
	Endpoint       string `mapstructure:"endpoint"` // S3-compatible endpoint (MinIO etc.)
	AccessKey      string `mapstructure:"access_key"`
	SecretKey      string `mapstructure:"secret_key"`
	UploadURLTTL   string `mapstructure:"upload_url_ttl"`
	DownloadURLTTL string `mapstructure:"download_url_ttl"`
}

// AggregatesConfig defines the daily statistics sweep
type AggregatesConfig struct {
	SweepEnabled      bool   `mapstructure:"sweep_enabled"`
	SweepTime         string `mapstructure:"sweep_time"`
	SweepLookbackDays int    `mapstructure:"sweep_lookback_days"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	SetDefaults(v)

	// Configure viper
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("DTXCLOUD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	// Unmarshal config
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate config
	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration populated only with default values.
func Defaults() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)

	return &cfg
}

// SetDefaults sets default configuration values
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.bind_address", "0.0.0.0")
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.allowed_origins", []string{})

	// Storage defaults
	v.SetDefault("storage.type", "postgres")
	v.SetDefault("storage.postgres.url", "")
	v.SetDefault("storage.postgres.max_conns", 10)
	v.SetDefault("storage.postgres.min_conns", 1)
	v.SetDefault("storage.postgres.connect_timeout", "5s")
	v.SetDefault("storage.redis.enabled", false)
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Auth defaults
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "1h")
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("auth.admin_setup_key", "")
	v.SetDefault("auth.blacklist_cache_size", 10000)

	// Rate limit defaults
	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.general", 60)
	v.SetDefault("rate_limit.upload", 10)
	v.SetDefault("rate_limit.admin", 30)

	// Firmware object store defaults
	v.SetDefault("firmware.bucket", "")
	v.SetDefault("firmware.region", "us-east-1")
	v.SetDefault("firmware.endpoint", "")
	v.SetDefault("firmware.access_key", "")
	v.SetDefault("firmware.secret_key", "")
	v.SetDefault("firmware.upload_url_ttl", "15m")
	v.SetDefault("firmware.download_url_ttl", "1h")

	// Aggregate sweep defaults
	v.SetDefault("aggregates.sweep_enabled", false)
	v.SetDefault("aggregates.sweep_time", "03:00")
	v.SetDefault("aggregates.sweep_lookback_days", 1)
}

// ValidKeys returns the set of configuration keys understood by Load.
func ValidKeys() map[string]bool {
	v := viper.New()
	SetDefaults(v)

	keys := make(map[string]bool)
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", cfg.Server.HTTPPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "postgres":
		if cfg.Storage.Postgres.URL == "" {
			return fmt.Errorf("storage.postgres.url is required when storage.type is postgres")
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", cfg.Logging.Level)
	}

	if len(cfg.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return fmt.Errorf("invalid bcrypt cost: %d", cfg.Auth.BcryptCost)
	}

	for name, value := range map[string]string{
		"auth.token_ttl":            cfg.Auth.TokenTTL,
		"rate_limit.window":         cfg.RateLimit.Window,
		"firmware.upload_url_ttl":   cfg.Firmware.UploadURLTTL,
		"firmware.download_url_ttl": cfg.Firmware.DownloadURLTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}

	if cfg.RateLimit.Enabled && (cfg.RateLimit.General <= 0 || cfg.RateLimit.Upload <= 0 || cfg.RateLimit.Admin <= 0) {
		return fmt.Errorf("rate limits must be positive when rate limiting is enabled")
	}

	if _, err := time.Parse("15:04", cfg.Aggregates.SweepTime); err != nil {
		return fmt.Errorf("invalid aggregates.sweep_time %q: %w", cfg.Aggregates.SweepTime, err)
	}
	if cfg.Aggregates.SweepLookbackDays < 1 {
		return fmt.Errorf("aggregates.sweep_lookback_days must be at least 1")
	}

	return nil
}
