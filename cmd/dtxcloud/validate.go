package main

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	validateDump bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long:  `Validate the dtxcloud configuration file for syntax and semantic errors.`,
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateDump, "dump", false, "Dump full configuration with defaults highlighted")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration validation failed: %v\n", err)
		return err
	}

	// Check for unknown keys (always, not just with --dump)
	unknownKeys, err := findUnknownKeys(configPath)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "⚠️  Warning: Could not check for unknown keys: %v\n", err)
	}

	_, _ = fmt.Fprintf(os.Stdout, "✅ Configuration is valid: %s\n", configPath)

	// Warn about unknown keys
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)
		fmt.Fprintln(os.Stdout)
		_, _ = red.Fprintf(os.Stdout, "⚠️  WARNING: Found %d unknown configuration key(s):\n", len(unknownKeys))
		for _, key := range unknownKeys {
			_, _ = red.Fprintf(os.Stdout, "   - %s\n", key)
		}
		fmt.Fprintln(os.Stdout, "\nThese keys will be ignored and may indicate typos or deprecated settings.")
	}

	// If dump requested, show full configuration with defaults highlighted
	if validateDump {
		_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
		_, _ = fmt.Fprintln(os.Stdout, "FULL CONFIGURATION (values different from defaults are highlighted)")
		_, _ = fmt.Fprintln(os.Stdout, strings.Repeat("=", 80))

		dumpConfig(cfg, config.Defaults(), unknownKeys)
	}

	return nil
}

// findUnknownKeys loads the config file and checks for unknown keys
func findUnknownKeys(configPath string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	validKeys := config.ValidKeys()

	unknown := []string{}
	for _, key := range v.AllKeys() {
		if !validKeys[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)

	return unknown, nil
}

// dumpConfig dumps configuration with color highlighting for non-default values
func dumpConfig(cfg, defaultCfg *config.Config, unknownKeys []string) {
	// Setup colors (only if terminal supports it)
	yellow := color.New(color.FgYellow, color.Bold)
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan, color.Bold)

	// Server
	_, _ = cyan.Println("\n[server]")
	dumpField("  bind_address", cfg.Server.BindAddress, defaultCfg.Server.BindAddress, yellow, green)
	dumpField("  http_port", cfg.Server.HTTPPort, defaultCfg.Server.HTTPPort, yellow, green)
	dumpField("  metrics_port", cfg.Server.MetricsPort, defaultCfg.Server.MetricsPort, yellow, green)
	dumpField("  read_timeout", cfg.Server.ReadTimeout, defaultCfg.Server.ReadTimeout, yellow, green)
	dumpField("  write_timeout", cfg.Server.WriteTimeout, defaultCfg.Server.WriteTimeout, yellow, green)
	dumpField("  idle_timeout", cfg.Server.IdleTimeout, defaultCfg.Server.IdleTimeout, yellow, green)
	dumpField("  allowed_origins", cfg.Server.AllowedOrigins, defaultCfg.Server.AllowedOrigins, yellow, green)

	// Storage
	_, _ = cyan.Println("\n[storage]")
	dumpField("  type", cfg.Storage.Type, defaultCfg.Storage.Type, yellow, green)
	_, _ = cyan.Println("  [storage.postgres]")
	dumpField("    url", redactURL(cfg.Storage.Postgres.URL), redactURL(defaultCfg.Storage.Postgres.URL), yellow, green)
	dumpField("    max_conns", cfg.Storage.Postgres.MaxConns, defaultCfg.Storage.Postgres.MaxConns, yellow, green)
	dumpField("    min_conns", cfg.Storage.Postgres.MinConns, defaultCfg.Storage.Postgres.MinConns, yellow, green)
	dumpField("    connect_timeout", cfg.Storage.Postgres.ConnectTimeout, defaultCfg.Storage.Postgres.ConnectTimeout, yellow, green)
	_, _ = cyan.Println("  [storage.redis]")
	dumpField("    enabled", cfg.Storage.Redis.Enabled, defaultCfg.Storage.Redis.Enabled, yellow, green)
	dumpField("    host", cfg.Storage.Redis.Host, defaultCfg.Storage.Redis.Host, yellow, green)
	dumpField("    port", cfg.Storage.Redis.Port, defaultCfg.Storage.Redis.Port, yellow, green)
	dumpField("    password", redactSecret(cfg.Storage.Redis.Password), redactSecret(defaultCfg.Storage.Redis.Password), yellow, green)
	dumpField("    db", cfg.Storage.Redis.DB, defaultCfg.Storage.Redis.DB, yellow, green)
	dumpField("    pool_size", cfg.Storage.Redis.PoolSize, defaultCfg.Storage.Redis.PoolSize, yellow, green)
	dumpField("    min_idle_conns", cfg.Storage.Redis.MinIdleConns, defaultCfg.Storage.Redis.MinIdleConns, yellow, green)
	dumpField("    dial_timeout", cfg.Storage.Redis.DialTimeout, defaultCfg.Storage.Redis.DialTimeout, yellow, green)
	dumpField("    read_timeout", cfg.Storage.Redis.ReadTimeout, defaultCfg.Storage.Redis.ReadTimeout, yellow, green)
	dumpField("    write_timeout", cfg.Storage.Redis.WriteTimeout, defaultCfg.Storage.Redis.WriteTimeout, yellow, green)

	// Logging
	_, _ = cyan.Println("\n[logging]")
	dumpField("  level", cfg.Logging.Level, defaultCfg.Logging.Level, yellow, green)
	dumpField("  format", cfg.Logging.Format, defaultCfg.Logging.Format, yellow, green)

	// Auth
	_, _ = cyan.Println("\n[auth]")
	dumpField("  jwt_secret", redactSecret(cfg.Auth.JWTSecret), redactSecret(defaultCfg.Auth.JWTSecret), yellow, green)
	dumpField("  token_ttl", cfg.Auth.TokenTTL, defaultCfg.Auth.TokenTTL, yellow, green)
	dumpField("  bcrypt_cost", cfg.Auth.BcryptCost, defaultCfg.Auth.BcryptCost, yellow, green)
	dumpField("  admin_setup_key", redactSecret(cfg.Auth.AdminSetupKey), redactSecret(defaultCfg.Auth.AdminSetupKey), yellow, green)
	dumpField("  blacklist_cache_size", cfg.Auth.BlacklistCacheSize, defaultCfg.Auth.BlacklistCacheSize, yellow, green)

	// Rate limits
	_, _ = cyan.Println("\n[rate_limit]")
	dumpField("  enabled", cfg.RateLimit.Enabled, defaultCfg.RateLimit.Enabled, yellow, green)
	dumpField("  window", cfg.RateLimit.Window, defaultCfg.RateLimit.Window, yellow, green)
	dumpField("  general", cfg.RateLimit.General, defaultCfg.RateLimit.General, yellow, green)
	dumpField("  upload", cfg.RateLimit.Upload, defaultCfg.RateLimit.Upload, yellow, green)
	dumpField("  admin", cfg.RateLimit.Admin, defaultCfg.RateLimit.Admin, yellow, green)

	// Firmware
	_, _ = cyan.Println("\n[firmware]")
	dumpField("  bucket", cfg.Firmware.Bucket, defaultCfg.Firmware.Bucket, yellow, green)
	dumpField("  region", cfg.Firmware.Region, defaultCfg.Firmware.Region, yellow, green)
	dumpField("  endpoint", cfg.Firmware.Endpoint, defaultCfg.Firmware.Endpoint, yellow, green)
	dumpField("  access_key", redactSecret(cfg.Firmware.AccessKey), redactSecret(defaultCfg.Firmware.AccessKey), yellow, green)
	dumpField("  secret_key", redactSecret(cfg.Firmware.SecretKey), redactSecret(defaultCfg.Firmware.SecretKey), yellow, green)
	dumpField("  upload_url_ttl", cfg.Firmware.UploadURLTTL, defaultCfg.Firmware.UploadURLTTL, yellow, green)
	dumpField("  download_url_ttl", cfg.Firmware.DownloadURLTTL, defaultCfg.Firmware.DownloadURLTTL, yellow, green)

	// Aggregates
	_, _ = cyan.Println("\n[aggregates]")
	dumpField("  sweep_enabled", cfg.Aggregates.SweepEnabled, defaultCfg.Aggregates.SweepEnabled, yellow, green)
	dumpField("  sweep_time", cfg.Aggregates.SweepTime, defaultCfg.Aggregates.SweepTime, yellow, green)
	dumpField("  sweep_lookback_days", cfg.Aggregates.SweepLookbackDays, defaultCfg.Aggregates.SweepLookbackDays, yellow, green)

	// Display unknown keys if any
	if len(unknownKeys) > 0 {
		red := color.New(color.FgRed, color.Bold)

		_, _ = cyan.Println("\n[UNKNOWN KEYS - These will be ignored!]")
		for _, key := range unknownKeys {
			_, _ = red.Printf("  %s = (unknown key - check for typos)\n", key)
		}
	}

	_, _ = fmt.Fprintln(os.Stdout, "\n"+strings.Repeat("=", 80))
}

// dumpField prints a field with color if it differs from default
func dumpField(name string, value, defaultValue interface{}, modifiedColor, defaultColor *color.Color) {
	isDefault := reflect.DeepEqual(value, defaultValue)

	valueStr := fmt.Sprintf("%v", value)

	if isDefault {
		_, _ = defaultColor.Printf("%s = %s\n", name, valueStr)
	} else {
		_, _ = modifiedColor.Printf("%s = %s  (modified from default: %v)\n", name, valueStr, defaultValue)
	}
}

// redactSecret redacts a secret if not empty
func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	return "***REDACTED***"
}

// redactURL hides the password of a connection URL.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	creds, host, ok := strings.Cut(rest, "@")
	if !ok {
		return raw
	}
	if user, _, hasPass := strings.Cut(creds, ":"); hasPass {
		return scheme + "://" + user + ":***REDACTED***@" + host
	}
	return raw
}
