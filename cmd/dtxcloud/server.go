package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goodtune/dtxcloud/internal/artifacts"
	"github.com/goodtune/dtxcloud/internal/audit"
	"github.com/goodtune/dtxcloud/internal/auth"
	"github.com/goodtune/dtxcloud/internal/besteffort"
	"github.com/goodtune/dtxcloud/internal/clock"
	"github.com/goodtune/dtxcloud/internal/config"
	"github.com/goodtune/dtxcloud/internal/metrics"
	"github.com/goodtune/dtxcloud/internal/ratelimit"
	"github.com/goodtune/dtxcloud/internal/rollout"
	"github.com/goodtune/dtxcloud/internal/server"
	"github.com/goodtune/dtxcloud/internal/sessions"
	"github.com/goodtune/dtxcloud/internal/stats"
	"github.com/goodtune/dtxcloud/internal/storage"
	"github.com/goodtune/dtxcloud/internal/storage/memory"
	"github.com/goodtune/dtxcloud/internal/storage/postgres"
	"github.com/goodtune/dtxcloud/internal/storage/redis"
	"github.com/goodtune/dtxcloud/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start dtxcloud server",
	Long:  `Start the dtxcloud REST API, the metrics endpoint and, when enabled, the daily aggregate sweep.`,
	RunE:  runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting dtxcloud")

	ctx := context.Background()
	clk := clock.RealClock{}

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().Str("type", cfg.Storage.Type).Msg("Storage initialized")

	// Rate limiter and token blacklist live in Redis when it is enabled so
	// that every replica shares them.
	blacklistSize := cfg.Auth.BlacklistCacheSize
	if blacklistSize <= 0 {
		blacklistSize = 10000
	}
	window := parseDuration(cfg.RateLimit.Window, time.Minute)

	var (
		limiter   ratelimit.Limiter = ratelimit.NewLocal(blacklistSize, window, clk)
		blacklist auth.Blacklist    = auth.NewLocalBlacklist(blacklistSize, 24*time.Hour, clk)
	)
	if cfg.Storage.Redis.Enabled {
		cache, err := redis.Open(cfg.Storage.Redis)
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close redis")
			}
		}()

		limiter = cache.RateLimiter(clk)
		blacklist = cache.Blacklist()

		logger.Info().
			Str("redis_host", cfg.Storage.Redis.Host).
			Int("redis_port", cfg.Storage.Redis.Port).
			Msg("Redis rate limiter and token blacklist initialized")
	}

	runner := besteffort.New(logger)

	authService, err := auth.NewService(store.Users(), blacklist, runner, clk, cfg.Auth, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}

	signer, err := artifacts.New(ctx, cfg.Firmware, clk)
	if err != nil {
		return fmt.Errorf("failed to initialize firmware storage: %w", err)
	}
	if cfg.Firmware.Bucket == "" {
		logger.Warn().Msg("Firmware bucket not configured, upload URLs are disabled")
	}

	recomputer := stats.NewRecomputer(store.Sessions(), store.Stats(), clk, logger)

	services := server.Services{
		Store:      store,
		Auth:       authService,
		Limiter:    limiter,
		Reconciler: sessions.NewReconciler(store.Devices(), store.Sessions(), recomputer, runner, clk, logger),
		Recomputer: recomputer,
		Checker:    rollout.NewChecker(store.Firmware(), store.Rollouts(), logger),
		Analytics:  stats.NewAnalytics(store, clk),
		Recorder:   audit.NewRecorder(store.AdminLogs(), runner, clk, logger),
		Signer:     signer,
		Runner:     runner,
		Clock:      clk,
	}

	serverConfig := server.Config{
		ListenAddr:     fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.HTTPPort),
		ReadTimeout:    parseDuration(cfg.Server.ReadTimeout, 15*time.Second),
		WriteTimeout:   parseDuration(cfg.Server.WriteTimeout, 15*time.Second),
		IdleTimeout:    parseDuration(cfg.Server.IdleTimeout, 60*time.Second),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AdminSetupKey:  cfg.Auth.AdminSetupKey,
	}
	if cfg.RateLimit.Enabled {
		policy, err := ratelimit.NewPolicy(cfg.RateLimit)
		if err != nil {
			return fmt.Errorf("failed to initialize rate limiting: %w", err)
		}
		serverConfig.RateLimit = &policy
	}

	// Initialize API Server
	apiServer := server.NewServer(serverConfig, services, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.HTTP != nil {
		apiServer.SetListener(sdListeners.HTTP)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API Server: %w", err)
	}

	logger.Info().
		Str("addr", serverConfig.ListenAddr).
		Bool("rate_limit", cfg.RateLimit.Enabled).
		Msg("API Server started")

	// Initialize Aggregate Sweeper (if enabled)
	var sweeper *stats.Sweeper
	if cfg.Aggregates.SweepEnabled {
		sweeper, err = stats.NewSweeper(store.Sessions(), recomputer, clk, cfg.Aggregates.SweepTime, cfg.Aggregates.SweepLookbackDays, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize aggregate sweeper: %w", err)
		}
		sweeper.Start()
	}

	// Initialize Metrics Server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	// Use systemd socket-activated listener if available
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start Metrics Server: %w", err)
	}

	logger.Info().
		Str("addr", metricsAddr).
		Msg("Metrics Server started")

	// Log startup complete
	logger.Info().Msg("dtxcloud startup complete")
	logger.Info().Msgf("API: http://%s", serverConfig.ListenAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	} else {
		logger.Debug().Msg("Sent systemd ready notification")
	}

	stopWatchdog := startWatchdog(logger)

	// Wait for signals (shutdown or reload)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	// Signal handling loop
	for {
		sig := <-sigChan

		switch sig {
		case syscall.SIGHUP:
			logger.Info().Msg("SIGHUP received, reloading log level...")
			reloaded, err := config.Load(configPath)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to reload configuration")
				continue
			}
			zerolog.SetGlobalLevel(parseLevel(reloaded.Logging.Level))
			logger.Info().Str("level", reloaded.Logging.Level).Msg("Log level reloaded")
			// Continue running
			continue

		case os.Interrupt, syscall.SIGTERM:
			logger.Info().Msg("Shutdown signal received, gracefully stopping...")
			// Break out of loop to shutdown
		}

		// Only reached on shutdown signals
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}
	close(stopWatchdog)

	if sweeper != nil {
		sweeper.Stop()
	}

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API Server")
	}

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping Metrics Server")
	}

	logger.Info().Msg("dtxcloud stopped")

	return nil
}

// startWatchdog pings the systemd watchdog until the returned channel is
// closed. It does nothing when the unit has no WatchdogSec.
func startWatchdog(logger zerolog.Logger) chan struct{} {
	stop := make(chan struct{})
	interval := systemd.WatchdogInterval()
	if interval <= 0 {
		return stop
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := systemd.NotifyWatchdog(); err != nil {
					logger.Warn().Err(err).Msg("Failed to send systemd watchdog notification")
				}
			case <-stop:
				return
			}
		}
	}()

	logger.Debug().Dur("interval", interval).Msg("Systemd watchdog enabled")
	return stop
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "postgres":
		return postgres.Open(ctx, cfg.Postgres)
	case "memory":
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (expected 'postgres' or 'memory')", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	// Set output format
	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
