package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/kmetric/sessiond/internal/api"
	"github.com/kmetric/sessiond/internal/config"
	"github.com/kmetric/sessiond/internal/metrics"
	"github.com/kmetric/sessiond/internal/retention"
	"github.com/kmetric/sessiond/internal/session"
	"github.com/kmetric/sessiond/internal/storage"
	"github.com/kmetric/sessiond/internal/storage/bolt"
	"github.com/kmetric/sessiond/internal/storage/redis"
	"github.com/kmetric/sessiond/internal/systemd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the sessiond server",
	Long:  `Start the sessiond server with the activity API, session tracking, and metrics endpoints.`,
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
		Msg("Starting sessiond")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		return fmt.Errorf("failed to get systemd listeners: %w", err)
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	// Initialize storage
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	clock := quartz.NewReal()
	ctx := context.Background()

	// Daily usage aggregator is shared by both session managers
	daily := session.NewDailyUsage(store.Usage(), logger)

	userManager, err := session.NewManager(store, daily, clock, session.ManagerConfig{
		Type:               session.TypeUser,
		DefaultTimeout:     parseDuration(cfg.Sessions.UserTimeout, session.DefaultUserTimeout),
		MinSessionDuration: parseDuration(cfg.Sessions.MinSessionDuration, session.DefaultMinSessionDuration),
		PersistDebounce:    parseDuration(cfg.Sessions.PersistDebounce, session.DefaultPersistDebounce),
		PersistThrottle:    parseDuration(cfg.Sessions.PersistThrottle, session.DefaultPersistThrottle),
		EndedKeyCacheSize:  cfg.Sessions.EndedKeyCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create user session manager: %w", err)
	}

	chartManager, err := session.NewManager(store, daily, clock, session.ManagerConfig{
		Type:               session.TypeChart,
		DefaultTimeout:     parseDuration(cfg.Sessions.ChartTimeout, session.DefaultChartTimeout),
		MinSessionDuration: parseDuration(cfg.Sessions.MinSessionDuration, session.DefaultMinSessionDuration),
		PersistDebounce:    parseDuration(cfg.Sessions.PersistDebounce, session.DefaultPersistDebounce),
		PersistThrottle:    parseDuration(cfg.Sessions.PersistThrottle, session.DefaultPersistThrottle),
		EndedKeyCacheSize:  cfg.Sessions.EndedKeyCacheSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create chart session manager: %w", err)
	}

	// Initialization closes out whatever sessions the previous run left
	// behind before any new events are accepted.
	if err := userManager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize user session manager: %w", err)
	}
	if err := chartManager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize chart session manager: %w", err)
	}

	logger.Info().Msg("Session managers initialized")

	// Retention sweeper
	sweeper := retention.NewSweeper(retention.Config{
		LogRetentionDays:   cfg.Retention.LogRetentionDays,
		UsageRetentionDays: cfg.Retention.UsageRetentionDays,
		SweepInterval:      parseDuration(cfg.Retention.SweepInterval, time.Hour),
	}, store.Logs(), store.Usage(), clock, logger)
	sweeper.Start()

	// API server
	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(api.Config{ListenAddr: apiAddr}, store, userManager, chartManager, clock, logger)

	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}

	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	logger.Info().Str("addr", apiAddr).Msg("API server started")

	// Metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)

	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}

	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Str("addr", metricsAddr).Msg("Metrics server started")

	logger.Info().Msg("sessiond startup complete")
	logger.Info().Msgf("API: http://%s/api", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info().Str("signal", sig.String()).Msg("Shutdown signal received, gracefully stopping...")

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	// Stop accepting new events first, then flush session state. The live
	// sessions stay persisted so the next start can close them out.
	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}

	sweeper.Stop()

	userManager.Shutdown(ctx)
	chartManager.Shutdown(ctx)

	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("sessiond stopped")

	return nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "bolt", "":
		return bolt.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s (must be 'bolt' or 'redis')", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	if cfg.Format == "text" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// parseDuration parses a duration string with a fallback
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
