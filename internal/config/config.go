package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Retention RetentionConfig `mapstructure:"retention"`
}

// ServerConfig defines server ports and addresses.
type ServerConfig struct {
	APIPort     int    `mapstructure:"api_port"`
	MetricsPort int    `mapstructure:"metrics_port"`
	BindAddress string `mapstructure:"bind_address"`
}

// StorageConfig defines storage backend settings.
type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	Path  string      `mapstructure:"path"`
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines Redis connection settings.
type RedisConfig struct {
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

// LoggingConfig defines logging behavior.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SessionsConfig defines session tracking settings.
type SessionsConfig struct {
	UserTimeout        string `mapstructure:"user_timeout"`
	ChartTimeout       string `mapstructure:"chart_timeout"`
	MinSessionDuration string `mapstructure:"min_session_duration"`
	PersistDebounce    string `mapstructure:"persist_debounce"`
	PersistThrottle    string `mapstructure:"persist_throttle"`
	EndedKeyCacheSize  int    `mapstructure:"ended_key_cache_size"`
}

// RetentionConfig defines cleanup of old log and usage rows.
type RetentionConfig struct {
	LogRetentionDays   int    `mapstructure:"log_retention_days"`
	UsageRetentionDays int    `mapstructure:"usage_retention_days"`
	SweepInterval      string `mapstructure:"sweep_interval"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("SESSIOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns a configuration carrying only the default values.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.api_port", 8470)
	v.SetDefault("server.metrics_port", 9090)
	v.SetDefault("server.bind_address", "0.0.0.0")

	// Storage defaults
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.path", "/var/lib/sessiond/sessiond.bolt")
	v.SetDefault("storage.redis.host", "127.0.0.1")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Session tracking defaults
	v.SetDefault("sessions.user_timeout", "180s")
	v.SetDefault("sessions.chart_timeout", "60s")
	v.SetDefault("sessions.min_session_duration", "1s")
	v.SetDefault("sessions.persist_debounce", "300ms")
	v.SetDefault("sessions.persist_throttle", "5s")
	v.SetDefault("sessions.ended_key_cache_size", 256)

	// Retention defaults
	v.SetDefault("retention.log_retention_days", 90)
	v.SetDefault("retention.usage_retention_days", 90)
	v.SetDefault("retention.sweep_interval", "1h")
}

// validate validates the configuration.
func validate(cfg *Config) error {
	if cfg.Server.APIPort <= 0 || cfg.Server.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", cfg.Server.APIPort)
	}
	if cfg.Server.MetricsPort <= 0 || cfg.Server.MetricsPort > 65535 {
		return fmt.Errorf("invalid metrics port: %d", cfg.Server.MetricsPort)
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required for bolt storage")
		}
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("redis host is required for redis storage")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s (must be 'bolt' or 'redis')", cfg.Storage.Type)
	}

	for name, value := range map[string]string{
		"sessions.user_timeout":         cfg.Sessions.UserTimeout,
		"sessions.chart_timeout":        cfg.Sessions.ChartTimeout,
		"sessions.min_session_duration": cfg.Sessions.MinSessionDuration,
		"sessions.persist_debounce":     cfg.Sessions.PersistDebounce,
		"sessions.persist_throttle":     cfg.Sessions.PersistThrottle,
		"retention.sweep_interval":      cfg.Retention.SweepInterval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", name, err)
		}
	}

	return nil
}
