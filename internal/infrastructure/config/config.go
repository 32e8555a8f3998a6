package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/spf13/viper"

	sharedConfig "github.com/wakeeper/wakeeper/internal/shared/config"
)

type Config struct {
	Server   sharedConfig.ServerConfig   `mapstructure:"server"`
	Database sharedConfig.DatabaseConfig `mapstructure:"database"`
	Logger   sharedConfig.LoggerConfig   `mapstructure:"logger"`
	Redis    sharedConfig.RedisConfig    `mapstructure:"redis"`
	Session  sharedConfig.SessionConfig  `mapstructure:"session"`
	Recovery sharedConfig.RecoveryConfig `mapstructure:"recovery"`
	Bridge   sharedConfig.BridgeConfig   `mapstructure:"bridge"`
}

var (
	appConfig   *Config
	appConfigMu sync.RWMutex
)

// Load loads configuration from file and environment variables
func Load(env string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../configs")
	viper.AddConfigPath("../../configs")

	viper.SetEnvPrefix("WAKEEPER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// Defaults plus environment variables are a complete configuration;
		// a missing file is only fatal when a file was explicitly expected.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if env != "" && env != "default" {
		viper.Set("server.mode", env)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	appConfigMu.Lock()
	appConfig = &config
	appConfigMu.Unlock()

	return &config, nil
}

// Get returns the loaded configuration
func Get() *Config {
	appConfigMu.RLock()
	defer appConfigMu.RUnlock()
	return appConfig
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "debug")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 3306)
	viper.SetDefault("database.username", "root")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.database", "wakeeper_dev")
	viper.SetDefault("database.max_idle_conns", 10)
	viper.SetDefault("database.max_open_conns", 100)
	viper.SetDefault("database.conn_max_lifetime", 60)

	// Logger defaults
	viper.SetDefault("logger.level", "info")
	viper.SetDefault("logger.format", "console")
	viper.SetDefault("logger.output_path", "stdout")

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Session engine defaults. These mirror the audited reference values;
	// tune them against the remote service's real rate limits.
	viper.SetDefault("session.backoff_initial_seconds", 5)
	viper.SetDefault("session.backoff_cap_seconds", 300)
	viper.SetDefault("session.max_reconnect_attempts", 10)
	viper.SetDefault("session.reconnect_concurrency", 3)
	viper.SetDefault("session.stagger_millis", 1000)
	viper.SetDefault("session.stabilization_millis", 2000)
	viper.SetDefault("session.breaker_threshold", 5)
	viper.SetDefault("session.breaker_cooldown_seconds", 60)
	viper.SetDefault("session.lock_ttl_seconds", 90)
	viper.SetDefault("session.attempt_timeout_seconds", 120)
	viper.SetDefault("session.shutdown_grace_seconds", 15)
	viper.SetDefault("session.heartbeat_stale_seconds", 60)
	viper.SetDefault("session.attempt_warn_threshold", 8)
	viper.SetDefault("session.event_retention_days", 30)

	// Recovery defaults
	viper.SetDefault("recovery.backup_keep", 5)
	viper.SetDefault("recovery.snapshot_dir", "./data/session-snapshots")
	viper.SetDefault("recovery.outage_queue_dir", "./data/outage-queue")
	viper.SetDefault("recovery.credential_max_age_days", 30)

	// Bridge defaults
	viper.SetDefault("bridge.base_url", "http://localhost:3001")
	viper.SetDefault("bridge.poll_interval_millis", 5000)
	viper.SetDefault("bridge.request_timeout_seconds", 30)
}
