package config

import (
	"fmt"
	"time"
)

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

func (s *ServerConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Database        string `mapstructure:"database"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.Username, d.Password, d.Host, d.Port, d.Database)
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r *RedisConfig) GetAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// SessionConfig tunes the reconnect engine. The backoff and attempt caps are
// configurable defaults, not fixed contracts; production values should be
// confirmed against the remote service's own rate limits.
type SessionConfig struct {
	BackoffInitialSeconds int `mapstructure:"backoff_initial_seconds"`
	BackoffCapSeconds     int `mapstructure:"backoff_cap_seconds"`
	MaxReconnectAttempts  int `mapstructure:"max_reconnect_attempts"`

	ReconnectConcurrency int `mapstructure:"reconnect_concurrency"`
	StaggerMillis        int `mapstructure:"stagger_millis"`
	StabilizationMillis  int `mapstructure:"stabilization_millis"`

	BreakerThreshold       int `mapstructure:"breaker_threshold"`
	BreakerCooldownSeconds int `mapstructure:"breaker_cooldown_seconds"`

	LockTTLSeconds        int `mapstructure:"lock_ttl_seconds"`
	AttemptTimeoutSeconds int `mapstructure:"attempt_timeout_seconds"`
	ShutdownGraceSeconds  int `mapstructure:"shutdown_grace_seconds"`

	HeartbeatStaleSeconds int `mapstructure:"heartbeat_stale_seconds"`
	AttemptWarnThreshold  int `mapstructure:"attempt_warn_threshold"`

	EventRetentionDays int `mapstructure:"event_retention_days"`
}

func (s *SessionConfig) BackoffInitial() time.Duration {
	return time.Duration(s.BackoffInitialSeconds) * time.Second
}

func (s *SessionConfig) LockTTL() time.Duration {
	return time.Duration(s.LockTTLSeconds) * time.Second
}

func (s *SessionConfig) AttemptTimeout() time.Duration {
	return time.Duration(s.AttemptTimeoutSeconds) * time.Second
}

func (s *SessionConfig) BreakerCooldown() time.Duration {
	return time.Duration(s.BreakerCooldownSeconds) * time.Second
}

func (s *SessionConfig) Stagger() time.Duration {
	return time.Duration(s.StaggerMillis) * time.Millisecond
}

func (s *SessionConfig) Stabilization() time.Duration {
	return time.Duration(s.StabilizationMillis) * time.Millisecond
}

func (s *SessionConfig) ShutdownGrace() time.Duration {
	return time.Duration(s.ShutdownGraceSeconds) * time.Second
}

func (s *SessionConfig) HeartbeatStale() time.Duration {
	return time.Duration(s.HeartbeatStaleSeconds) * time.Second
}

// RecoveryConfig controls backup retention and the filesystem fallbacks used
// when the primary store is corrupt or unreachable.
type RecoveryConfig struct {
	BackupKeep           int    `mapstructure:"backup_keep"`
	SnapshotDir          string `mapstructure:"snapshot_dir"`
	OutageQueueDir       string `mapstructure:"outage_queue_dir"`
	CredentialMaxAgeDays int    `mapstructure:"credential_max_age_days"`
}

// BridgeConfig points at the WhatsApp bridge sidecar that owns the actual
// browser automation.
type BridgeConfig struct {
	BaseURL               string `mapstructure:"base_url"`
	PollIntervalMillis    int    `mapstructure:"poll_interval_millis"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

func (b *BridgeConfig) PollInterval() time.Duration {
	return time.Duration(b.PollIntervalMillis) * time.Millisecond
}

func (b *BridgeConfig) RequestTimeout() time.Duration {
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}
