// Package config holds the bridge's layered configuration: defaults,
// YAML file, BRIDGE_* environment variables, and CLI flag overrides, bound
// through viper and validated with go-playground/validator plus a
// handwritten cross-field pass.
package config

import "time"

// Config is the full, validated configuration snapshot.
type Config struct {
	Server  ServerConfig  `mapstructure:"server" validate:"required"`
	Ue      UeConfig      `mapstructure:"ue" validate:"required"`
	Request RequestConfig `mapstructure:"request" validate:"required"`
	Catalog CatalogConfig `mapstructure:"catalog" validate:"required"`
	Retry   RetryConfig   `mapstructure:"retry" validate:"required"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Debug   DebugConfig   `mapstructure:"debug_http"`
}

// ServerConfig controls ambient logging behavior.
type ServerConfig struct {
	LogLevel string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	JSONLogs bool   `mapstructure:"json_logs"`
	DevMode  bool   `mapstructure:"dev_mode"`
}

// UeConfig describes the downstream WebSocket peer and connection tuning.
type UeConfig struct {
	WsURL               string        `mapstructure:"ws_url" validate:"required"`
	ConnectionFile      string        `mapstructure:"connection_file"`
	ProjectRoot         string        `mapstructure:"project_root"`
	ConnectTimeoutS     float64       `mapstructure:"connect_timeout_s" validate:"gt=0"`
	PingIntervalS       float64       `mapstructure:"ping_interval_s" validate:"gt=0"`
	ExpectedInstanceID  string        `mapstructure:"expected_instance_id"`
	ExpectedProcessID   string        `mapstructure:"expected_process_id"`
	ExpectedProjectDir  string        `mapstructure:"expected_project_dir"`
	Reconnect           ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig tunes the transport's doubling backoff.
type ReconnectConfig struct {
	InitialDelayS float64 `mapstructure:"initial_delay_s" validate:"gt=0"`
	MaxDelayS     float64 `mapstructure:"max_delay_s" validate:"gt=0"`
}

// RequestConfig tunes the request broker.
type RequestConfig struct {
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms" validate:"gt=0"`
}

// CatalogConfig tunes Tool Catalog refresh and the catalog guard.
type CatalogConfig struct {
	IncludeSchemas     bool     `mapstructure:"include_schemas"`
	RefreshIntervalS   float64  `mapstructure:"refresh_interval_s" validate:"gte=0"`
	RequiredTools      []string `mapstructure:"required_tools"`
	PinSchemaHash      string   `mapstructure:"pin_schema_hash"`
	FailOnSchemaChange bool     `mapstructure:"fail_on_schema_change"`
	GuardExpr          string   `mapstructure:"guard_expr"`
}

// RetryConfig tunes the Pass-Through Engine's bounded retry.
type RetryConfig struct {
	TransientMaxAttempts int     `mapstructure:"transient_max_attempts" validate:"gte=1"`
	BackoffInitialS      float64 `mapstructure:"backoff_initial_s" validate:"gt=0"`
	BackoffMaxS          float64 `mapstructure:"backoff_max_s" validate:"gt=0"`
}

// MetricsConfig tunes the Prometheus/otel/log-summary ambient stack.
type MetricsConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	LogIntervalS   float64 `mapstructure:"log_interval_s" validate:"gte=0"`
	PrometheusAddr string  `mapstructure:"prometheus_addr"`
	OtelEnabled    bool    `mapstructure:"otel_enabled"`
}

// AuditConfig tunes the SQLite-backed audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// DebugConfig tunes the optional localhost debug HTTP endpoint.
type DebugConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	HashedSecret string `mapstructure:"hashed_secret"`
}

// ConnectTimeout returns UeConfig.ConnectTimeoutS as a time.Duration.
func (u UeConfig) ConnectTimeout() time.Duration {
	return time.Duration(u.ConnectTimeoutS * float64(time.Second))
}

// PingInterval returns UeConfig.PingIntervalS as a time.Duration.
func (u UeConfig) PingInterval() time.Duration {
	return time.Duration(u.PingIntervalS * float64(time.Second))
}

// InitialDelay returns ReconnectConfig.InitialDelayS as a time.Duration.
func (r ReconnectConfig) InitialDelay() time.Duration {
	return time.Duration(r.InitialDelayS * float64(time.Second))
}

// MaxDelay returns ReconnectConfig.MaxDelayS as a time.Duration.
func (r ReconnectConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayS * float64(time.Second))
}

// Defaults mirrors the original implementation's dataclass defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{LogLevel: "info"},
		Ue: UeConfig{
			WsURL:           "ws://127.0.0.1:19090",
			ConnectTimeoutS: 10.0,
			PingIntervalS:   10.0,
			Reconnect:       ReconnectConfig{InitialDelayS: 0.5, MaxDelayS: 10.0},
		},
		Request: RequestConfig{DefaultTimeoutMs: 30_000},
		Catalog: CatalogConfig{IncludeSchemas: true, RefreshIntervalS: 60.0},
		Retry:   RetryConfig{TransientMaxAttempts: 2, BackoffInitialS: 0.2, BackoffMaxS: 1.0},
		Metrics: MetricsConfig{Enabled: true, LogIntervalS: 30.0, PrometheusAddr: "127.0.0.1:9090"},
		Audit:   AuditConfig{Enabled: false, DBPath: "bridge-audit.db"},
		Debug:   DebugConfig{Enabled: false, Addr: "127.0.0.1:9091"},
	}
}
