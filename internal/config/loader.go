package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "BRIDGE"

// findConfigFile searches the current directory then $HOME/.ue-mcp-bridge
// for bridge.yaml/bridge.yml, requiring the extension so the search never
// matches the binary itself.
func findConfigFile() string {
	candidates := []string{"bridge.yaml", "bridge.yml"}
	dirs := []string{"."}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".ue-mcp-bridge"))
	}
	for _, dir := range dirs {
		for _, name := range candidates {
			p := filepath.Join(dir, name)
			if _, err := os.Stat(p); err == nil {
				return p
			}
		}
	}
	return ""
}

// InitViper wires up a viper instance per the flags>env>file>defaults
// precedence and binds every scalar field to a BRIDGE_* env var.
func InitViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		v.SetConfigFile(found)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	bindNestedEnvKeys(v)

	return v
}

// bindNestedEnvKeys explicitly binds every scalar config field so
// AutomaticEnv also works for keys not yet present in a loaded file.
func bindNestedEnvKeys(v *viper.Viper) {
	keys := []string{
		"server.log_level", "server.json_logs", "server.dev_mode",
		"ue.ws_url", "ue.connection_file", "ue.project_root",
		"ue.connect_timeout_s", "ue.ping_interval_s",
		"ue.expected_instance_id", "ue.expected_process_id", "ue.expected_project_dir",
		"ue.reconnect.initial_delay_s", "ue.reconnect.max_delay_s",
		"request.default_timeout_ms",
		"catalog.include_schemas", "catalog.refresh_interval_s",
		"catalog.pin_schema_hash", "catalog.fail_on_schema_change", "catalog.guard_expr",
		"retry.transient_max_attempts", "retry.backoff_initial_s", "retry.backoff_max_s",
		"metrics.enabled", "metrics.log_interval_s", "metrics.prometheus_addr", "metrics.otel_enabled",
		"audit.enabled", "audit.db_path",
		"debug_http.enabled", "debug_http.addr", "debug_http.hashed_secret",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}

// Load reads the config file (tolerating its absence), merges in defaults
// for anything unset, and validates the result.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("config: read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}

	applyZeroDefaults(&cfg, v)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyZeroDefaults fills fields left at their Go zero value. The log
// level, ws_url, refresh interval, include_schemas, metrics.enabled and
// metrics log interval are only filled when viper reports them unset, so an
// explicit false or 0 there survives; every other field here is filled
// whenever it is zero or empty, whether or not it was set explicitly.
func applyZeroDefaults(cfg *Config, v *viper.Viper) {
	defaults := Defaults()
	if !v.IsSet("server.log_level") && cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = defaults.Server.LogLevel
	}
	if !v.IsSet("ue.ws_url") && cfg.Ue.WsURL == "" {
		cfg.Ue.WsURL = defaults.Ue.WsURL
	}
	if cfg.Ue.ConnectTimeoutS == 0 {
		cfg.Ue.ConnectTimeoutS = defaults.Ue.ConnectTimeoutS
	}
	if cfg.Ue.PingIntervalS == 0 {
		cfg.Ue.PingIntervalS = defaults.Ue.PingIntervalS
	}
	if cfg.Ue.Reconnect.InitialDelayS == 0 {
		cfg.Ue.Reconnect.InitialDelayS = defaults.Ue.Reconnect.InitialDelayS
	}
	if cfg.Ue.Reconnect.MaxDelayS == 0 {
		cfg.Ue.Reconnect.MaxDelayS = defaults.Ue.Reconnect.MaxDelayS
	}
	if cfg.Request.DefaultTimeoutMs == 0 {
		cfg.Request.DefaultTimeoutMs = defaults.Request.DefaultTimeoutMs
	}
	if !v.IsSet("catalog.refresh_interval_s") {
		cfg.Catalog.RefreshIntervalS = defaults.Catalog.RefreshIntervalS
	}
	if !v.IsSet("catalog.include_schemas") {
		cfg.Catalog.IncludeSchemas = defaults.Catalog.IncludeSchemas
	}
	if cfg.Retry.TransientMaxAttempts == 0 {
		cfg.Retry.TransientMaxAttempts = defaults.Retry.TransientMaxAttempts
	}
	if cfg.Retry.BackoffInitialS == 0 {
		cfg.Retry.BackoffInitialS = defaults.Retry.BackoffInitialS
	}
	if cfg.Retry.BackoffMaxS == 0 {
		cfg.Retry.BackoffMaxS = defaults.Retry.BackoffMaxS
	}
	if !v.IsSet("metrics.enabled") {
		cfg.Metrics.Enabled = defaults.Metrics.Enabled
	}
	if !v.IsSet("metrics.log_interval_s") {
		cfg.Metrics.LogIntervalS = defaults.Metrics.LogIntervalS
	}
	if cfg.Metrics.PrometheusAddr == "" {
		cfg.Metrics.PrometheusAddr = defaults.Metrics.PrometheusAddr
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = defaults.Audit.DBPath
	}
	if cfg.Debug.Addr == "" {
		cfg.Debug.Addr = defaults.Debug.Addr
	}
}

// ConfigFileUsed reports which file, if any, viper actually read.
func ConfigFileUsed(v *viper.Viper) string { return v.ConfigFileUsed() }
