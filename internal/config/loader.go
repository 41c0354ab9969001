// Package config provides configuration management for the repro pipeline.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. REPRO_DRIFT_ON_DRIFT.
const EnvPrefix = "REPRO"

// DefaultConfigPath is used when no path is given.
const DefaultConfigPath = "config/repro.yaml"

// Load reads and parses the configuration from file and environment variables
// It expands environment variable placeholders in the YAML file (${VAR_NAME})
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found at %s: %w", configPath, err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v := newViper()
	if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration with default values for optional fields.
// A missing file is not an error: defaults and environment variables apply.
func LoadWithDefaults(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = DefaultConfigPath
	}

	v := newViper()
	SetDefaults(v)

	if data, err := os.ReadFile(configPath); err == nil {
		if err := v.ReadConfig(bytes.NewBufferString(os.ExpandEnv(string(data)))); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	return cfg, nil
}

// SetDefaults registers the default for every key, which also makes each key
// overridable from the environment.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "repro")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "")

	v.SetDefault("pipeline.base_dir", ".")
	v.SetDefault("pipeline.scope_roots", []string{"src/", "data/"})
	v.SetDefault("pipeline.exclude", []string{".manifests", "results"})

	v.SetDefault("manifest.store_dir", ".manifests")

	v.SetDefault("drift.on_drift", "fail")
	v.SetDefault("drift.fail_on_added", false)

	v.SetDefault("orchestrator.workers", 4)
	v.SetDefault("orchestrator.call_timeout", "5m")
	v.SetDefault("orchestrator.fail_on_pair_error", false)
	v.SetDefault("orchestrator.report_path", "")

	v.SetDefault("results.driver", "sqlite")
	v.SetDefault("results.sqlite_path", "results/results.db")
	v.SetDefault("results.overwrite", false)

	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "")
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 4)

	v.SetDefault("engine.kind", "sma_cross")
	v.SetDefault("engine.url", "")
	v.SetDefault("engine.api_token", "")
	v.SetDefault("engine.requests_per_second", 10.0)
	v.SetDefault("engine.retry_max", 3)
	v.SetDefault("engine.timeout", "30s")
	v.SetDefault("engine.initial_cash", 100000.0)
	v.SetDefault("engine.commission", 0.0)
	v.SetDefault("engine.slippage", 0.0)

	v.SetDefault("inputs.strategies", []string{"src/strategies"})
	v.SetDefault("inputs.series", []string{"data"})
	v.SetDefault("inputs.start_date", "")
	v.SetDefault("inputs.end_date", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("watch.schedule", "@every 10m")

	v.SetDefault("secrets.enabled", false)
	v.SetDefault("secrets.region", "")
	v.SetDefault("secrets.secret_name", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	return v
}
