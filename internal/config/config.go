// Package config provides configuration management for the repro pipeline.
package config

import (
	"fmt"
	"time"

	"github.com/yourusername/repro-backtest/internal/models"
)

const dateLayout = "2006-01-02"

// Config represents the complete application configuration
type Config struct {
	App          AppConfig          `mapstructure:"app" validate:"required"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline" validate:"required"`
	Manifest     ManifestConfig     `mapstructure:"manifest" validate:"required"`
	Drift        DriftConfig        `mapstructure:"drift" validate:"required"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" validate:"required"`
	Results      ResultsConfig      `mapstructure:"results" validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Engine       EngineConfig       `mapstructure:"engine" validate:"required"`
	Inputs       InputsConfig       `mapstructure:"inputs"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Watch        WatchConfig        `mapstructure:"watch"`
	Secrets      SecretsConfig      `mapstructure:"secrets"`
}

// AppConfig represents application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name" validate:"required"`
	Environment string `mapstructure:"environment" validate:"required,environment"`
	LogLevel    string `mapstructure:"log_level" validate:"required,loglevel"`
	LogFormat   string `mapstructure:"log_format" validate:"omitempty,oneof=json text"`
}

// PipelineConfig describes what the build step fingerprints
type PipelineConfig struct {
	BaseDir    string   `mapstructure:"base_dir" validate:"required"`
	ScopeRoots []string `mapstructure:"scope_roots" validate:"required,min=1,dive,required"`
	Exclude    []string `mapstructure:"exclude"`
}

// ManifestConfig locates the manifest store
type ManifestConfig struct {
	StoreDir string `mapstructure:"store_dir" validate:"required"`
}

// DriftConfig controls the run-time drift gate
type DriftConfig struct {
	OnDrift     string `mapstructure:"on_drift" validate:"required,ondrift"`
	FailOnAdded bool   `mapstructure:"fail_on_added"`
}

// OrchestratorConfig bounds backtest execution
type OrchestratorConfig struct {
	Workers         int           `mapstructure:"workers" validate:"required,gt=0,lte=256"`
	CallTimeout     time.Duration `mapstructure:"call_timeout" validate:"required,gt=0"`
	FailOnPairError bool          `mapstructure:"fail_on_pair_error"`
	ReportPath      string        `mapstructure:"report_path"`
}

// ResultsConfig selects the result store
type ResultsConfig struct {
	Driver     string `mapstructure:"driver" validate:"required,resultsdriver"`
	SQLitePath string `mapstructure:"sqlite_path"`
	Overwrite  bool   `mapstructure:"overwrite"`
}

// DatabaseConfig represents database connection configuration.
// Only required when results.driver is postgres.
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode" validate:"omitempty,oneof=disable require verify-full"`
	MaxConnections int    `mapstructure:"max_connections" validate:"omitempty,gt=0"`
}

// EngineConfig selects and tunes the evaluation engine
type EngineConfig struct {
	Kind              string        `mapstructure:"kind" validate:"required,enginekind"`
	URL               string        `mapstructure:"url" validate:"omitempty,url"`
	APIToken          string        `mapstructure:"api_token"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" validate:"gte=0"`
	RetryMax          int           `mapstructure:"retry_max" validate:"gte=0,lte=10"`
	Timeout           time.Duration `mapstructure:"timeout" validate:"gte=0"`
	InitialCash       float64       `mapstructure:"initial_cash" validate:"gt=0"`
	Commission        float64       `mapstructure:"commission" validate:"gte=0,lt=1"`
	Slippage          float64       `mapstructure:"slippage" validate:"gte=0,lt=1"`
}

// InputsConfig names the strategies and series a run evaluates
type InputsConfig struct {
	Strategies []string `mapstructure:"strategies"`
	Series     []string `mapstructure:"series"`
	StartDate  string   `mapstructure:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate    string   `mapstructure:"end_date" validate:"omitempty,datetime=2006-01-02"`
}

// MetricsConfig represents metrics and monitoring configuration
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	Path    string `mapstructure:"path"`
}

// WatchConfig schedules recurring drift checks
type WatchConfig struct {
	Schedule string `mapstructure:"schedule"`
}

// SecretsConfig enables the AWS Secrets Manager overlay
type SecretsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Region     string `mapstructure:"region"`
	SecretName string `mapstructure:"secret_name"`
}

// IsDevelopment checks if the application is running in development mode
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsStaging checks if the application is running in staging mode
func (c *Config) IsStaging() bool {
	return c.App.Environment == "staging"
}

// IsProduction checks if the application is running in production mode
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// GetDatabaseDSN returns a PostgreSQL DSN string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// TimeRange converts the inputs window into a models.TimeRange. The end date
// is inclusive of the whole day.
func (c *Config) TimeRange() (models.TimeRange, error) {
	var tr models.TimeRange
	if c.Inputs.StartDate != "" {
		start, err := time.Parse(dateLayout, c.Inputs.StartDate)
		if err != nil {
			return tr, fmt.Errorf("invalid inputs start_date: %w", err)
		}
		tr.Start = start
	}
	if c.Inputs.EndDate != "" {
		end, err := time.Parse(dateLayout, c.Inputs.EndDate)
		if err != nil {
			return tr, fmt.Errorf("invalid inputs end_date: %w", err)
		}
		tr.End = end.Add(24*time.Hour - time.Nanosecond)
	}
	return tr, nil
}
