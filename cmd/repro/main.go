// Package main provides the entry point for the reproducible backtest CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/repro-backtest/internal/backtest"
	"github.com/yourusername/repro-backtest/internal/config"
	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/metrics"
	"github.com/yourusername/repro-backtest/internal/service"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	configFile string
	baseDir    string
	logLevel   string
	cfg        *config.Config
	log        *logrus.Logger
)

var rootCmd = &cobra.Command{
	Use:           "repro",
	Short:         "Reproducible backtest pipeline",
	Long:          `Fingerprints sources and data into versioned manifests, detects drift against them, and runs backtests bound to an exact manifest version.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultConfigPath, "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&baseDir, "base-dir", "", "Override pipeline base directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level")

	rootCmd.AddCommand(buildCmd, verifyCmd, runCmd, manifestsCmd, showCmd, watchCmd)
}

func main() {
	err := rootCmd.Execute()
	code := service.ExitCode(err)
	if err != nil {
		if log != nil {
			log.WithError(err).WithField("exit_code", code).Error("Command failed")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	os.Exit(code)
}

// loadConfig reads file and environment, overlays secrets, applies flag
// overrides and validates the result.
func loadConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.LoadWithDefaults(configFile)
	if err != nil {
		return &service.ConfigError{Err: err}
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	if err := config.LoadSecretsFromAWS(ctx, cfg); err != nil {
		return &service.ConfigError{Err: err}
	}

	if baseDir != "" {
		cfg.Pipeline.BaseDir = baseDir
	}
	if logLevel != "" {
		cfg.App.LogLevel = logLevel
	}
	if err := applyOverrides(cmd); err != nil {
		return &service.ConfigError{Err: err}
	}
	if err := config.Validate(cfg); err != nil {
		return &service.ConfigError{Err: err}
	}

	format := cfg.App.LogFormat
	if format == "" && cfg.IsProduction() {
		format = "json"
	}
	log = logger.NewLogger(cfg.App.LogLevel, format)
	// stdout carries command output
	log.SetOutput(os.Stderr)
	metrics.InitRegistry()
	log.WithFields(logrus.Fields{
		"version":     Version,
		"commit":      GitCommit,
		"environment": cfg.App.Environment,
		"base_dir":    cfg.Pipeline.BaseDir,
	}).Debug("Configuration loaded")
	return nil
}

func openPipeline() (*service.Pipeline, error) {
	return service.NewPipeline(cfg, log)
}

// parsePairs reads "strategy/series" selectors. No selectors means the
// full cross product.
func parsePairs(raw []string) ([]backtest.Pair, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	selected := make([]backtest.Pair, 0, len(raw))
	for _, r := range raw {
		parts := strings.SplitN(r, "/", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, errors.New("pair must look like strategy/series: " + r)
		}
		selected = append(selected, backtest.Pair{StrategyID: parts[0], SeriesID: parts[1]})
	}
	return selected, nil
}
