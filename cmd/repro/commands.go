package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/repro-backtest/internal/backtest"
	"github.com/yourusername/repro-backtest/internal/database"
	"github.com/yourusername/repro-backtest/internal/health"
	"github.com/yourusername/repro-backtest/internal/repository"
	"github.com/yourusername/repro-backtest/internal/scheduler"
	"github.com/yourusername/repro-backtest/internal/service"
)

var (
	manifestVersion string
	pairs           []string
	reportPath      string
	schedule        string
	port            int
	workers         int
	callTimeout     time.Duration
	overwrite       bool
	onDrift         string
	failOnAdded     bool
	failOnPairError bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Fingerprint the scope roots and record a new manifest version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		m, err := p.Build(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), m.VersionID)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare the workspace against a manifest",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		report, err := p.Verify(cmd.Context(), manifestVersion)
		if report != nil {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Manifest: %s\n", report.ManifestVersion)
			fmt.Fprintf(out, "Unchanged: %d  Modified: %d  Added: %d  Missing: %d\n",
				len(report.Unchanged), len(report.Modified), len(report.Added), len(report.Missing))
			for _, path := range report.Modified {
				fmt.Fprintf(out, "  modified: %s\n", path)
			}
			for _, path := range report.Added {
				fmt.Fprintf(out, "  added: %s\n", path)
			}
			for _, path := range report.Missing {
				fmt.Fprintf(out, "  missing: %s\n", path)
			}
		}
		return err
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Gate on drift, run every strategy against every series and record results",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		selected, err := parsePairs(pairs)
		if err != nil {
			return &service.ConfigError{Err: err}
		}

		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		report, err := p.Run(cmd.Context(), service.RunOptions{ManifestVersion: manifestVersion, Pairs: selected})
		if report != nil {
			fmt.Fprint(cmd.OutOrStdout(), backtest.GenerateConsoleReport(*report))
		}
		return err
	},
}

var manifestsCmd = &cobra.Command{
	Use:   "manifests",
	Short: "List recorded manifest versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		versions, err := p.Manifests(cmd.Context())
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [version]",
	Short: "Print the listing of a manifest version (latest by default)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		version := ""
		if len(args) == 1 {
			version = args[0]
		}
		return p.Show(cmd.Context(), version, cmd.OutOrStdout())
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run scheduled drift checks and serve health and metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		p, err := openPipeline()
		if err != nil {
			return err
		}
		defer p.Close()

		healthCfg := health.Config{
			ServiceName: cfg.App.Name,
			Version:     Version,
			Commit:      GitCommit,
			Port:        strconv.Itoa(cfg.Metrics.Port),
			Logger:      log,
		}
		if cfg.Metrics.Enabled {
			healthCfg.MetricsPath = cfg.Metrics.Path
		}
		if cfg.Results.Driver == repository.DriverPostgres {
			db, err := database.NewDB(ctx, &cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			healthCfg.DB = db
		}
		server := health.NewServer(healthCfg)
		if err := server.Start(ctx); err != nil {
			return err
		}

		sched := scheduler.NewScheduler(p, log)
		sched.OnCheck(server.RecordDriftCheck)
		if err := sched.ScheduleDriftCheck(cfg.Watch.Schedule); err != nil {
			return &service.ConfigError{Err: err}
		}
		sched.RunCheck(ctx)
		if err := sched.Start(); err != nil {
			return err
		}
		server.SetReady(true)

		<-ctx.Done()
		sched.Stop()
		return server.Shutdown()
	},
}

func init() {
	verifyCmd.Flags().StringVar(&manifestVersion, "manifest", "", "Manifest version (default latest)")

	runCmd.Flags().StringVar(&manifestVersion, "manifest", "", "Manifest version (default latest)")
	runCmd.Flags().StringSliceVar(&pairs, "pair", nil, "Restrict the run to strategy/series pairs")
	runCmd.Flags().IntVar(&workers, "workers", 0, "Override orchestrator workers")
	runCmd.Flags().DurationVar(&callTimeout, "call-timeout", 0, "Override per-evaluation timeout")
	runCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace stored results whose metrics differ")
	runCmd.Flags().BoolVar(&failOnPairError, "fail-on-pair-error", false, "Exit non-zero when any pair fails")
	runCmd.Flags().StringVar(&reportPath, "report", "", "Write the JSON report to this path")

	for _, c := range []*cobra.Command{verifyCmd, runCmd, watchCmd} {
		c.Flags().StringVar(&onDrift, "on-drift", "", "Override drift policy: fail, warn or ignore")
		c.Flags().BoolVar(&failOnAdded, "fail-on-added", false, "Treat added files as blocking drift")
	}

	watchCmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule for drift checks")
	watchCmd.Flags().IntVar(&port, "port", 0, "Health and metrics port")
}

// applyOverrides copies explicitly set flags onto cfg.
func applyOverrides(cmd *cobra.Command) error {
	flags := cmd.Flags()
	if flags.Changed("workers") {
		cfg.Orchestrator.Workers = workers
	}
	if flags.Changed("call-timeout") {
		cfg.Orchestrator.CallTimeout = callTimeout
	}
	if flags.Changed("overwrite") {
		cfg.Results.Overwrite = overwrite
	}
	if flags.Changed("fail-on-pair-error") {
		cfg.Orchestrator.FailOnPairError = failOnPairError
	}
	if flags.Changed("report") {
		cfg.Orchestrator.ReportPath = reportPath
	}
	if flags.Changed("on-drift") {
		cfg.Drift.OnDrift = onDrift
	}
	if flags.Changed("fail-on-added") {
		cfg.Drift.FailOnAdded = failOnAdded
	}
	if flags.Changed("schedule") {
		cfg.Watch.Schedule = schedule
	}
	if flags.Changed("port") {
		if port <= 0 {
			return fmt.Errorf("port must be positive")
		}
		cfg.Metrics.Port = port
	}
	return nil
}
