package backtest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yourusername/repro-backtest/internal/models"
)

// Report is the final run summary
type Report struct {
	*RunOutcome
	Drift *models.DriftReport `json:"drift,omitempty"`
}

// headline metrics shown first, in this order
var reportMetrics = []string{"total_return", "sharpe", "sortino", "max_drawdown", "trades", "final_value"}

// GenerateConsoleReport formats a run for terminal output. Results are
// grouped per strategy so runs on the same series read side by side.
func GenerateConsoleReport(report Report) string {
	var builder strings.Builder
	builder.WriteString("Backtest Report\n")
	builder.WriteString("================\n")
	builder.WriteString(fmt.Sprintf("Run ID: %s\n", report.RunID))
	builder.WriteString(fmt.Sprintf("Manifest: %s\n", report.ManifestVersion))
	builder.WriteString(fmt.Sprintf("Duration: %s\n", report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond)))
	builder.WriteString(fmt.Sprintf("Succeeded: %d  Failed: %d\n", len(report.Results), len(report.Failures)))

	if d := report.Drift; d != nil {
		builder.WriteString(fmt.Sprintf("Drift: %d unchanged, %d modified, %d added, %d missing\n",
			len(d.Unchanged), len(d.Modified), len(d.Added), len(d.Missing)))
		writePaths(&builder, "modified", d.Modified)
		writePaths(&builder, "added", d.Added)
		writePaths(&builder, "missing", d.Missing)
	}

	var strategy string
	for _, r := range report.Results {
		if r.StrategyID != strategy {
			strategy = r.StrategyID
			builder.WriteString(fmt.Sprintf("\nStrategy %s (%s)\n", strategy, r.StrategyFingerprint.Short()))
		}
		builder.WriteString(fmt.Sprintf("  %-16s %s\n", r.SeriesID, formatMetrics(r.Metrics)))
	}

	if len(report.Failures) > 0 {
		builder.WriteString("\nFailures\n")
		for _, f := range report.Failures {
			builder.WriteString(fmt.Sprintf("  %s/%s [%s] %s\n", f.StrategyID, f.SeriesID, f.ErrorKind, f.Message))
		}
	}
	return builder.String()
}

// ExportToJSON writes the report as indented JSON
func ExportToJSON(report Report, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

func writePaths(b *strings.Builder, label string, paths []string) {
	for _, p := range paths {
		b.WriteString(fmt.Sprintf("  %s: %s\n", label, p))
	}
}

func formatMetrics(m map[string]float64) string {
	seen := make(map[string]bool, len(reportMetrics))
	var parts []string
	for _, name := range reportMetrics {
		if v, ok := m[name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%.4f", name, v))
			seen[name] = true
		}
	}
	var rest []string
	for name := range m {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	for _, name := range rest {
		parts = append(parts, fmt.Sprintf("%s=%.4f", name, m[name]))
	}
	return strings.Join(parts, " ")
}
