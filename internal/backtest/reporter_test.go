package backtest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yourusername/repro-backtest/internal/models"
)

func sampleReport() Report {
	start := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	return Report{
		RunOutcome: &RunOutcome{
			RunID:           uuid.MustParse("7b0d3c62-1f0e-4c1e-9a51-2d4c7f8a9b10"),
			ManifestVersion: "01HQ3X4Y5Z6A7B8C9D0E1F2G3H",
			Results: []models.BacktestResult{
				{StrategyID: "baseline", SeriesID: "spy", StrategyFingerprint: digestOf("baseline"), Metrics: map[string]float64{"sharpe": 0.5, "total_return": 0.12, "custom": 1}},
				{StrategyID: "enhanced", SeriesID: "spy", StrategyFingerprint: digestOf("enhanced"), Metrics: map[string]float64{"sharpe": 0.8}},
			},
			Failures: []models.FailedResult{
				{StrategyID: "enhanced", SeriesID: "qqq", ErrorKind: models.ErrorKindTimeout, Message: "evaluation exceeded 5m0s"},
			},
			StartedAt:  start,
			FinishedAt: start.Add(1500 * time.Millisecond),
		},
		Drift: &models.DriftReport{Unchanged: []string{"data/spy.csv"}, Added: []string{"data/new.csv"}},
	}
}

func TestGenerateConsoleReport(t *testing.T) {
	out := GenerateConsoleReport(sampleReport())

	for _, want := range []string{
		"Manifest: 01HQ3X4Y5Z6A7B8C9D0E1F2G3H",
		"Succeeded: 2  Failed: 1",
		"Drift: 1 unchanged, 0 modified, 1 added, 0 missing",
		"added: data/new.csv",
		"Strategy baseline",
		"Strategy enhanced",
		"total_return=0.1200 sharpe=0.5000 custom=1.0000",
		"enhanced/qqq [timeout]",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Strategy baseline") > strings.Index(out, "Strategy enhanced") {
		t.Errorf("strategies out of order")
	}
}

func TestExportToJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "run.json")
	if err := ExportToJSON(sampleReport(), path); err != nil {
		t.Fatalf("ExportToJSON failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if decoded["run_id"] != "7b0d3c62-1f0e-4c1e-9a51-2d4c7f8a9b10" {
		t.Errorf("unexpected run_id %v", decoded["run_id"])
	}
	if _, ok := decoded["drift"]; !ok {
		t.Errorf("drift missing from export")
	}
	if failures, ok := decoded["failures"].([]any); !ok || len(failures) != 1 {
		t.Errorf("unexpected failures %v", decoded["failures"])
	}
}
