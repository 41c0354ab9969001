// Package drift compares the files on disk against a recorded manifest and
// decides whether a run may proceed.
package drift

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/fingerprint"
	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/metrics"
	"github.com/yourusername/repro-backtest/internal/models"
)

// Drift handling modes
const (
	OnDriftFail   = "fail"
	OnDriftWarn   = "warn"
	OnDriftIgnore = "ignore"
)

// Verdicts reported to metrics and the audit log
const (
	VerdictClean   = "clean"
	VerdictDrift   = "drift"
	VerdictFailed  = "failed"
	VerdictSkipped = "skipped"
)

// Policy configures how the gate reacts to drift.
type Policy struct {
	OnDrift string
	// FailOnAdded treats files present on disk but absent from the manifest
	// as drift under the fail policy.
	FailOnAdded bool
}

// DefaultPolicy fails on modified or missing files and tolerates added ones.
func DefaultPolicy() Policy {
	return Policy{OnDrift: OnDriftFail}
}

// Validate checks the policy mode.
func (p Policy) Validate() error {
	switch p.OnDrift {
	case OnDriftFail, OnDriftWarn, OnDriftIgnore:
		return nil
	default:
		return fmt.Errorf("unknown drift policy %q", p.OnDrift)
	}
}

// Blocking reports whether the report violates the policy.
func (p Policy) Blocking(report *models.DriftReport) bool {
	if report == nil {
		return false
	}
	if len(report.Modified) > 0 || len(report.Missing) > 0 {
		return true
	}
	return p.FailOnAdded && len(report.Added) > 0
}

// DriftError is returned by Gate when the fail policy rejects a report.
type DriftError struct {
	Report *models.DriftReport
}

func (e *DriftError) Error() string {
	r := e.Report
	var parts []string
	if n := len(r.Modified); n > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", n))
	}
	if n := len(r.Missing); n > 0 {
		parts = append(parts, fmt.Sprintf("%d missing", n))
	}
	if n := len(r.Added); n > 0 {
		parts = append(parts, fmt.Sprintf("%d added", n))
	}
	return fmt.Sprintf("%v (manifest %s): %s", models.ErrDriftDetected, r.ManifestVersion, strings.Join(parts, ", "))
}

// Is matches models.ErrDriftDetected.
func (e *DriftError) Is(target error) bool { return target == models.ErrDriftDetected }

// Verifier re-derives fingerprints and partitions them against a manifest.
type Verifier struct {
	fp     *fingerprint.Fingerprinter
	policy Policy
	logger *logrus.Entry
	audit  *logger.AuditLogger
}

// NewVerifier creates a verifier that scans with fp.
func NewVerifier(fp *fingerprint.Fingerprinter, policy Policy, log *logrus.Logger) (*Verifier, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Verifier{
		fp:     fp,
		policy: policy,
		logger: logger.Component(log, "drift"),
		audit:  logger.NewAuditLogger(log),
	}, nil
}

// Policy returns the configured policy.
func (v *Verifier) Policy() Policy { return v.policy }

// Verify rescans the manifest's scope roots and classifies every path. A
// deleted root reports its recorded files as missing; other rescan errors are
// returned wrapped.
func (v *Verifier) Verify(ctx context.Context, manifest *models.Manifest) (*models.DriftReport, error) {
	if manifest == nil {
		return nil, fmt.Errorf("verify: nil manifest")
	}
	current, err := v.fp.Rescan(ctx, manifest.ScopeRoots)
	if err != nil {
		return nil, fmt.Errorf("drift rescan failed: %w", err)
	}

	report := Compare(manifest, current)
	metrics.UpdateDrift(len(report.Unchanged), len(report.Modified), len(report.Added), len(report.Missing))
	v.logger.WithFields(logrus.Fields{
		"manifest_version": manifest.VersionID,
		"unchanged":        len(report.Unchanged),
		"modified":         len(report.Modified),
		"added":            len(report.Added),
		"missing":          len(report.Missing),
	}).Debug("Drift verification completed")
	return report, nil
}

// Gate applies the policy. Under ignore no scan happens and the report is nil.
// Under fail a blocking report is returned together with a *DriftError.
func (v *Verifier) Gate(ctx context.Context, manifest *models.Manifest) (*models.DriftReport, error) {
	if v.policy.OnDrift == OnDriftIgnore {
		metrics.RecordDriftCheck(VerdictSkipped)
		v.logger.WithField("manifest_version", manifest.VersionID).Warn("Drift check skipped by policy")
		return nil, nil
	}

	report, err := v.Verify(ctx, manifest)
	if err != nil {
		return nil, err
	}

	verdict := VerdictClean
	switch {
	case v.policy.OnDrift == OnDriftFail && v.policy.Blocking(report):
		verdict = VerdictFailed
	case report.HasDrift():
		verdict = VerdictDrift
	}

	metrics.RecordDriftCheck(verdict)
	v.audit.LogDriftVerdict(manifest.VersionID, v.policy.OnDrift, verdict, report.Modified, report.Added, report.Missing)

	if verdict == VerdictFailed {
		return report, &DriftError{Report: report}
	}
	return report, nil
}

// Compare partitions current records against the manifest. Every path lands
// in exactly one class and each class is sorted.
func Compare(manifest *models.Manifest, current []models.FileRecord) *models.DriftReport {
	report := &models.DriftReport{
		ManifestVersion: manifest.VersionID,
		Unchanged:       []string{},
		Modified:        []string{},
		Added:           []string{},
		Missing:         []string{},
	}

	recorded := make(map[string]models.Digest, len(manifest.Records))
	for _, rec := range manifest.Records {
		recorded[rec.RelativePath] = rec.Fingerprint
	}

	seen := make(map[string]struct{}, len(current))
	for _, rec := range current {
		seen[rec.RelativePath] = struct{}{}
		want, ok := recorded[rec.RelativePath]
		switch {
		case !ok:
			report.Added = append(report.Added, rec.RelativePath)
		case want == rec.Fingerprint:
			report.Unchanged = append(report.Unchanged, rec.RelativePath)
		default:
			report.Modified = append(report.Modified, rec.RelativePath)
		}
	}
	for _, rec := range manifest.Records {
		if _, ok := seen[rec.RelativePath]; !ok {
			report.Missing = append(report.Missing, rec.RelativePath)
		}
	}

	sort.Strings(report.Unchanged)
	sort.Strings(report.Modified)
	sort.Strings(report.Added)
	sort.Strings(report.Missing)
	return report
}
