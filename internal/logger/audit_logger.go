// Package logger provides audit logging.
package logger

import (
	"github.com/sirupsen/logrus"
)

// AuditLogger provides dedicated audit trail logging.
type AuditLogger struct {
	*logrus.Entry
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(baseLogger *logrus.Logger) *AuditLogger {
	return &AuditLogger{
		Entry: Component(baseLogger, "audit"),
	}
}

// LogResultOverwrite logs an explicit override of a stored result.
func (al *AuditLogger) LogResultOverwrite(key, strategyID, seriesID string, previous, incoming map[string]float64) {
	al.WithFields(logrus.Fields{
		"event_type":       "result_overwrite",
		"result_key":       key,
		"strategy_id":      strategyID,
		"series_id":        seriesID,
		"previous_metrics": previous,
		"incoming_metrics": incoming,
	}).Warn("Stored result overwritten by explicit override")
}

// LogNonDeterminism logs a conflicting result for an identical fingerprint triple.
func (al *AuditLogger) LogNonDeterminism(key, strategyID, seriesID string, previous, incoming map[string]float64) {
	al.WithFields(logrus.Fields{
		"event_type":       "non_determinism",
		"result_key":       key,
		"strategy_id":      strategyID,
		"series_id":        seriesID,
		"previous_metrics": previous,
		"incoming_metrics": incoming,
	}).Error("Conflicting result rejected")
}

// LogUntrustedResult logs a result whose fingerprints do not resolve in its manifest.
func (al *AuditLogger) LogUntrustedResult(key, manifestVersion string, unresolved []string) {
	al.WithFields(logrus.Fields{
		"event_type":       "untrusted_result",
		"result_key":       key,
		"manifest_version": manifestVersion,
		"unresolved":       unresolved,
	}).Error("Result rejected: fingerprints not in manifest")
}

// LogDriftVerdict logs the policy decision taken for a drift report.
func (al *AuditLogger) LogDriftVerdict(manifestVersion, policy, verdict string, modified, added, missing []string) {
	entry := al.WithFields(logrus.Fields{
		"event_type":       "drift_verdict",
		"manifest_version": manifestVersion,
		"policy":           policy,
		"verdict":          verdict,
		"modified":         modified,
		"added":            added,
		"missing":          missing,
	})
	if verdict == "clean" {
		entry.Info("Drift check passed")
		return
	}
	entry.Warn("Drift detected")
}
