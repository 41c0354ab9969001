// Package health serves liveness, readiness and drift status for the watch
// command.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/metrics"
	"github.com/yourusername/repro-backtest/internal/models"
)

const (
	statusOK       = "ok"
	statusNotReady = "not_ready"

	pingTimeout     = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// DatabasePinger defines the interface for checking database connectivity.
type DatabasePinger interface {
	Ping(ctx context.Context) error
}

// HealthResponse is the body of /health and /live.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Timestamp string `json:"timestamp,omitempty"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
}

// ReadyResponse is the body of /ready.
type ReadyResponse struct {
	Status   string            `json:"status"`
	Service  string            `json:"service"`
	Checks   map[string]string `json:"checks,omitempty"`
	Duration string            `json:"duration,omitempty"`
}

// DriftResponse is the body of /drift: the last report the scheduler saw.
type DriftResponse struct {
	Status    string              `json:"status"`
	CheckedAt string              `json:"checked_at,omitempty"`
	Error     string              `json:"error,omitempty"`
	Report    *models.DriftReport `json:"report,omitempty"`
}

// Config holds the configuration for the health server.
type Config struct {
	ServiceName string
	Version     string
	Commit      string
	Port        string
	Logger      *logrus.Logger
	DB          DatabasePinger
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
}

// Server exposes the watch loop's state over HTTP.
type Server struct {
	cfg    Config
	server *http.Server

	mu        sync.RWMutex
	ready     bool
	checked   bool
	checkedAt time.Time
	report    *models.DriftReport
	checkErr  error
}

// NewServer creates a health server. The port falls back to HEALTH_PORT
// and then 9090.
func NewServer(cfg Config) *Server {
	if cfg.Port == "" {
		cfg.Port = os.Getenv("HEALTH_PORT")
	}
	if cfg.Port == "" {
		cfg.Port = "9090"
	}
	return &Server{cfg: cfg}
}

// SetReady marks the server as ready to accept traffic.
func (s *Server) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
}

// IsReady returns whether the server is ready.
func (s *Server) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

// RecordDriftCheck stores the outcome of a drift check. Its signature
// matches scheduler.Observer.
func (s *Server) RecordDriftCheck(report *models.DriftReport, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = true
	s.checkedAt = time.Now().UTC()
	s.report = report
	s.checkErr = err
}

// Handler returns the routes served by the health server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/drift", s.handleDrift)
	if s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, metrics.Handler())
	}
	return mux
}

// Start serves in the background until ctx is cancelled or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logf(logrus.InfoLevel, nil, "Health server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logf(logrus.ErrorLevel, err, "Health server stopped")
		}
	}()
	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	if s.server == nil {
		return nil
	}
	s.logf(logrus.InfoLevel, nil, "Health server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) logf(level logrus.Level, err error, msg string) {
	if s.cfg.Logger == nil {
		return
	}
	entry := s.cfg.Logger.WithFields(logrus.Fields{"port": s.cfg.Port, "service": s.cfg.ServiceName})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Log(level, msg)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    statusOK,
		Service:   s.cfg.ServiceName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   s.cfg.Version,
		Commit:    s.cfg.Commit,
	})
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: statusOK, Service: s.cfg.ServiceName})
}

// handleReady fails while the service is not marked ready, before the first
// drift check, after blocking drift or a failed check, and when the database
// does not answer.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	s.mu.RLock()
	ready, checked, report, checkErr := s.ready, s.checked, s.report, s.checkErr
	s.mu.RUnlock()

	checks := map[string]string{"service": statusOK}
	healthy := true
	if !ready {
		checks["service"] = statusNotReady
		healthy = false
	}

	verdict, ok := driftVerdict(checked, report, checkErr)
	checks["drift"] = verdict
	healthy = healthy && ok
	if report != nil && report.ManifestVersion != "" {
		checks["manifest"] = report.ManifestVersion
	}

	if s.cfg.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		defer cancel()
		if err := s.cfg.DB.Ping(ctx); err != nil {
			checks["database"] = fmt.Sprintf("error: %v", err)
			healthy = false
		} else {
			checks["database"] = statusOK
		}
	}

	resp := ReadyResponse{
		Status:   statusOK,
		Service:  s.cfg.ServiceName,
		Checks:   checks,
		Duration: time.Since(start).String(),
	}
	code := http.StatusOK
	if !healthy {
		resp.Status = statusNotReady
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleDrift(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checked, at, report, checkErr := s.checked, s.checkedAt, s.report, s.checkErr
	s.mu.RUnlock()

	verdict, ok := driftVerdict(checked, report, checkErr)
	resp := DriftResponse{Status: verdict, Report: report}
	if checked {
		resp.CheckedAt = at.Format(time.RFC3339)
	}
	if checkErr != nil {
		resp.Error = checkErr.Error()
	}
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// driftVerdict summarises the last check; ok is false when it should keep
// the service out of rotation.
func driftVerdict(checked bool, report *models.DriftReport, err error) (string, bool) {
	switch {
	case !checked:
		return "pending", false
	case errors.Is(err, models.ErrDriftDetected):
		return "drift: " + err.Error(), false
	case err != nil:
		return fmt.Sprintf("error: %v", err), false
	case report == nil:
		return "skipped", true
	case report.HasDrift():
		return fmt.Sprintf("warn: %d modified, %d added, %d missing",
			len(report.Modified), len(report.Added), len(report.Missing)), true
	}
	return statusOK, true
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
