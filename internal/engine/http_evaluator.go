package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/repro-backtest/internal/logger"
	"github.com/yourusername/repro-backtest/internal/models"
)

// HTTPEvaluatorConfig configures the remote engine adapter.
type HTTPEvaluatorConfig struct {
	URL               string
	APIToken          string
	RequestsPerSecond float64
	RetryMax          int
	Timeout           time.Duration
}

// evaluateRequest is the POST {url}/evaluate payload.
type evaluateRequest struct {
	Parameters Parameters  `json:"parameters"`
	Series     PriceSeries `json:"series"`
}

// evaluateResponse carries either metrics or a classified error.
type evaluateResponse struct {
	Metrics Metrics `json:"metrics"`
	Error   *struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// HTTPEvaluator delegates evaluation to a remote engine over HTTP/JSON.
type HTTPEvaluator struct {
	client   *RateLimitedHTTPClient
	endpoint string
	header   http.Header
	logger   *logrus.Entry
}

// NewHTTPEvaluator creates the adapter.
func NewHTTPEvaluator(cfg HTTPEvaluatorConfig, log *logrus.Logger) (*HTTPEvaluator, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("engine url is required")
	}
	entry := logger.Component(log, "engine")

	clientCfg := DefaultHTTPClientConfig()
	if cfg.Timeout > 0 {
		clientCfg.Timeout = cfg.Timeout
	}
	if cfg.RetryMax >= 0 {
		clientCfg.MaxRetries = cfg.RetryMax
	}
	clientCfg.RateLimit = cfg.RequestsPerSecond

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Accept", "application/json")
	if cfg.APIToken != "" {
		header.Set("Authorization", "Bearer "+cfg.APIToken)
	}

	return &HTTPEvaluator{
		client:   NewRateLimitedHTTPClient(clientCfg, entry),
		endpoint: strings.TrimRight(cfg.URL, "/") + "/evaluate",
		header:   header,
		logger:   entry,
	}, nil
}

// Evaluate posts the parameters and bars and decodes the engine's verdict.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, params Parameters, series PriceSeries) (Metrics, error) {
	body, err := json.Marshal(evaluateRequest{Parameters: params, Series: series})
	if err != nil {
		return nil, Errorf(models.ErrorKindInvalidParameters, "parameters are not JSON encodable: %v", err)
	}

	resp, err := e.client.Post(ctx, e.endpoint, e.header, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &EngineError{Kind: models.ErrorKindInternal, Message: "engine request failed", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &EngineError{Kind: models.ErrorKindInternal, Message: "failed to read engine response", Err: err}
	}

	var decoded evaluateResponse
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, Errorf(models.ErrorKindInternal, "engine returned status %d with undecodable body", resp.StatusCode)
	}

	if decoded.Error != nil {
		kind := decoded.Error.Kind
		if !knownKind(kind) {
			kind = models.ErrorKindInternal
		}
		e.logger.WithFields(logrus.Fields{
			"series": series.Identifier,
			"status": resp.StatusCode,
			"kind":   kind,
		}).Debug("Engine rejected evaluation")
		return nil, Errorf(kind, "%s", decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, Errorf(models.ErrorKindInternal, "engine returned status %d", resp.StatusCode)
	}
	if decoded.Metrics == nil {
		return nil, Errorf(models.ErrorKindInternal, "engine response carries no metrics")
	}
	return decoded.Metrics, nil
}

// Close releases idle connections.
func (e *HTTPEvaluator) Close() error {
	return e.client.Close()
}

func knownKind(kind string) bool {
	switch kind {
	case models.ErrorKindTimeout, models.ErrorKindInvalidParameters, models.ErrorKindInsufficientData,
		models.ErrorKindNumerical, models.ErrorKindData, models.ErrorKindInternal:
		return true
	}
	return false
}
