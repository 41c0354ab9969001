package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRegistry(t *testing.T) {
	InitRegistry()
	registry := GetRegistry()

	assert.NotNil(t, registry)
	assert.IsType(t, &prometheus.Registry{}, registry)
}

func TestRecordFileFingerprinted(t *testing.T) {
	InitRegistry()
	before := testutil.ToFloat64(FilesFingerprintedTotal)
	bytesBefore := testutil.ToFloat64(BytesHashedTotal)

	RecordFileFingerprinted(128)

	assert.Equal(t, before+1, testutil.ToFloat64(FilesFingerprintedTotal))
	assert.Equal(t, bytesBefore+128, testutil.ToFloat64(BytesHashedTotal))
}

func TestUpdateDrift(t *testing.T) {
	InitRegistry()

	UpdateDrift(3, 1, 0, 2)

	assert.Equal(t, float64(3), testutil.ToFloat64(DriftFiles.WithLabelValues("unchanged")))
	assert.Equal(t, float64(1), testutil.ToFloat64(DriftFiles.WithLabelValues("modified")))
	assert.Equal(t, float64(0), testutil.ToFloat64(DriftFiles.WithLabelValues("added")))
	assert.Equal(t, float64(2), testutil.ToFloat64(DriftFiles.WithLabelValues("missing")))
}

func TestRecordInvocation(t *testing.T) {
	InitRegistry()

	tests := []struct {
		name   string
		status string
	}{
		{name: "success", status: "success"},
		{name: "timeout", status: "timeout"},
		{name: "engine failure", status: "invalid_parameters"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(BacktestInvocationsTotal.WithLabelValues(tt.status))
			assert.NotPanics(t, func() {
				RecordInvocation(tt.status, 0.25)
			})
			assert.Equal(t, before+1, testutil.ToFloat64(BacktestInvocationsTotal.WithLabelValues(tt.status)))
		})
	}
}

func TestHandlerServesMetrics(t *testing.T) {
	InitRegistry()
	RecordManifest(7)
	RecordResult("inserted")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "repro_manifest_records 7"))
	assert.True(t, strings.Contains(body, "repro_results_recorded_total"))
}
