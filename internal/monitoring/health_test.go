package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

type staticStatus struct {
	status risk.Status
}

func (s staticStatus) Status() risk.Status { return s.status }

func healthyStatus() risk.Status {
	return risk.Status{
		AsOf:         time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		MayTrade:     true,
		Breaker:      safety.BreakerStats{State: safety.StateArmed},
		Connectivity: safety.ConnectivityStatus{Healthy: true, LastLatencyMs: 120},
	}
}

func TestHealthChecker_Status(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*risk.Status)
		report   string
		wantCode int
		want     string
	}{
		{"healthy", func(*risk.Status) {}, "", http.StatusOK, "healthy"},
		{"stop active", func(s *risk.Status) { s.EmergencyStop.Active = true }, "", http.StatusServiceUnavailable, "degraded"},
		{"breaker cooling down", func(s *risk.Status) { s.Breaker.State = safety.StateCoolingDown }, "", http.StatusServiceUnavailable, "degraded"},
		{"connectivity lost", func(s *risk.Status) { s.Connectivity.Healthy = false }, "", http.StatusServiceUnavailable, "degraded"},
		{"engine error", func(*risk.Status) {}, "error budget exhausted", http.StatusInternalServerError, "unhealthy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := healthyStatus()
			tt.mutate(&st)
			h := NewHealthChecker(staticStatus{st})
			if tt.report != "" {
				h.ReportError(tt.report)
			}

			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, rec.Code)

			var body HealthStatus
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.want, body.Status)
		})
	}
}

func TestHealthChecker_ErrorsBounded(t *testing.T) {
	h := NewHealthChecker(staticStatus{healthyStatus()})
	for i := 0; i < maxHealthErrors+5; i++ {
		h.ReportError("boom")
	}
	health, _ := h.Check()
	assert.Len(t, health.Errors, maxHealthErrors)

	h.ClearErrors()
	health, code := h.Check()
	assert.Empty(t, health.Errors)
	assert.Equal(t, http.StatusOK, code)
}
