package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

const maxHealthErrors = 10

// StatusSource is the part of risk.Manager the health check reads.
type StatusSource interface {
	Status() risk.Status
}

type HealthChecker struct {
	source    StatusSource
	startedAt time.Time

	mu     sync.RWMutex
	errors []string
}

type HealthStatus struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	MayTrade    bool      `json:"may_trade"`
	Breaker     string    `json:"breaker"`
	StopActive  bool      `json:"emergency_stop_active"`
	IsConnected bool      `json:"is_connected"`
	LatencyMs   float64   `json:"latency_ms"`
	DrawdownPct float64   `json:"drawdown_pct"`
	Uptime      string    `json:"uptime"`
	Errors      []string  `json:"errors,omitempty"`
}

func NewHealthChecker(source StatusSource) *HealthChecker {
	return &HealthChecker{
		source:    source,
		startedAt: time.Now(),
		errors:    make([]string, 0),
	}
}

// ReportError records a loop-level failure; any recorded error makes the process unhealthy.
func (h *HealthChecker) ReportError(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, msg)
	if len(h.errors) > maxHealthErrors {
		h.errors = h.errors[len(h.errors)-maxHealthErrors:]
	}
}

func (h *HealthChecker) ClearErrors() {
	h.mu.Lock()
	h.errors = h.errors[:0]
	h.mu.Unlock()
}

// Check evaluates health. Degraded means trading is blocked or connectivity is
// impaired; unhealthy means the engine itself reported errors.
func (h *HealthChecker) Check() (HealthStatus, int) {
	st := h.source.Status()

	h.mu.RLock()
	errs := append([]string(nil), h.errors...)
	h.mu.RUnlock()

	health := HealthStatus{
		Status:      "healthy",
		Timestamp:   st.AsOf,
		MayTrade:    st.MayTrade,
		Breaker:     st.Breaker.State.String(),
		StopActive:  st.EmergencyStop.Active,
		IsConnected: st.Connectivity.Healthy,
		LatencyMs:   st.Connectivity.LastLatencyMs,
		DrawdownPct: st.Drawdown.DrawdownPct,
		Uptime:      time.Since(h.startedAt).Round(time.Second).String(),
		Errors:      errs,
	}

	code := http.StatusOK
	if !st.Connectivity.Healthy || st.EmergencyStop.Active || st.Breaker.State != safety.StateArmed {
		health.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if len(errs) > 0 {
		health.Status = "unhealthy"
		code = http.StatusInternalServerError
	}
	return health, code
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health, code := h.Check()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}
