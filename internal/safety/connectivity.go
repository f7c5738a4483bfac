package safety

import (
	"math"
	"time"
)

const latencyWindow = 20

// ConnectivityStatus classifies recent exchange round trips.
type ConnectivityStatus struct {
	LastLatencyMs       float64   `json:"last_latency_ms"`
	AvgLatencyMs        float64   `json:"avg_latency_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Healthy             bool      `json:"healthy"`
	LastCheck           time.Time `json:"last_check,omitempty"`
}

// ConnectivityMonitor is pure bookkeeping over reported round trips; it never retries.
// Not safe for concurrent use.
type ConnectivityMonitor struct {
	maxLatencyMs float64
	maxFailures  int
	status       ConnectivityStatus
	samples      []float64
	next         int
}

func NewConnectivityMonitor(maxLatencyMs float64, maxFailures int) *ConnectivityMonitor {
	m := &ConnectivityMonitor{
		maxLatencyMs: maxLatencyMs,
		maxFailures:  maxFailures,
		samples:      make([]float64, 0, latencyWindow),
	}
	m.status.Healthy = m.healthy()
	return m
}

// RecordRoundTrip updates latency and the failure streak, then recomputes health.
func (m *ConnectivityMonitor) RecordRoundTrip(latencyMs float64, ok bool, at time.Time) ConnectivityStatus {
	// an unmeasurable latency counts as a failed trip and leaves the last reading
	valid := !math.IsNaN(latencyMs) && !math.IsInf(latencyMs, 0) && latencyMs >= 0
	if !valid {
		ok = false
	} else {
		m.status.LastLatencyMs = latencyMs
	}
	m.status.LastCheck = at
	if ok {
		m.status.ConsecutiveFailures = 0
	} else {
		m.status.ConsecutiveFailures++
	}

	if valid {
		if len(m.samples) < latencyWindow {
			m.samples = append(m.samples, latencyMs)
		} else {
			m.samples[m.next] = latencyMs
		}
		m.next = (m.next + 1) % latencyWindow
		sum := 0.0
		for _, s := range m.samples {
			sum += s
		}
		m.status.AvgLatencyMs = sum / float64(len(m.samples))
	}

	m.status.Healthy = m.healthy()
	return m.status
}

func (m *ConnectivityMonitor) Status() ConnectivityStatus {
	return m.status
}

// Restore reloads a persisted status and re-derives health against current limits.
func (m *ConnectivityMonitor) Restore(status ConnectivityStatus) {
	m.status = status
	m.status.Healthy = m.healthy()
}

func (m *ConnectivityMonitor) Healthy() bool {
	return m.status.Healthy
}

func (m *ConnectivityMonitor) healthy() bool {
	return m.status.LastLatencyMs <= m.maxLatencyMs && m.status.ConsecutiveFailures < m.maxFailures
}
