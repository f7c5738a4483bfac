package notifications

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/logger"
	"github.com/ducminhle1904/crypto-risk-core/internal/risk"
	"github.com/ducminhle1904/crypto-risk-core/internal/safety"
)

type alert struct {
	level   Level
	message string
}

// Alerter turns risk events into operator alerts. It is a risk.Observer: events are
// queued without blocking the caller and delivered by Run. Alerts are dropped when
// the queue is full.
type Alerter struct {
	risk.NopObserver

	notifier Notifier
	log      *logger.Logger
	queue    chan alert
	dropped  atomic.Int64

	mu         sync.Mutex
	stopSeen   bool
	stopActive bool
	connSeen   bool
	connOK     bool
}

func NewAlerter(n Notifier, queueSize int, log *logger.Logger) *Alerter {
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Alerter{
		notifier: n,
		log:      log,
		queue:    make(chan alert, queueSize),
	}
}

// Run delivers queued alerts until ctx is done, then flushes what is already queued.
func (a *Alerter) Run(ctx context.Context) {
	for {
		select {
		case al := <-a.queue:
			a.deliver(al)
		case <-ctx.Done():
			for {
				select {
				case al := <-a.queue:
					a.deliver(al)
				default:
					return
				}
			}
		}
	}
}

// Dropped counts alerts lost to a full queue.
func (a *Alerter) Dropped() int64 {
	return a.dropped.Load()
}

func (a *Alerter) deliver(al alert) {
	if err := a.notifier.SendAlert(al.level, al.message); err != nil {
		a.log.LogError("send alert", err)
	}
}

func (a *Alerter) enqueue(level Level, format string, args ...interface{}) {
	al := alert{level: level, message: fmt.Sprintf(format, args...)}
	select {
	case a.queue <- al:
	default:
		a.dropped.Add(1)
		a.log.Warning("alert queue full, dropped: %s", al.message)
	}
}

func (a *Alerter) Tripped(record safety.TripRecord) {
	a.enqueue(LevelError, "Circuit breaker TRIPPED\nDrawdown: %.2f%%\nReason: %s\nAt: %s\nNew orders are blocked until the cooldown ends.",
		record.Drawdown*100, record.Reason, record.TrippedAt.Format(time.RFC3339))
}

func (a *Alerter) BreakerStateChanged(from, to safety.BreakerState) {
	if to == safety.StateArmed && from != safety.StateArmed {
		a.enqueue(LevelSuccess, "Circuit breaker re-armed (%s -> %s). Trading may resume.", from, to)
	}
}

func (a *Alerter) EmergencyStopChanged(flag safety.StopFlag) {
	a.mu.Lock()
	first := !a.stopSeen
	changed := a.stopActive != flag.Active
	a.stopSeen, a.stopActive = true, flag.Active
	a.mu.Unlock()

	switch {
	case flag.Active && (first || changed):
		a.enqueue(LevelError, "EMERGENCY STOP active\nReason: %s\nSince: %s",
			flag.Reason, flag.ActivatedAt.Format(time.RFC3339))
	case !flag.Active && !first && changed:
		a.enqueue(LevelSuccess, "Emergency stop cleared by operator.")
	}
}

func (a *Alerter) ConnectivityUpdated(status safety.ConnectivityStatus) {
	a.mu.Lock()
	first := !a.connSeen
	changed := a.connOK != status.Healthy
	a.connSeen, a.connOK = true, status.Healthy
	a.mu.Unlock()

	switch {
	case !status.Healthy && (first || changed):
		a.enqueue(LevelWarning, "Exchange connectivity DEGRADED\nConsecutive failures: %d\nAvg latency: %.0fms\nNew orders are blocked.",
			status.ConsecutiveFailures, status.AvgLatencyMs)
	case status.Healthy && !first && changed:
		a.enqueue(LevelSuccess, "Exchange connectivity restored (avg latency %.0fms).", status.AvgLatencyMs)
	}
}
