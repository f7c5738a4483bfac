package recovery

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
)

// Logger is the subset of logger.Logger the handler writes to.
type Logger interface {
	Info(format string, args ...interface{})
	LogWarning(context, message string, args ...interface{})
	Error(format string, args ...interface{})
	LogDebugOnly(format string, args ...interface{})
}

// Config bounds retries inside one operation and failures across trading cycles.
type Config struct {
	// MaxConsecutiveFailures is the error budget: this many failed cycles in a row stop trading.
	MaxConsecutiveFailures int
	// MaxRetries caps attempts per category within ExecuteWithRetry.
	MaxRetries map[errors.ErrorCategory]int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

func DefaultConfig() Config {
	return Config{
		MaxConsecutiveFailures: 5,
		MaxRetries: map[errors.ErrorCategory]int{
			errors.ErrorCategoryNetwork:     5,
			errors.ErrorCategoryTimeout:     3,
			errors.ErrorCategoryTemporary:   3,
			errors.ErrorCategoryRateLimit:   10,
			errors.ErrorCategoryExchange:    2,
			errors.ErrorCategoryPersistence: 3,
		},
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 1.5,
		Jitter:     true,
	}
}

// Result is what the caller should do with a failure.
type Result struct {
	Action     errors.RecoveryAction
	Category   errors.ErrorCategory
	Delay      time.Duration
	ShouldStop bool
	Message    string
}

// Handler classifies failures, keeps error statistics and enforces the error budget.
// Safe for concurrent use.
type Handler struct {
	mu          sync.Mutex
	cfg         Config
	stats       *errors.ErrorStats
	consecutive int
	logger      Logger
}

func NewHandler(cfg Config, logger Logger) *Handler {
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = DefaultConfig().MaxConsecutiveFailures
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	if cfg.MaxRetries == nil {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	return &Handler{
		cfg:    cfg,
		stats:  errors.NewErrorStats(50),
		logger: logger,
	}
}

// HandleCycleError records one failed trading cycle. ShouldStop is set for fatal
// errors and when the consecutive failure budget is exhausted.
func (h *Handler) HandleCycleError(err error, component, operation string) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	botErr := h.recordLocked(err, component, operation, h.consecutive)
	h.consecutive++

	switch {
	case botErr.IsFatal():
		return Result{
			Action:     errors.RecoveryActionStop,
			Category:   botErr.Category,
			ShouldStop: true,
			Message:    fmt.Sprintf("fatal error in %s: %s", botErr.Component, botErr.Message),
		}
	case h.consecutive >= h.cfg.MaxConsecutiveFailures:
		h.logger.Error("error budget exhausted: %d consecutive failed cycles, last %s", h.consecutive, botErr.Category)
		return Result{
			Action:     errors.RecoveryActionStop,
			Category:   botErr.Category,
			ShouldStop: true,
			Message:    fmt.Sprintf("%d consecutive failed cycles (last: %s)", h.consecutive, botErr.Category),
		}
	}

	action := botErr.GetRecoveryAction()
	return Result{
		Action:   action,
		Category: botErr.Category,
		Delay:    h.delay(botErr.Category, h.consecutive-1),
		Message:  recoveryMessage(action, botErr),
	}
}

// RecordSuccess closes a healthy cycle and resets the budget.
func (h *Handler) RecordSuccess() {
	h.mu.Lock()
	if h.consecutive > 0 {
		h.logger.Info("trading cycle recovered after %d failed cycles", h.consecutive)
	}
	h.consecutive = 0
	h.mu.Unlock()
}

func (h *Handler) ConsecutiveFailures() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.consecutive
}

// ExecuteWithRetry runs fn until it succeeds, the error is not retryable, the
// per-category retry cap is reached, or ctx ends.
func (h *Handler) ExecuteWithRetry(ctx context.Context, component, operation string, fn func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 0 {
				h.logger.Info("%s.%s succeeded after %d attempts", component, operation, attempt+1)
			}
			return nil
		}

		h.mu.Lock()
		botErr := h.recordLocked(err, component, operation, attempt)
		h.mu.Unlock()

		action := botErr.GetRecoveryAction()
		if action != errors.RecoveryActionRetry && action != errors.RecoveryActionWait {
			return botErr
		}
		if attempt+1 >= h.cfg.MaxRetries[botErr.Category] {
			return fmt.Errorf("%s.%s failed after %d attempts: %w", component, operation, attempt+1, botErr)
		}

		delay := h.delay(botErr.Category, attempt)
		if delay <= 0 {
			continue
		}
		h.logger.LogDebugOnly("waiting %v before retrying %s.%s", delay, component, operation)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Stats is a copy of the error statistics. ErrorRates is each category's share of TotalErrors.
type Stats struct {
	TotalErrors         int                              `json:"total_errors"`
	ErrorsByCategory    map[errors.ErrorCategory]int     `json:"errors_by_category"`
	ErrorRates          map[errors.ErrorCategory]float64 `json:"error_rates,omitempty"`
	ConsecutiveFailures int                              `json:"consecutive_failures"`
	Recent              []string                         `json:"recent,omitempty"`
}

func (h *Handler) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	byCategory := make(map[errors.ErrorCategory]int, len(h.stats.ErrorsByCategory))
	rates := make(map[errors.ErrorCategory]float64, len(h.stats.ErrorsByCategory))
	for k, v := range h.stats.ErrorsByCategory {
		byCategory[k] = v
		rates[k] = h.stats.GetErrorRate(k)
	}
	recent := make([]string, 0, len(h.stats.RecentErrors))
	for _, e := range h.stats.RecentErrors {
		recent = append(recent, e.Error())
	}
	return Stats{
		TotalErrors:         h.stats.TotalErrors,
		ErrorsByCategory:    byCategory,
		ErrorRates:          rates,
		ConsecutiveFailures: h.consecutive,
		Recent:              recent,
	}
}

func (h *Handler) recordLocked(err error, component, operation string, attempt int) *errors.BotError {
	botErr := errors.CategorizeError(err, component, operation)
	h.stats.RecordError(botErr)

	switch {
	case botErr.IsFatal():
		h.logger.Error("FATAL ERROR: %s", botErr.Error())
	case attempt > 0:
		h.logger.LogWarning("error recovery", "attempt %d - %s", attempt+1, botErr.Error())
	default:
		h.logger.LogWarning("error recovery", "%s", botErr.Error())
	}
	return botErr
}

func (h *Handler) delay(category errors.ErrorCategory, attempt int) time.Duration {
	base := h.cfg.BaseDelay
	if category == errors.ErrorCategoryRateLimit {
		base *= 10
	}

	multiplier := 1.0
	for i := 0; i < attempt; i++ {
		multiplier *= h.cfg.Multiplier
	}
	delay := time.Duration(float64(base) * multiplier)
	if h.cfg.MaxDelay > 0 && delay > h.cfg.MaxDelay {
		delay = h.cfg.MaxDelay
	}
	if h.cfg.Jitter && delay > 0 {
		if jitter := int64(delay) / 10; jitter > 0 {
			delay += time.Duration(rand.Int63n(jitter))
		}
	}
	return delay
}

func recoveryMessage(action errors.RecoveryAction, botErr *errors.BotError) string {
	switch action {
	case errors.RecoveryActionRetry:
		return fmt.Sprintf("retrying %s next cycle after %s error", botErr.Operation, botErr.Category)
	case errors.RecoveryActionWait:
		return fmt.Sprintf("backing off due to %s", botErr.Category)
	case errors.RecoveryActionSkip:
		return fmt.Sprintf("skipping %s after non-retryable %s error", botErr.Operation, botErr.Category)
	default:
		return fmt.Sprintf("stopping due to %s error", botErr.Category)
	}
}
