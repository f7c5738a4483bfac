package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies failures so callers can decide between retry, skip and stop.
type ErrorCategory string

const (
	// Failures that must halt trading
	ErrorCategoryFatal         ErrorCategory = "FATAL"
	ErrorCategoryConfiguration ErrorCategory = "CONFIG"
	ErrorCategoryPersistence   ErrorCategory = "PERSISTENCE"
	ErrorCategorySafety        ErrorCategory = "SAFETY"
	ErrorCategoryAuth          ErrorCategory = "AUTH"

	// Failures a single trading cycle can absorb
	ErrorCategoryExchange   ErrorCategory = "EXCHANGE"
	ErrorCategoryNetwork    ErrorCategory = "NETWORK"
	ErrorCategoryTimeout    ErrorCategory = "TIMEOUT"
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
	ErrorCategoryRateLimit  ErrorCategory = "RATE_LIMIT"
	ErrorCategoryTemporary  ErrorCategory = "TEMPORARY"
)

// Sentinels matched with errors.Is through BotError.Unwrap.
var (
	ErrInvalidSample = stderrors.New("invalid equity sample")
	ErrNotActive     = stderrors.New("emergency stop not active")
	ErrPersistence   = stderrors.New("persistence failure")
	ErrUnauthorized  = stderrors.New("override not authorized")
)

// BotError is a categorized error carrying the component and operation it came from.
type BotError struct {
	Category   ErrorCategory
	Component  string
	Operation  string
	Message    string
	Underlying error
	Context    map[string]interface{}
	Retryable  bool
}

func (e *BotError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *BotError) Unwrap() error {
	return e.Underlying
}

func (e *BotError) IsRetryable() bool {
	return e.Retryable
}

// IsFatal reports whether the error should stop the trading loop outright.
func (e *BotError) IsFatal() bool {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryConfiguration, ErrorCategoryAuth:
		return true
	}
	return false
}

func NewBotError(category ErrorCategory, component, operation, message string) *BotError {
	return &BotError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Context:   make(map[string]interface{}),
		Retryable: isRetryableCategory(category),
	}
}

// WrapError attaches category and origin to err. Returns nil for a nil err.
func WrapError(err error, category ErrorCategory, component, operation string) *BotError {
	if err == nil {
		return nil
	}
	return &BotError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Context:    make(map[string]interface{}),
		Retryable:  isRetryableCategory(category),
	}
}

func (e *BotError) WithContext(key string, value interface{}) *BotError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

func (e *BotError) WithRetryable(retryable bool) *BotError {
	e.Retryable = retryable
	return e
}

func isRetryableCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryNetwork, ErrorCategoryTimeout, ErrorCategoryTemporary, ErrorCategoryRateLimit,
		ErrorCategoryExchange, ErrorCategoryPersistence:
		return true
	default:
		return false
	}
}

// NewInvalidSampleError reports an equity sample that is not finite, is negative,
// or goes back in time.
func NewInvalidSampleError(component, operation, message string) *BotError {
	return &BotError{
		Category:   ErrorCategoryValidation,
		Component:  component,
		Operation:  operation,
		Message:    message,
		Underlying: ErrInvalidSample,
		Context:    make(map[string]interface{}),
	}
}

// NewNotActiveError is returned by resume when no emergency stop is in effect.
func NewNotActiveError(component, operation string) *BotError {
	return &BotError{
		Category:   ErrorCategorySafety,
		Component:  component,
		Operation:  operation,
		Message:    "resume requested while emergency stop is inactive",
		Underlying: ErrNotActive,
		Context:    make(map[string]interface{}),
	}
}

// NewPersistenceError wraps a repository failure. Both ErrPersistence and err match errors.Is.
func NewPersistenceError(component, operation string, err error) *BotError {
	return &BotError{
		Category:   ErrorCategoryPersistence,
		Component:  component,
		Operation:  operation,
		Message:    "repository operation failed",
		Underlying: fmt.Errorf("%w: %w", ErrPersistence, err),
		Context:    make(map[string]interface{}),
		Retryable:  true,
	}
}

func NewUnauthorizedError(component, operation string) *BotError {
	return &BotError{
		Category:   ErrorCategoryAuth,
		Component:  component,
		Operation:  operation,
		Message:    "invalid override token",
		Underlying: ErrUnauthorized,
		Context:    make(map[string]interface{}),
	}
}

func NewNetworkError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryNetwork, component, operation)
}

func NewExchangeError(component, operation string, err error) *BotError {
	return WrapError(err, ErrorCategoryExchange, component, operation)
}

func NewValidationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryValidation, component, operation, message).WithRetryable(false)
}

func NewConfigurationError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryConfiguration, component, operation, message)
}

func NewFatalError(component, operation, message string) *BotError {
	return NewBotError(ErrorCategoryFatal, component, operation, message)
}

// CategorizeError classifies an arbitrary error by its message. BotErrors pass through.
func CategorizeError(err error, component, operation string) *BotError {
	if err == nil {
		return nil
	}

	var botErr *BotError
	if stderrors.As(err, &botErr) {
		return botErr
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return WrapError(err, ErrorCategoryTimeout, component, operation)
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") ||
		strings.Contains(msg, "dial") || strings.Contains(msg, "dns"):
		return WrapError(err, ErrorCategoryNetwork, component, operation)
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return WrapError(err, ErrorCategoryRateLimit, component, operation)
	case strings.Contains(msg, "api key") || strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "signature"):
		return WrapError(err, ErrorCategoryAuth, component, operation)
	case strings.Contains(msg, "insufficient") || strings.Contains(msg, "invalid"):
		return WrapError(err, ErrorCategoryValidation, component, operation)
	}
	return WrapError(err, ErrorCategoryTemporary, component, operation)
}

// RecoveryAction is what the trading loop does with a failed cycle.
type RecoveryAction string

const (
	RecoveryActionRetry RecoveryAction = "RETRY"
	RecoveryActionSkip  RecoveryAction = "SKIP"
	RecoveryActionStop  RecoveryAction = "STOP"
	RecoveryActionWait  RecoveryAction = "WAIT"
)

func (e *BotError) GetRecoveryAction() RecoveryAction {
	switch e.Category {
	case ErrorCategoryFatal, ErrorCategoryConfiguration, ErrorCategoryAuth:
		return RecoveryActionStop
	case ErrorCategoryRateLimit:
		return RecoveryActionWait
	case ErrorCategoryValidation, ErrorCategorySafety:
		return RecoveryActionSkip
	default:
		return RecoveryActionRetry
	}
}

// ErrorStats keeps per-category counts and a bounded list of recent errors.
// Not safe for concurrent use.
type ErrorStats struct {
	TotalErrors      int
	ErrorsByCategory map[ErrorCategory]int
	RecentErrors     []*BotError
	MaxRecentErrors  int
}

func NewErrorStats(maxRecentErrors int) *ErrorStats {
	if maxRecentErrors <= 0 {
		maxRecentErrors = 1
	}
	return &ErrorStats{
		ErrorsByCategory: make(map[ErrorCategory]int),
		RecentErrors:     make([]*BotError, 0, maxRecentErrors),
		MaxRecentErrors:  maxRecentErrors,
	}
}

func (es *ErrorStats) RecordError(err *BotError) {
	if err == nil {
		return
	}
	es.TotalErrors++
	es.ErrorsByCategory[err.Category]++
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > es.MaxRecentErrors {
		es.RecentErrors = es.RecentErrors[len(es.RecentErrors)-es.MaxRecentErrors:]
	}
}

func (es *ErrorStats) GetErrorRate(category ErrorCategory) float64 {
	if es.TotalErrors == 0 {
		return 0.0
	}
	return float64(es.ErrorsByCategory[category]) / float64(es.TotalErrors)
}
