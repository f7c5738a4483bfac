package bybit

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/ducminhle1904/crypto-risk-core/internal/errors"
)

// APIError is a non-zero retCode returned by the Bybit v5 API.
type APIError struct {
	Code      int    `json:"code"`
	Message   string `json:"message"`
	Operation string `json:"operation,omitempty"`
}

func (e *APIError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("bybit %s: error %d: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("bybit error %d: %s", e.Code, e.Message)
}

const (
	ErrCodeInvalidAPIKey       = 10003
	ErrCodeInvalidSignature    = 10004
	ErrCodeInvalidTimestamp    = 10005
	ErrCodeRateLimitExceeded   = 10006
	ErrCodeOrderNotFound       = 110001
	ErrCodeInvalidOrderType    = 110004
	ErrCodeInsufficientBalance = 110007
	ErrCodeSymbolNotFound      = 110009
	ErrCodeInvalidQuantity     = 110020
	ErrCodeInvalidPrice        = 110021
	ErrCodeMarketClosed        = 110043
)

// Categorize maps an API failure onto the bot error taxonomy so the engine's
// recovery handler can decide whether to retry.
func Categorize(operation string, err error) *errors.BotError {
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if !stderrors.As(err, &apiErr) {
		return errors.CategorizeError(err, "bybit", operation)
	}

	category := errors.ErrorCategoryExchange
	switch apiErr.Code {
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature:
		category = errors.ErrorCategoryAuth
	case ErrCodeInvalidTimestamp, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		category = errors.ErrorCategoryTemporary
	case ErrCodeRateLimitExceeded:
		category = errors.ErrorCategoryRateLimit
	case ErrCodeInsufficientBalance, ErrCodeInvalidOrderType, ErrCodeInvalidQuantity,
		ErrCodeInvalidPrice, ErrCodeSymbolNotFound, ErrCodeMarketClosed:
		category = errors.ErrorCategoryValidation
	}
	return errors.WrapError(err, category, "bybit", operation).WithContext("ret_code", apiErr.Code)
}
