package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

const (
	CodeValidation        = "E100"
	CodeUnauthorized      = "E110"
	CodeForbidden         = "E111"
	CodeNotFound          = "E120"
	CodeConflict          = "E130"
	CodeDatabase          = "E200"
	CodeExternalAPI       = "E300"
	CodeInvalidTransition = "E400"
	CodeAlreadyClaimed    = "E410"
	CodeLimitReached      = "E420"
	CodeInsufficientFunds = "E430"
	CodeRateLimit         = "E500"
	CodeInternal          = "E900"
)

type AppError struct {
	Code        string
	Message     string
	UserMessage string
	Severity    Severity
	Retryable   bool
	HTTPStatus  int
	// Details is serialized next to the message, e.g. the next eligible claim time.
	Details map[string]any
	cause   error
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}

	return e.Message
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.cause
}

func (e *AppError) Cause() error {
	return e.Unwrap()
}

// Status returns the HTTP status for the error, 500 when unset.
func (e *AppError) Status() int {
	if e == nil || e.HTTPStatus == 0 {
		return http.StatusInternalServerError
	}
	return e.HTTPStatus
}

// WithDetail attaches a key to Details and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// As extracts the *AppError in err's chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) && appErr != nil {
		return appErr, true
	}
	return nil, false
}

// HasCode reports whether err carries an AppError with the given code.
func HasCode(err error, code string) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}

func NewValidationError(msg string) *AppError {
	return &AppError{
		Code:        CodeValidation,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusBadRequest,
	}
}

func NewUnauthorizedError(msg string) *AppError {
	return &AppError{
		Code:        CodeUnauthorized,
		Message:     msg,
		UserMessage: "Not authorized",
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusUnauthorized,
	}
}

func NewForbiddenError(msg string) *AppError {
	return &AppError{
		Code:        CodeForbidden,
		Message:     msg,
		UserMessage: "Not authorized",
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusForbidden,
	}
}

func NewNotFoundError(entity string) *AppError {
	return &AppError{
		Code:        CodeNotFound,
		Message:     fmt.Sprintf("%s not found", entity),
		UserMessage: fmt.Sprintf("%s not found", entity),
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusNotFound,
	}
}

// NewConflictError reports a request that collides with another one still running.
func NewConflictError(msg string) *AppError {
	return &AppError{
		Code:        CodeConflict,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		Retryable:   true,
		HTTPStatus:  http.StatusConflict,
	}
}

func NewDatabaseError(cause error) *AppError {
	var underlyingMsg string
	if cause != nil {
		underlyingMsg = cause.Error()
	}

	return &AppError{
		Code:        CodeDatabase,
		Message:     fmt.Sprintf("Database error: %s", underlyingMsg),
		UserMessage: "Temporary problem, please try again later",
		Severity:    SeverityHigh,
		Retryable:   true,
		HTTPStatus:  http.StatusInternalServerError,
		cause:       cause,
	}
}

func NewExternalAPIError(apiName string, cause error) *AppError {
	return &AppError{
		Code:        CodeExternalAPI,
		Message:     fmt.Sprintf("External API error: %s", apiName),
		UserMessage: "Service temporarily unavailable",
		Severity:    SeverityMedium,
		Retryable:   true,
		HTTPStatus:  http.StatusBadGateway,
		cause:       cause,
	}
}

// NewStateError reports a moderation transition that the current status does not allow.
func NewStateError(msg string) *AppError {
	return &AppError{
		Code:        CodeInvalidTransition,
		Message:     msg,
		UserMessage: "Operation not allowed in the current state",
		Severity:    SeverityMedium,
		HTTPStatus:  http.StatusConflict,
	}
}

func NewAlreadyClaimedError(msg string) *AppError {
	return &AppError{
		Code:        CodeAlreadyClaimed,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusConflict,
	}
}

// NewGiftCooldownError is AlreadyClaimed for the gift reward, carrying the next eligible instant.
func NewGiftCooldownError(nextAt time.Time) *AppError {
	return NewAlreadyClaimedError("Gift already claimed, come back later").
		WithDetail("next_gift_at", nextAt.UTC())
}

func NewLimitReachedError(msg string) *AppError {
	return &AppError{
		Code:        CodeLimitReached,
		Message:     msg,
		UserMessage: msg,
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusTooManyRequests,
	}
}

func NewInsufficientFundsError(balance, required int64) *AppError {
	return &AppError{
		Code:        CodeInsufficientFunds,
		Message:     fmt.Sprintf("insufficient coins: have %d, need %d", balance, required),
		UserMessage: "Not enough coins",
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusPaymentRequired,
		Details:     map[string]any{"balance": balance, "required": required},
	}
}

func NewRateLimitError(retryAfter int) *AppError {
	return &AppError{
		Code:        CodeRateLimit,
		Message:     fmt.Sprintf("Rate limit exceeded: retry after %d seconds", retryAfter),
		UserMessage: fmt.Sprintf("Too many requests. Try again in %d seconds", retryAfter),
		Severity:    SeverityLow,
		HTTPStatus:  http.StatusTooManyRequests,
		Details:     map[string]any{"retry_after": retryAfter},
	}
}

// NewInternalError wraps an unexpected failure that should not leak to users.
func NewInternalError(cause error) *AppError {
	msg := "internal error"
	if cause != nil {
		msg = fmt.Sprintf("internal error: %s", cause.Error())
	}
	return &AppError{
		Code:        CodeInternal,
		Message:     msg,
		UserMessage: "Something went wrong, please try again later",
		Severity:    SeverityCritical,
		HTTPStatus:  http.StatusInternalServerError,
		cause:       cause,
	}
}
