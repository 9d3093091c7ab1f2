// Package errors provides the tagged error hierarchy used across the proxy
// core, so that every failure path translates cleanly into a client protocol's
// native error grammar (spec.md §7).
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AntigravityError is the base error type for proxy errors.
type AntigravityError struct {
	Message   string                 `json:"message"`
	Code      string                 `json:"code"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

func (e *AntigravityError) Error() string {
	return e.Message
}

// ToJSON converts the error to a map suitable for an API response.
func (e *AntigravityError) ToJSON() map[string]interface{} {
	result := map[string]interface{}{
		"name":      "AntigravityError",
		"code":      e.Code,
		"message":   e.Message,
		"retryable": e.Retryable,
	}
	for k, v := range e.Metadata {
		result[k] = v
	}
	return result
}

// MarshalJSON implements json.Marshaler.
func (e *AntigravityError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.ToJSON())
}

// NewAntigravityError creates a new AntigravityError.
func NewAntigravityError(message, code string, retryable bool, metadata map[string]interface{}) *AntigravityError {
	if metadata == nil {
		metadata = make(map[string]interface{})
	}
	return &AntigravityError{Message: message, Code: code, Retryable: retryable, Metadata: metadata}
}

// RateLimitError represents a rate limit error (429 / RESOURCE_EXHAUSTED).
type RateLimitError struct {
	*AntigravityError
	ResetMs      *int64 `json:"resetMs,omitempty"`
	AccountEmail string `json:"accountEmail,omitempty"`
}

func NewRateLimitError(message string, resetMs *int64, accountEmail string) *RateLimitError {
	metadata := map[string]interface{}{}
	if resetMs != nil {
		metadata["resetMs"] = *resetMs
	}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	return &RateLimitError{
		AntigravityError: &AntigravityError{Message: message, Code: "RATE_LIMITED", Retryable: true, Metadata: metadata},
		ResetMs:          resetMs,
		AccountEmail:     accountEmail,
	}
}

// AuthError represents an authentication error (401).
type AuthError struct {
	*AntigravityError
	AccountEmail string `json:"accountEmail,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

func NewAuthError(message, accountEmail, reason string) *AuthError {
	metadata := map[string]interface{}{}
	if accountEmail != "" {
		metadata["accountEmail"] = accountEmail
	}
	if reason != "" {
		metadata["reason"] = reason
	}
	return &AuthError{
		AntigravityError: &AntigravityError{Message: message, Code: "AUTH_INVALID", Retryable: false, Metadata: metadata},
		AccountEmail:     accountEmail,
		Reason:           reason,
	}
}

// InvalidGrantError represents a refresh token rejected with invalid_grant;
// the owning account transitions to disabled (spec.md §3 TokenData, §7).
type InvalidGrantError struct {
	*AntigravityError
	AccountEmail string `json:"accountEmail,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

func NewInvalidGrantError(accountEmail, detail string) *InvalidGrantError {
	return &InvalidGrantError{
		AntigravityError: &AntigravityError{
			Message:   fmt.Sprintf("invalid_grant: %s", detail),
			Code:      "INVALID_GRANT",
			Retryable: false,
			Metadata:  map[string]interface{}{"accountEmail": accountEmail, "detail": detail},
		},
		AccountEmail: accountEmail,
		Detail:       detail,
	}
}

// ValidationBlockedError represents an upstream VALIDATION_REQUIRED rejection;
// the account is excluded from rotation until ValidationBlockedUntil elapses.
type ValidationBlockedError struct {
	*AntigravityError
	AccountEmail           string `json:"accountEmail,omitempty"`
	ValidationBlockedUntil int64  `json:"validationBlockedUntil"`
}

func NewValidationBlockedError(accountEmail string, blockedUntilUnix int64) *ValidationBlockedError {
	return &ValidationBlockedError{
		AntigravityError: &AntigravityError{
			Message:   "account requires validation",
			Code:      "VALIDATION_BLOCKED",
			Retryable: false,
			Metadata:  map[string]interface{}{"accountEmail": accountEmail, "validationBlockedUntil": blockedUntilUnix},
		},
		AccountEmail:           accountEmail,
		ValidationBlockedUntil: blockedUntilUnix,
	}
}

// NoAccountsError represents no accounts available for selection.
type NoAccountsError struct {
	*AntigravityError
	AllRateLimited bool `json:"allRateLimited"`
}

func NewNoAccountsError(message string, allRateLimited bool) *NoAccountsError {
	if message == "" {
		message = "No accounts available"
	}
	return &NoAccountsError{
		AntigravityError: &AntigravityError{
			Message: message, Code: "NO_ACCOUNTS", Retryable: allRateLimited,
			Metadata: map[string]interface{}{"allRateLimited": allRateLimited},
		},
		AllRateLimited: allRateLimited,
	}
}

// MaxRetriesError represents max retries exceeded.
type MaxRetriesError struct {
	*AntigravityError
	Attempts int `json:"attempts"`
}

func NewMaxRetriesError(message string, attempts int) *MaxRetriesError {
	if message == "" {
		message = "Max retries exceeded"
	}
	return &MaxRetriesError{
		AntigravityError: &AntigravityError{
			Message: message, Code: "MAX_RETRIES", Retryable: false,
			Metadata: map[string]interface{}{"attempts": attempts},
		},
		Attempts: attempts,
	}
}

// ApiError represents an API error returned by upstream.
type ApiError struct {
	*AntigravityError
	StatusCode int    `json:"statusCode"`
	ErrorType  string `json:"errorType"`
}

func NewApiError(message string, statusCode int, errorType string) *ApiError {
	if errorType == "" {
		errorType = "api_error"
	}
	return &ApiError{
		AntigravityError: &AntigravityError{
			Message: message, Code: strings.ToUpper(errorType), Retryable: statusCode >= 500,
			Metadata: map[string]interface{}{"statusCode": statusCode, "errorType": errorType},
		},
		StatusCode: statusCode,
		ErrorType:  errorType,
	}
}

// EmptyResponseError represents an empty response from upstream.
type EmptyResponseError struct {
	*AntigravityError
}

func NewEmptyResponseError(message string) *EmptyResponseError {
	if message == "" {
		message = "No content received from API"
	}
	return &EmptyResponseError{
		AntigravityError: &AntigravityError{Message: message, Code: "EMPTY_RESPONSE", Retryable: true, Metadata: map[string]interface{}{}},
	}
}

// CapacityExhaustedError represents a model capacity exhausted condition.
type CapacityExhaustedError struct {
	*AntigravityError
	RetryAfterMs *int64 `json:"retryAfterMs,omitempty"`
}

func NewCapacityExhaustedError(message string, retryAfterMs *int64) *CapacityExhaustedError {
	if message == "" {
		message = "Model capacity exhausted"
	}
	metadata := map[string]interface{}{}
	if retryAfterMs != nil {
		metadata["retryAfterMs"] = *retryAfterMs
	}
	return &CapacityExhaustedError{
		AntigravityError: &AntigravityError{Message: message, Code: "CAPACITY_EXHAUSTED", Retryable: true, Metadata: metadata},
		RetryAfterMs:     retryAfterMs,
	}
}

// StreamParseError represents repeated (>3) SSE frame JSON parse failures
// within a single response stream (spec.md §7 stream_parse_error).
type StreamParseError struct {
	*AntigravityError
	Occurrences int `json:"occurrences"`
}

func NewStreamParseError(occurrences int) *StreamParseError {
	return &StreamParseError{
		AntigravityError: &AntigravityError{
			Message: "repeated SSE parse failures", Code: "STREAM_PARSE_ERROR", Retryable: false,
			Metadata: map[string]interface{}{"occurrences": occurrences},
		},
		Occurrences: occurrences,
	}
}

// UpstreamUnreachableError represents exhaustion of the endpoint cascade with
// only network-level failures (spec.md §7 upstream_unreachable).
type UpstreamUnreachableError struct {
	*AntigravityError
	Attempts []string `json:"attempts,omitempty"`
}

func NewUpstreamUnreachableError(attempts []string) *UpstreamUnreachableError {
	return &UpstreamUnreachableError{
		AntigravityError: &AntigravityError{
			Message: "all upstream endpoints unreachable", Code: "UPSTREAM_UNREACHABLE", Retryable: false,
			Metadata: map[string]interface{}{"attempts": attempts},
		},
		Attempts: attempts,
	}
}

// Error-kind checking helpers.

func IsRateLimitError(err error) bool {
	if _, ok := err.(*RateLimitError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "resource_exhausted") ||
		strings.Contains(msg, "quota_exhausted") || strings.Contains(msg, "rate limit")
}

func IsAuthError(err error) bool {
	if _, ok := err.(*AuthError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "AUTH_INVALID") || strings.Contains(msg, "INVALID_GRANT") ||
		strings.Contains(msg, "TOKEN REFRESH FAILED")
}

func IsInvalidGrant(err error) bool {
	if _, ok := err.(*InvalidGrantError); ok {
		return true
	}
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "invalid_grant")
}

func IsEmptyResponseError(err error) bool {
	if _, ok := err.(*EmptyResponseError); ok {
		return true
	}
	if ag, ok := err.(*AntigravityError); ok {
		return ag.Code == "EMPTY_RESPONSE"
	}
	return false
}

func IsCapacityExhaustedError(err error) bool {
	if _, ok := err.(*CapacityExhaustedError); ok {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "model_capacity_exhausted") || strings.Contains(msg, "capacity_exhausted") ||
		strings.Contains(msg, "model is currently overloaded") || strings.Contains(msg, "service temporarily unavailable")
}

// WrapError wraps a standard error with an AntigravityError.
func WrapError(err error, code string, retryable bool) *AntigravityError {
	if err == nil {
		return nil
	}
	return NewAntigravityError(err.Error(), code, retryable, nil)
}

// FormatAPIError formats an error for an API response.
func FormatAPIError(err error) map[string]interface{} {
	switch e := err.(type) {
	case *AntigravityError:
		return e.ToJSON()
	case *RateLimitError:
		return e.ToJSON()
	case *AuthError:
		return e.ToJSON()
	case *InvalidGrantError:
		return e.ToJSON()
	case *ValidationBlockedError:
		return e.ToJSON()
	case *NoAccountsError:
		return e.ToJSON()
	case *MaxRetriesError:
		return e.ToJSON()
	case *ApiError:
		return e.ToJSON()
	case *EmptyResponseError:
		return e.ToJSON()
	case *CapacityExhaustedError:
		return e.ToJSON()
	case *StreamParseError:
		return e.ToJSON()
	case *UpstreamUnreachableError:
		return e.ToJSON()
	}

	return map[string]interface{}{
		"type": "error",
		"error": map[string]interface{}{
			"type":    "internal_error",
			"message": err.Error(),
		},
	}
}

// HTTPStatusFromError returns the HTTP status code appropriate for an error.
func HTTPStatusFromError(err error) int {
	switch e := err.(type) {
	case *RateLimitError:
		return 429
	case *AuthError:
		return 401
	case *InvalidGrantError:
		return 401
	case *ValidationBlockedError:
		return 403
	case *NoAccountsError:
		if e.AllRateLimited {
			return 429
		}
		return 503
	case *MaxRetriesError:
		return 503
	case *ApiError:
		return e.StatusCode
	case *EmptyResponseError:
		return 502
	case *CapacityExhaustedError:
		return 503
	case *StreamParseError:
		return 502
	case *UpstreamUnreachableError:
		return 502
	default:
		return 500
	}
}

// ErrorWithContext adds context to an error.
func ErrorWithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}
