package domain

import "strings"

// ErrorCode is the classified failure category recorded in execution logs.
type ErrorCode string

const (
	ErrorCodeTimeout    ErrorCode = "TIMEOUT"
	ErrorCodeNetwork    ErrorCode = "NETWORK_ERROR"
	ErrorCodeRateLimit  ErrorCode = "RATE_LIMIT"
	ErrorCodeMemory     ErrorCode = "MEMORY_ERROR"
	ErrorCodePermission ErrorCode = "PERMISSION_ERROR"
	ErrorCodeValidation ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrorCodeHandler    ErrorCode = "HANDLER_ERROR"
	ErrorCodeUnknown    ErrorCode = "UNKNOWN_ERROR"
)

// classificationRules are evaluated in order; the first match wins.
var classificationRules = []struct {
	code     ErrorCode
	keywords []string
}{
	{ErrorCodeTimeout, []string{"timeout"}},
	{ErrorCodeNetwork, []string{"network", "econnrefused", "connection refused", "connection reset"}},
	{ErrorCodeRateLimit, []string{"rate limit"}},
	{ErrorCodeMemory, []string{"memory"}},
	{ErrorCodePermission, []string{"permission", "forbidden"}},
	{ErrorCodeValidation, []string{"validation"}},
	{ErrorCodeNotFound, []string{"not found"}},
	{ErrorCodeHandler, []string{"handler"}},
}

// ClassifyError maps an error message to an ErrorCode by case-insensitive
// substring matching. Foreign errors without a typed classification fall
// through to UNKNOWN_ERROR.
func ClassifyError(message string) ErrorCode {
	msg := strings.ToLower(message)
	for _, rule := range classificationRules {
		for _, kw := range rule.keywords {
			if strings.Contains(msg, kw) {
				return rule.code
			}
		}
	}
	return ErrorCodeUnknown
}

// nonRetryableKeywords permanently fail a job regardless of retries left.
var nonRetryableKeywords = []string{
	"validation",
	"invalid",
	"not found",
	"unauthorized",
	"forbidden",
	"no handler",
	"syntax error",
}

// IsNonRetryable reports whether the error message marks a permanent
// failure that must not be retried.
func IsNonRetryable(message string) bool {
	msg := strings.ToLower(message)
	for _, kw := range nonRetryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}
