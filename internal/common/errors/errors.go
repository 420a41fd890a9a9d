// Package errors provides standardized error handling for practice-insights workers and routes.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeInvalidQuestion ErrorCode = "INVALID_QUESTION"

	ErrCodePracticeAuthFailed     ErrorCode = "PRACTICE_AUTH_FAILED"
	ErrCodePracticeAPIFailed      ErrorCode = "PRACTICE_API_FAILED"
	ErrCodePracticeAPIRateLimited ErrorCode = "PRACTICE_API_RATE_LIMITED"

	ErrCodeBulkReadFailed    ErrorCode = "BULK_READ_FAILED"
	ErrCodeBulkWriteFailed   ErrorCode = "BULK_WRITE_FAILED"
	ErrCodeSearchIndexFailed ErrorCode = "SEARCH_INDEX_FAILED"
	ErrCodeCacheFailed       ErrorCode = "CACHE_FAILED"

	ErrCodeLLMTimeout             ErrorCode = "LLM_TIMEOUT"
	ErrCodeLLMFailed              ErrorCode = "LLM_FAILED"
	ErrCodeAnswerValidationFailed ErrorCode = "ANSWER_VALIDATION_FAILED"
	ErrCodeExportFailed           ErrorCode = "EXPORT_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeWorkflowUnavailable    ErrorCode = "WORKFLOW_UNAVAILABLE"
	ErrCodeWorkflowRejected       ErrorCode = "WORKFLOW_REJECTED"
	ErrCodeInternal               ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

func newError(code ErrorCode, message string, err error, retryable bool) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      code,
		Message:   message,
		Details:   details,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewInvalidQuestionError creates a non-retryable input error.
func NewInvalidQuestionError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidQuestion,
		Message:   "Missing question",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewPracticeAuthFailedError creates a retryable login error for the practice API.
func NewPracticeAuthFailedError(err error) *StandardError {
	return newError(ErrCodePracticeAuthFailed, "Practice API login failed", err, true)
}

// NewPracticeAPIFailedError creates a retryable practice API error.
func NewPracticeAPIFailedError(operation string, err error) *StandardError {
	e := newError(ErrCodePracticeAPIFailed, "Practice API request failed", err, true)
	e.Metadata = map[string]interface{}{"operation": operation}
	return e
}

// NewPracticeAPIRateLimitedError is raised once backoff is exhausted.
func NewPracticeAPIRateLimitedError(operation string, err error) *StandardError {
	e := newError(ErrCodePracticeAPIRateLimited, "Practice API rate limit exhausted", err, true)
	e.Metadata = map[string]interface{}{"operation": operation}
	return e
}

// NewBulkReadFailedError creates a retryable bulk store read error.
func NewBulkReadFailedError(intent string, err error) *StandardError {
	e := newError(ErrCodeBulkReadFailed, "Bulk aggregate read failed", err, true)
	e.Metadata = map[string]interface{}{"intent": intent}
	return e
}

// NewBulkWriteFailedError creates a retryable bulk snapshot write error.
func NewBulkWriteFailedError(err error) *StandardError {
	return newError(ErrCodeBulkWriteFailed, "Bulk snapshot write failed", err, true)
}

// NewSearchIndexFailedError creates a retryable search indexing error.
func NewSearchIndexFailedError(err error) *StandardError {
	return newError(ErrCodeSearchIndexFailed, "Search index update failed", err, true)
}

// NewCacheFailedError is non-retryable: callers continue without the cache.
func NewCacheFailedError(err error) *StandardError {
	return newError(ErrCodeCacheFailed, "Cache operation failed", err, false)
}

// NewLLMTimeoutError creates a retryable LLM timeout error.
func NewLLMTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeLLMTimeout,
		Message:   "LLM call timeout",
		Details:   "LLM call exceeded timeout threshold",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMFailedError creates a retryable LLM API error.
func NewLLMFailedError(err error) *StandardError {
	return newError(ErrCodeLLMFailed, "LLM API error", err, true)
}

// NewAnswerValidationFailedError creates a non-retryable structured answer error.
func NewAnswerValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeAnswerValidationFailed,
		Message:   "Structured answer failed schema validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewExportFailedError creates a non-retryable export error.
func NewExportFailedError(err error) *StandardError {
	return newError(ErrCodeExportFailed, "Export failed", err, false)
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	e := newError(ErrCodeNotificationSendFailed, "Notification delivery failed", err, true)
	e.Metadata = map[string]interface{}{"channel": channel}
	return e
}

// NewWorkflowUnavailableError covers broker connectivity and timeouts.
func NewWorkflowUnavailableError(operation string, err error) *StandardError {
	e := newError(ErrCodeWorkflowUnavailable, "Workflow engine unavailable", err, true)
	e.Metadata = map[string]interface{}{"operation": operation}
	return e
}

// NewWorkflowRejectedError covers commands the broker refused.
func NewWorkflowRejectedError(operation string, err error) *StandardError {
	e := newError(ErrCodeWorkflowRejected, "Workflow command rejected", err, false)
	e.Metadata = map[string]interface{}{"operation": operation}
	return e
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidQuestion:        "INVALID_QUESTION",
	ErrCodePracticeAuthFailed:     "PRACTICE_AUTH_FAILED",
	ErrCodePracticeAPIFailed:      "PRACTICE_API_FAILED",
	ErrCodePracticeAPIRateLimited: "PRACTICE_API_RATE_LIMITED",
	ErrCodeBulkReadFailed:         "BULK_READ_FAILED",
	ErrCodeBulkWriteFailed:        "BULK_WRITE_FAILED",
	ErrCodeSearchIndexFailed:      "SEARCH_INDEX_FAILED",
	ErrCodeCacheFailed:            "CACHE_FAILED",
	ErrCodeLLMTimeout:             "LLM_TIMEOUT",
	ErrCodeLLMFailed:              "LLM_FAILED",
	ErrCodeAnswerValidationFailed: "ANSWER_VALIDATION_FAILED",
	ErrCodeExportFailed:           "EXPORT_FAILED",
	ErrCodeNotificationSendFailed: "NOTIFICATION_SEND_FAILED",
	ErrCodeWorkflowUnavailable:    "WORKFLOW_UNAVAILABLE",
	ErrCodeWorkflowRejected:       "WORKFLOW_REJECTED",
}

// GetRetryCount returns the job retry budget for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodePracticeAPIFailed,
		ErrCodePracticeAuthFailed,
		ErrCodeBulkReadFailed,
		ErrCodeBulkWriteFailed,
		ErrCodeSearchIndexFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeWorkflowUnavailable,
		ErrCodeLLMFailed:
		return 3

	case ErrCodePracticeAPIRateLimited:
		return 2 // backoff already spent five attempts

	case ErrCodeLLMTimeout:
		return 1

	default:
		return 0
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.HasPrefix(codeStr, "PRACTICE"):
		return "PRACTICE_API"
	case strings.HasPrefix(codeStr, "BULK") || strings.HasPrefix(codeStr, "SEARCH") || strings.HasPrefix(codeStr, "CACHE"):
		return "STORAGE"
	case strings.HasPrefix(codeStr, "LLM") || strings.HasPrefix(codeStr, "ANSWER"):
		return "AI"
	case strings.Contains(codeStr, "NOTIFICATION") || strings.Contains(codeStr, "EXPORT"):
		return "DELIVERY"
	case strings.HasPrefix(codeStr, "WORKFLOW"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "INVALID"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
