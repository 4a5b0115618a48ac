// Package errors provides standardized error handling for campaign dispatch.
package errors

import (
	"errors"
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
	ErrCodeGatewayUnavailable  ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrCodeGatewayTimeout      ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeMessageSendFailed   ErrorCode = "MESSAGE_SEND_FAILED"
	ErrCodeMessageRejected     ErrorCode = "MESSAGE_REJECTED"
	ErrCodeInvalidRecipient    ErrorCode = "INVALID_RECIPIENT"

	ErrCodeConsentBlocked   ErrorCode = "CONSENT_BLOCKED"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeOutsideSendWindow ErrorCode = "OUTSIDE_SEND_WINDOW"

	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"

	ErrCodeElasticsearchConnectionFailed ErrorCode = "ELASTICSEARCH_CONNECTION_FAILED"
	ErrCodeAuditWriteFailed              ErrorCode = "AUDIT_WRITE_FAILED"

	ErrCodeContactSourceFailed ErrorCode = "CONTACT_SOURCE_FAILED"
	ErrCodeContactMalformed    ErrorCode = "CONTACT_MALFORMED"

	ErrCodeCampaignNotFound   ErrorCode = "CAMPAIGN_NOT_FOUND"
	ErrCodeCampaignPaused     ErrorCode = "CAMPAIGN_PAUSED"
	ErrCodeTestNotFound       ErrorCode = "TEST_NOT_FOUND"
	ErrCodeConfigInvalid      ErrorCode = "CONFIG_INVALID"
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeWorkflowPublishFailed ErrorCode = "WORKFLOW_PUBLISH_FAILED"
	ErrCodeNotificationSendFailed ErrorCode = "NOTIFICATION_SEND_FAILED"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewGatewayUnavailableError creates a retryable gateway connectivity error.
// A nil cause still yields a usable error.
func NewGatewayUnavailableError(err error) *StandardError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return &StandardError{
		Code:      ErrCodeGatewayUnavailable,
		Message:   "Message gateway unreachable",
		Details:   details,
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayTimeoutError creates a retryable gateway timeout error.
func NewGatewayTimeoutError(gateway string) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayTimeout,
		Message:   "Message gateway timeout",
		Details:   fmt.Sprintf("gateway: %s", gateway),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageSendFailedError creates a retryable send error.
func NewMessageSendFailedError(contactID string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMessageSendFailed,
		Message:   "Message delivery failed",
		Details:   fmt.Sprintf("contactId: %s, error: %s", contactID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMessageRejectedError creates a non-retryable rejection error.
func NewMessageRejectedError(contactID, reason string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMessageRejected,
		Message:   "Message rejected by gateway",
		Details:   fmt.Sprintf("contactId: %s, reason: %s", contactID, reason),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidRecipientError creates a non-retryable recipient error.
func NewInvalidRecipientError(contactID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidRecipient,
		Message:   "Recipient address invalid",
		Details:   fmt.Sprintf("contactId: %s", contactID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConsentBlockedError creates a non-retryable consent error. Blocked
// sends are normal outcomes, never retried.
func NewConsentBlockedError(contactID, state string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConsentBlocked,
		Message:   "Send blocked by consent state",
		Details:   fmt.Sprintf("contactId: %s, consentState: %s", contactID, state),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitExceededError creates a retryable rate-limit error carrying
// the earliest time the send may be attempted again.
func NewRateLimitExceededError(scope string, retryAfter time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimitExceeded,
		Message:   "Send rate limit exceeded",
		Details:   fmt.Sprintf("scope: %s", scope),
		Retryable: true,
		Metadata:  map[string]interface{}{"retryAfterSeconds": retryAfter.Seconds()},
		Timestamp: time.Now().UTC(),
	}
}

// NewOutsideSendWindowError creates a retryable scheduling error.
func NewOutsideSendWindowError(segment string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOutsideSendWindow,
		Message:   "Current time outside segment send window",
		Details:   fmt.Sprintf("segment: %s", segment),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(operation string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewElasticsearchConnectionFailedError creates a retryable Elasticsearch connection error.
func NewElasticsearchConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeElasticsearchConnectionFailed,
		Message:   "Elasticsearch connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAuditWriteFailedError creates a retryable audit sink error.
func NewAuditWriteFailedError(index string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeAuditWriteFailed,
		Message:   "Audit document write failed",
		Details:   fmt.Sprintf("index: %s, error: %s", index, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewContactSourceFailedError creates a retryable contact source error.
func NewContactSourceFailedError(source string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeContactSourceFailed,
		Message:   "Contact source read failed",
		Details:   fmt.Sprintf("source: %s, error: %s", source, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewContactMalformedError creates a non-retryable contact record error.
func NewContactMalformedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeContactMalformed,
		Message:   "Contact record malformed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCampaignNotFoundError creates a non-retryable lookup error.
func NewCampaignNotFoundError(campaignID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCampaignNotFound,
		Message:   "Campaign not found",
		Details:   fmt.Sprintf("campaignId: %s", campaignID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewCampaignPausedError creates a retryable paused-campaign error.
func NewCampaignPausedError(campaignID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCampaignPaused,
		Message:   "Campaign is paused",
		Details:   fmt.Sprintf("campaignId: %s", campaignID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewTestNotFoundError creates a non-retryable lookup error.
func NewTestNotFoundError(testID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeTestNotFound,
		Message:   "A/B test not found",
		Details:   fmt.Sprintf("testId: %s", testID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigInvalidError creates a non-retryable configuration error.
func NewConfigInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeConfigInvalid,
		Message:   "Configuration validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationFailedError creates a non-retryable data validation error.
func NewValidationFailedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Data validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewWorkflowPublishFailedError creates a retryable workflow publish error.
func NewWorkflowPublishFailedError(messageName string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeWorkflowPublishFailed,
		Message:   "Workflow message publish failed",
		Details:   fmt.Sprintf("messageName: %s, error: %s", messageName, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewNotificationSendFailedError creates a retryable notification send error.
func NewNotificationSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Generic constructors

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "EXTERNAL_SERVICE_ERROR",
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      "TIMEOUT_ERROR",
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Retry Policy
// ==========================

// GetRetryCount returns the recommended retry count for an error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeGatewayUnavailable,
		ErrCodeMessageSendFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeElasticsearchConnectionFailed,
		ErrCodeAuditWriteFailed,
		ErrCodeContactSourceFailed,
		ErrCodeWorkflowPublishFailed,
		ErrCodeNotificationSendFailed:
		return 3

	case ErrCodeGatewayTimeout,
		ErrCodeQueryTimeout:
		return 2

	case ErrCodeRateLimitExceeded,
		ErrCodeOutsideSendWindow,
		ErrCodeCampaignPaused:
		// Deferred, not dropped: the dispatcher requeues these itself.
		return 0

	default:
		return 0
	}
}

// ==========================
// 4. Utility Functions
// ==========================

// IsRetryable reports whether err is a StandardError marked retryable.
func IsRetryable(err error) bool {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Retryable
	}
	return false
}

// CodeOf extracts the ErrorCode from err, or empty if it is not a StandardError.
func CodeOf(err error) ErrorCode {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr.Code
	}
	return ""
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "GATEWAY") || strings.Contains(codeStr, "MESSAGE") || strings.Contains(codeStr, "RECIPIENT"):
		return "GATEWAY"
	case strings.Contains(codeStr, "CONSENT") || strings.Contains(codeStr, "RATE") || strings.Contains(codeStr, "WINDOW"):
		return "POLICY"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "ELASTICSEARCH") || strings.Contains(codeStr, "AUDIT"):
		return "AUDIT"
	case strings.Contains(codeStr, "CONTACT"):
		return "CONTACTS"
	case strings.Contains(codeStr, "CONFIG") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	case strings.Contains(codeStr, "WORKFLOW") || strings.Contains(codeStr, "NOTIFICATION"):
		return "INTEGRATION"
	default:
		return "OTHER"
	}
}
