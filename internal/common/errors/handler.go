// internal/common/errors/handler.go
package errors

import (
	"time"
)

// Decision tells the dispatcher what to do with a failed send.
type Decision string

const (
	DecisionRetry Decision = "RETRY"
	DecisionDefer Decision = "DEFER"
	DecisionFail  Decision = "FAIL"
)

// ErrorHandler classifies send errors with standardized handling.
type ErrorHandler struct {
	logger Logger
}

type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
}

func NewErrorHandler(logger Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleSendError normalizes err, logs it, and decides whether the job
// should be retried, deferred to a later slot, or failed permanently.
// attempts is the number of sends already made for the job.
func (h *ErrorHandler) HandleSendError(jobID, contactID string, attempts int, err error) Decision {
	stdErr := h.normalizeError(err)
	h.logError(jobID, contactID, attempts, stdErr)

	switch stdErr.Code {
	case ErrCodeRateLimitExceeded, ErrCodeOutsideSendWindow, ErrCodeCampaignPaused:
		return DecisionDefer
	}

	maxRetries := GetRetryCount(stdErr.Code)
	if stdErr.Retryable && attempts <= maxRetries {
		return DecisionRetry
	}
	return DecisionFail
}

// normalizeError ensures we always have a StandardError.
func (h *ErrorHandler) normalizeError(err error) *StandardError {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr
	}
	return &StandardError{
		Code:      "INTERNAL_ERROR",
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func (h *ErrorHandler) logError(jobID, contactID string, attempts int, stdErr *StandardError) {
	fields := map[string]interface{}{
		"jobId":         jobID,
		"contactId":     contactID,
		"attempts":      attempts,
		"errorCode":     string(stdErr.Code),
		"message":       stdErr.Message,
		"details":       stdErr.Details,
		"retryable":     stdErr.Retryable,
		"errorCategory": GetErrorCategory(stdErr.Code),
	}
	if stdErr.Retryable {
		h.logger.Warn("Send failed", fields)
		return
	}
	h.logger.Error("Send failed", fields)
}
