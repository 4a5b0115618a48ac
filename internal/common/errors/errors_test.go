// internal/common/errors/errors_test.go
package errors

import (
	goerrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewGatewayUnavailableError(t *testing.T) {
	t.Run("wraps cause details", func(t *testing.T) {
		err := NewGatewayUnavailableError(goerrors.New("connection refused"))
		assert.Equal(t, ErrCodeGatewayUnavailable, err.Code)
		assert.Equal(t, "connection refused", err.Details)
		assert.True(t, err.Retryable)
	})

	t.Run("nil cause does not panic", func(t *testing.T) {
		var err *StandardError
		assert.NotPanics(t, func() {
			err = NewGatewayUnavailableError(nil)
		})
		assert.Equal(t, ErrCodeGatewayUnavailable, err.Code)
		assert.Empty(t, err.Details)
		assert.NotEmpty(t, err.Error())
	})
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidRecipient, CodeOf(NewInvalidRecipientError("c-1")))
	assert.Equal(t, ErrorCode(""), CodeOf(goerrors.New("plain")))
}
