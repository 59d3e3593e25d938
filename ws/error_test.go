package ws

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	err := NewError(KindTimeout, "request timed out", nil)
	assert.True(t, IsTimeout(err))
	assert.False(t, IsConnectionClosed(err))
	assert.Equal(t, "timeout: request timed out", err.Error())

	err = NewError(KindConnectionClosed, "websocket closed", nil)
	assert.True(t, IsConnectionClosed(err))
	assert.False(t, IsTimeout(err))
}

func TestErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewError(KindConnectFailed, "handshake failed", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorClassifiedThroughWrapping(t *testing.T) {
	t.Parallel()

	inner := NewError(KindTimeout, "deadline exceeded", nil)
	wrapped := fmt.Errorf("command failed: %w", inner)

	assert.True(t, IsTimeout(wrapped))

	var e *Error
	assert.True(t, errors.As(wrapped, &e))
	assert.Equal(t, KindTimeout, e.Kind)
}
