package errors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordErrorFormatting(t *testing.T) {
	err := NotOpen("app")
	assert.Equal(t, "database 'app' is not open", err.Error())
	assert.Equal(t, "app", err.Details["name"])

	cause := errors.New("disk on fire")
	wrapped := StoreError(cause)
	assert.Contains(t, wrapped.Error(), "disk on fire")
	assert.Equal(t, cause, errors.Unwrap(wrapped))
}

func TestGetCodeThroughWrapping(t *testing.T) {
	base := WriteTimeout(42, 5*time.Second)
	wrapped := fmt.Errorf("executing batch: %w", base)

	require.True(t, IsCoordError(wrapped))
	assert.Equal(t, ErrCodeWriteTimeout, GetCode(wrapped))
	assert.True(t, HasCode(wrapped, ErrCodeWriteTimeout))
	assert.False(t, HasCode(wrapped, ErrCodeNotOpen))
}

func TestGetCodeForeignError(t *testing.T) {
	err := errors.New("not ours")
	assert.False(t, IsCoordError(err))
	assert.Equal(t, ErrCodeUnknown, GetCode(err))
	assert.False(t, HasCode(err, ErrCodeEngine))
	assert.False(t, HasCode(nil, ErrCodeEngine))
}

func TestWriteTimeoutDetails(t *testing.T) {
	err := WriteTimeout(7, 250*time.Millisecond)
	assert.Equal(t, uint64(7), err.Details["request_id"])
	assert.Equal(t, "250ms", err.Details["timeout"])
}

func TestRemoteEngineErrorKeepsCode(t *testing.T) {
	err := RemoteEngineError("no such table: users")
	assert.Equal(t, ErrCodeEngine, GetCode(err))
	assert.Contains(t, err.Error(), "no such table")
}
