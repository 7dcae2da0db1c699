package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Run("formats code and message", func(t *testing.T) {
		err := New(ErrCodeBusy, "An unlock is already in flight", 409)
		assert.Equal(t, "busy: An unlock is already in flight", err.Error())
	})

	t.Run("includes detail when present", func(t *testing.T) {
		err := NewWithDetail(ErrCodeInvalidAddress, "Invalid address", "too short", 400)
		assert.Equal(t, "invalid_address: Invalid address (too short)", err.Error())
	})
}

func TestIsAppError(t *testing.T) {
	t.Run("direct AppError", func(t *testing.T) {
		appErr, ok := IsAppError(ErrNotFound)
		require.True(t, ok)
		assert.Equal(t, ErrCodeNotFound, appErr.Code)
	})

	t.Run("survives fmt wrapping", func(t *testing.T) {
		wrapped := fmt.Errorf("failed to load wallet: %w", ErrInvalidPassword)
		appErr, ok := IsAppError(wrapped)
		require.True(t, ok)
		assert.Equal(t, ErrCodeInvalidPassword, appErr.Code)
	})

	t.Run("plain error is not an AppError", func(t *testing.T) {
		_, ok := IsAppError(errors.New("boom"))
		assert.False(t, ok)
	})

	t.Run("nil error is not an AppError", func(t *testing.T) {
		_, ok := IsAppError(nil)
		assert.False(t, ok)
	})
}

func TestHasCode(t *testing.T) {
	assert.True(t, HasCode(ErrQuoteExpired, ErrCodeQuoteExpired))
	assert.False(t, HasCode(ErrQuoteExpired, ErrCodeBusy))
	assert.False(t, HasCode(nil, ErrCodeBusy))

	wrapped := fmt.Errorf("mutate failed: %w", ConcurrentModification())
	assert.True(t, HasCode(wrapped, ErrCodeConcurrentModification))
}

func TestRetryable(t *testing.T) {
	assert.True(t, ConcurrentModification().Retryable)
	assert.True(t, NetworkError("connection refused").Retryable)
	assert.False(t, InsufficientBalance("have 0").Retryable)
	assert.False(t, Reverted("out of gas").Retryable)
}

func TestConstructorCodes(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, WalletNotFound("abc").Code)
	assert.Equal(t, ErrCodeVersionUnsupported, VersionUnsupported(9, 2).Code)
	assert.Equal(t, ErrCodeInvalidAddress, InvalidAddress("x").Code)
	assert.Equal(t, ErrCodeReplaced, Replaced("0xdead").Code)
	assert.Equal(t, ErrCodeExcessivePriceImpact, ExcessivePriceImpact(6.2, 3).Code)
	assert.Equal(t, ErrCodeInvalidPair, InvalidPair("same token").Code)
}
