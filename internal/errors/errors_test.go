package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHTTPStatusMapping(t *testing.T) {
	testCases := []struct {
		name   string
		err    *AppError
		status int
		code   string
	}{
		{"validation", NewValidationError("bad"), http.StatusBadRequest, CodeValidation},
		{"unauthorized", NewUnauthorizedError("no session"), http.StatusUnauthorized, CodeUnauthorized},
		{"forbidden", NewForbiddenError("not admin"), http.StatusForbidden, CodeForbidden},
		{"not found", NewNotFoundError("video"), http.StatusNotFound, CodeNotFound},
		{"invalid transition", NewStateError("approved is terminal"), http.StatusConflict, CodeInvalidTransition},
		{"already claimed", NewAlreadyClaimedError("dup"), http.StatusConflict, CodeAlreadyClaimed},
		{"limit reached", NewLimitReachedError("cap"), http.StatusTooManyRequests, CodeLimitReached},
		{"insufficient funds", NewInsufficientFundsError(10, 1250), http.StatusPaymentRequired, CodeInsufficientFunds},
		{"database", NewDatabaseError(io.EOF), http.StatusInternalServerError, CodeDatabase},
		{"external", NewExternalAPIError("telegram", io.EOF), http.StatusBadGateway, CodeExternalAPI},
		{"conflict", NewConflictError("in progress"), http.StatusConflict, CodeConflict},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, tc.err.Status())
			assert.Equal(t, tc.code, tc.err.Code)
		})
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("claim: %w", NewLimitReachedError("cap"))

	assert.True(t, HasCode(err, CodeLimitReached))
	assert.False(t, HasCode(err, CodeAlreadyClaimed))
	assert.False(t, HasCode(io.EOF, CodeLimitReached))
}

func TestGiftCooldownCarriesNextInstant(t *testing.T) {
	next := time.Date(2024, 5, 2, 10, 0, 0, 0, time.UTC)
	err := NewGiftCooldownError(next)

	assert.Equal(t, CodeAlreadyClaimed, err.Code)
	assert.Equal(t, next, err.Details["next_gift_at"])
}

func TestHandlerNormalizesUnknownErrors(t *testing.T) {
	h := NewHandler(testLogger(), false)

	appErr := h.Handle(context.Background(), io.ErrUnexpectedEOF)
	require.NotNil(t, appErr)
	assert.Equal(t, CodeInternal, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status())
	assert.True(t, stderrors.Is(appErr, io.ErrUnexpectedEOF))

	known := NewValidationError("name too short")
	assert.Same(t, known, h.Handle(context.Background(), known))
	assert.Nil(t, h.Handle(context.Background(), nil))
}

func TestWithRetry(t *testing.T) {
	t.Run("retries retryable errors", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return NewDatabaseError(io.EOF)
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on non-retryable", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), func() error {
			attempts++
			return NewValidationError("bad")
		})

		assert.True(t, HasCode(err, CodeValidation))
		assert.Equal(t, 1, attempts)
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		attempts := 0
		err := WithRetry(context.Background(), func() error {
			attempts++
			return NewDatabaseError(io.EOF)
		})

		assert.Error(t, err)
		assert.Equal(t, MaxRetries+1, attempts)
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := WithRetry(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCircuitBreaker(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker(BreakerSettings{MinRequests: 4, OpenTimeout: time.Minute, HalfOpenMaxRequests: 2})
	cb.now = func() time.Time { return now }

	failing := func() error { return io.EOF }
	for i := 0; i < 4; i++ {
		assert.ErrorIs(t, cb.Call(failing), io.EOF)
	}
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Call(func() error { return nil }), ErrCircuitOpen)

	now = now.Add(time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}
