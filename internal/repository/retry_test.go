package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRetry(t *testing.T) {
	errFatal := errors.New("fatal")

	tests := []struct {
		name      string
		failures  []error
		wantCalls int
		wantErr   error
	}{
		{name: "first attempt succeeds", wantCalls: 1},
		{name: "conflict then success", failures: []error{ErrConflict}, wantCalls: 2},
		{name: "duplicate then success", failures: []error{ErrDuplicateTransaction, ErrConflict}, wantCalls: 3},
		{name: "fatal error is not retried", failures: []error{errFatal}, wantCalls: 1, wantErr: errFatal},
		{
			name:      "exhausted",
			failures:  []error{ErrConflict, ErrConflict, ErrConflict},
			wantCalls: MaxAttempts,
			wantErr:   ErrRetriesExhausted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int
			err := WithRetry(context.Background(), MaxAttempts, IsTransientBase, func() error {
				calls++
				if calls <= len(tt.failures) {
					return tt.failures[calls-1]
				}
				return nil
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestWithRetry_ExhaustedWrapsLastError(t *testing.T) {
	err := WithRetry(context.Background(), 2, IsTransientBase, func() error {
		return ErrConflict
	})
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestWithRetry_StopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	start := time.Now()
	err := WithRetry(ctx, MaxAttempts, IsTransientBase, func() error {
		calls++
		cancel()
		return ErrConflict
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), time.Second)
}
