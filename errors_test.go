package mqpub

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"transport error", NewTransportError(codes.ResourceExhausted, errors.New("quota")), codes.ResourceExhausted},
		{"wrapped transport error", fmt.Errorf("send: %w", NewTransportError(codes.NotFound, errors.New("gone"))), codes.NotFound},
		{"grpc status", status.Error(codes.Unavailable, "down"), codes.Unavailable},
		{"wrapped grpc status", fmt.Errorf("publish: %w", status.Error(codes.PermissionDenied, "no")), codes.PermissionDenied},
		{"deadline", context.DeadlineExceeded, codes.DeadlineExceeded},
		{"canceled", fmt.Errorf("send: %w", context.Canceled), codes.Canceled},
		{"plain", errors.New("boom"), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestNewTransportError_Nil(t *testing.T) {
	assert.NoError(t, NewTransportError(codes.Internal, nil))
}

func TestTransportError_Status(t *testing.T) {
	err := NewTransportError(codes.Aborted, errors.New("conflict"))
	assert.Equal(t, codes.Aborted, status.Code(err))
	assert.Equal(t, "ABORTED: conflict", err.Error())
}

func TestTransportError_WithoutCause(t *testing.T) {
	var err error = &TransportError{Code: codes.ResourceExhausted}

	assert.Equal(t, "RESOURCE_EXHAUSTED", err.Error())
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
	assert.Equal(t, codes.ResourceExhausted, Classify(err))
}

func TestTerminalErrors_Unwrap(t *testing.T) {
	cause := NewTransportError(codes.Unavailable, errors.New("down"))

	var err error = &PermanentError{Topic: "t", Code: codes.Unavailable, Err: cause}
	require.ErrorIs(t, err, cause)

	err = &RetryExhaustedError{Topic: "t", Code: codes.Unavailable, Attempts: 3, Err: cause}
	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "3 attempts")

	err = &ValidationError{Topic: "t", Reason: "stopped", Err: ErrPublisherStopped}
	require.ErrorIs(t, err, ErrPublisherStopped)
}

func TestParseCode(t *testing.T) {
	for c, name := range codeNames {
		got, err := ParseCode(name)
		require.NoError(t, err, name)
		assert.Equal(t, c, got)
	}

	_, err := ParseCode("NOT_A_CODE")
	require.Error(t, err)
}
