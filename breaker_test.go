package mqpub

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc/codes"
)

func breakerSettings() BreakerSettings {
	s := DefaultBreakerSettings()
	s.Enabled = true
	s.ConsecutiveFailures = 2
	s.Timeout = time.Hour
	return s
}

func TestBreakerTransport_OpensOnTransientFailures(t *testing.T) {
	down := NewTransportError(codes.Unavailable, errors.New("down"))
	next := &recordingTransport{errs: []error{down, down, down}}
	bt := NewBreakerTransport(next, breakerSettings(), nil, zaptest.NewLogger(t).Sugar())

	ctx := context.Background()
	for range 2 {
		_, err := bt.SendBatch(ctx, "t", []*Message{msg("x")})
		require.ErrorIs(t, err, down)
	}
	assert.Equal(t, gobreaker.StateOpen, bt.State())

	_, err := bt.SendBatch(ctx, "t", []*Message{msg("x")})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, codes.Unavailable, Classify(err))
	assert.Len(t, next.calls(), 2, "open breaker must not reach the broker")
}

func TestBreakerTransport_IgnoresPermanentFailures(t *testing.T) {
	bad := NewTransportError(codes.InvalidArgument, errors.New("bad"))
	next := &recordingTransport{errs: []error{bad, bad, bad}}
	bt := NewBreakerTransport(next, breakerSettings(), nil, nil)

	for range 3 {
		_, err := bt.SendBatch(context.Background(), "t", []*Message{msg("x")})
		require.ErrorIs(t, err, bad)
	}
	assert.Equal(t, gobreaker.StateClosed, bt.State())
}

func TestBreakerTransport_PassesIDsThrough(t *testing.T) {
	bt := NewBreakerTransport(&recordingTransport{}, breakerSettings(), nil, nil)
	ids, err := bt.SendBatch(context.Background(), "t", []*Message{msg("a"), msg("b")})
	require.NoError(t, err)
	assert.Equal(t, []string{"t/a", "t/b"}, ids)
}

func TestBreakerTransport_UsesConfiguredRetryCodes(t *testing.T) {
	notFound := NewTransportError(codes.NotFound, errors.New("no topic"))
	down := NewTransportError(codes.Unavailable, errors.New("down"))
	next := &recordingTransport{errs: []error{down, down, notFound, notFound}}
	bt := NewBreakerTransport(next, breakerSettings(), []codes.Code{codes.NotFound}, nil)

	ctx := context.Background()
	for range 2 {
		_, err := bt.SendBatch(ctx, "t", []*Message{msg("x")})
		require.ErrorIs(t, err, down)
	}
	assert.Equal(t, gobreaker.StateClosed, bt.State(), "UNAVAILABLE is not retryable under this policy")

	for range 2 {
		_, err := bt.SendBatch(ctx, "t", []*Message{msg("x")})
		require.ErrorIs(t, err, notFound)
	}
	assert.Equal(t, gobreaker.StateOpen, bt.State())
}

func TestNewPublisher_BreakerFollowsRetryPolicy(t *testing.T) {
	notFound := NewTransportError(codes.NotFound, errors.New("no topic"))
	next := &recordingTransport{errs: []error{notFound, notFound}}

	s := testSettings()
	s.Breaker = breakerSettings()
	s.Retry.RetryCodes = []codes.Code{codes.NotFound}
	p := newTestPublisher(t, next, s)

	bt, ok := p.transport.(*BreakerTransport)
	require.True(t, ok)
	for range 2 {
		_, err := bt.SendBatch(context.Background(), "t", []*Message{msg("x")})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, bt.State())
}

func TestNewPublisher_WrapsBreaker(t *testing.T) {
	s := testSettings()
	s.Breaker = breakerSettings()
	p := newTestPublisher(t, &recordingTransport{}, s)

	_, ok := p.transport.(*BreakerTransport)
	assert.True(t, ok)
}
