package mqpub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{
		InitialDelay: 100 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     time.Second,
	}

	ms := time.Millisecond
	want := []time.Duration{100 * ms, 200 * ms, 400 * ms, 800 * ms, time.Second, time.Second}
	for attempt, d := range want {
		assert.Equal(t, d, p.Delay(attempt), "attempt %d", attempt)
	}

	// Overflows to +Inf and must still clamp.
	assert.Equal(t, time.Second, p.Delay(5000))
}

func TestRetryPolicy_DelayConstantMultiplier(t *testing.T) {
	p := RetryPolicy{InitialDelay: 50 * time.Millisecond, Multiplier: 1, MaxDelay: time.Second}
	for attempt := range 5 {
		assert.Equal(t, 50*time.Millisecond, p.Delay(attempt))
	}
}

func TestRetryPolicy_Retryable(t *testing.T) {
	p := DefaultRetryPolicy()
	for _, c := range DefaultRetryCodes {
		assert.True(t, p.Retryable(c), codeName(c))
	}
	for _, c := range []codes.Code{codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.FailedPrecondition} {
		assert.False(t, p.Retryable(c), codeName(c))
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, 100*time.Millisecond, p.InitialDelay)
	assert.Equal(t, 1.3, p.Multiplier)
	assert.Equal(t, 60*time.Second, p.MaxDelay)
	assert.Equal(t, 600*time.Second, p.TotalTimeout)

	// Mutating the returned codes must not leak into the package default.
	p.RetryCodes[0] = codes.NotFound
	assert.Equal(t, codes.Aborted, DefaultRetryCodes[0])
}

func TestRetryPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RetryPolicy)
	}{
		{"zero initial delay", func(p *RetryPolicy) { p.InitialDelay = 0 }},
		{"multiplier below one", func(p *RetryPolicy) { p.Multiplier = 0.5 }},
		{"max below initial", func(p *RetryPolicy) { p.MaxDelay = p.InitialDelay / 2 }},
		{"zero total timeout", func(p *RetryPolicy) { p.TotalTimeout = 0 }},
		{"zero rpc timeout", func(p *RetryPolicy) { p.RPCTimeout = 0 }},
		{"ok as retry code", func(p *RetryPolicy) { p.RetryCodes = []codes.Code{codes.OK} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRetryPolicy()
			tt.modify(&p)
			require.Error(t, p.Validate())
		})
	}
}
