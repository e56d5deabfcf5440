package mqpub

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"google.golang.org/grpc/codes"
)

// Default retry parameters, matching the hosted Pub/Sub publisher defaults.
const (
	DefaultInitialDelay = 100 * time.Millisecond
	DefaultMultiplier   = 1.3
	DefaultMaxDelay     = 60 * time.Second
	DefaultTotalTimeout = 600 * time.Second
	DefaultRPCTimeout   = 60 * time.Second
)

// DefaultRetryCodes is the set of failure classes treated as transient.
var DefaultRetryCodes = []codes.Code{
	codes.Aborted,
	codes.Canceled,
	codes.DeadlineExceeded,
	codes.Internal,
	codes.ResourceExhausted,
	codes.Unavailable,
	codes.Unknown,
}

// RetryPolicy controls how a failed batch is retried.
//
// A RetryPolicy is read-only once handed to a Publisher and is shared by every
// dispatch without locking.
type RetryPolicy struct {
	RetryCodes   []codes.Code
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	TotalTimeout time.Duration

	// RPCTimeout bounds a single SendBatch attempt.
	RPCTimeout time.Duration
}

// DefaultRetryPolicy returns the default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryCodes:   slices.Clone(DefaultRetryCodes),
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
		TotalTimeout: DefaultTotalTimeout,
		RPCTimeout:   DefaultRPCTimeout,
	}
}

// Retryable reports whether failures of class c may be retried.
func (p RetryPolicy) Retryable(c codes.Code) bool {
	return slices.Contains(p.RetryCodes, c)
}

// Delay returns the wait before retry number attempt, counting from zero:
// min(InitialDelay * Multiplier^attempt, MaxDelay).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Validate checks the policy for values the retry loop cannot work with.
func (p RetryPolicy) Validate() error {
	var errs []error

	if p.InitialDelay <= 0 {
		errs = append(errs, fmt.Errorf("initial delay %s must be > 0", p.InitialDelay))
	}
	if p.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("multiplier %v must be >= 1", p.Multiplier))
	}
	if p.MaxDelay < p.InitialDelay {
		errs = append(errs, fmt.Errorf("max delay %s must be >= initial delay %s", p.MaxDelay, p.InitialDelay))
	}
	if p.TotalTimeout <= 0 {
		errs = append(errs, fmt.Errorf("total timeout %s must be > 0", p.TotalTimeout))
	}
	if p.RPCTimeout <= 0 {
		errs = append(errs, fmt.Errorf("rpc timeout %s must be > 0", p.RPCTimeout))
	}
	for _, c := range p.RetryCodes {
		if c == codes.OK {
			errs = append(errs, errors.New("OK is not a failure class"))
		}
	}

	return errors.Join(errs...)
}
