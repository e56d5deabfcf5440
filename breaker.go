package mqpub

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

// BreakerSettings configures the optional circuit breaker in front of a Transport.
type BreakerSettings struct {
	Enabled bool

	// MaxRequests is the number of probe sends allowed while half-open.
	MaxRequests uint32
	// Interval is the window after which closed-state counts are reset.
	Interval time.Duration
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
}

// DefaultBreakerSettings returns a disabled breaker with usable thresholds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Enabled:             false,
		MaxRequests:         1,
		Interval:            30 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// BreakerTransport fails sends fast with UNAVAILABLE while the broker keeps
// failing. Because UNAVAILABLE is retryable the publisher keeps backing off
// until the breaker lets a probe through.
type BreakerTransport struct {
	next Transport
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerTransport wraps next in a circuit breaker. Only failures whose
// class is in retryCodes count against the broker; nil means DefaultRetryCodes.
func NewBreakerTransport(next Transport, s BreakerSettings, retryCodes []codes.Code, log *zap.SugaredLogger) *BreakerTransport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if retryCodes == nil {
		retryCodes = DefaultRetryCodes
	}
	retryCodes = slices.Clone(retryCodes)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "mqpub-transport",
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		// Only broker health counts; a rejected message says nothing about it.
		IsSuccessful: func(err error) bool {
			return err == nil || !slices.Contains(retryCodes, Classify(err))
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warnw("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})

	return &BreakerTransport{next: next, cb: cb}
}

// SendBatch sends through the wrapped transport unless the breaker is open.
func (t *BreakerTransport) SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error) {
	out, err := t.cb.Execute(func() (interface{}, error) {
		return t.next.SendBatch(ctx, topicID, messages)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, NewTransportError(codes.Unavailable, err)
	}
	if err != nil {
		return nil, err
	}
	return out.([]string), nil
}

// State reports the breaker state, for logging and tests.
func (t *BreakerTransport) State() gobreaker.State {
	return t.cb.State()
}
