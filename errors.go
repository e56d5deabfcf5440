package mqpub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrPublisherStopped is returned on the handle of any message published after Stop.
var ErrPublisherStopped = errors.New("publisher stopped")

// ValidationError reports a message rejected before it was queued.
type ValidationError struct {
	Topic  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("invalid publish: %s", e.Reason)
	}
	return fmt.Sprintf("invalid publish to %q: %s", e.Topic, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransportError is a broker failure tagged with the class used for retry decisions.
// Adapters wrap vendor errors with NewTransportError so the publisher does not
// need to know about any vendor error type.
type TransportError struct {
	Code codes.Code
	Err  error
}

// NewTransportError wraps err with the given failure class.
func NewTransportError(code codes.Code, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Code: code, Err: err}
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return codeName(e.Code)
	}
	return fmt.Sprintf("%s: %v", codeName(e.Code), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// GRPCStatus lets status.Code and status.FromError see the class.
func (e *TransportError) GRPCStatus() *status.Status {
	if e.Err == nil {
		return status.New(e.Code, codeName(e.Code))
	}
	return status.New(e.Code, e.Err.Error())
}

// PermanentError is the terminal error for a batch that failed with a
// non-retryable class. No retry was attempted after it was observed.
type PermanentError struct {
	Topic string
	Code  codes.Code
	Err   error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("publish to %q failed permanently (%s): %v", e.Topic, codeName(e.Code), e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// RetryExhaustedError is the terminal error for a batch whose failures were
// retryable but whose retry window ran out.
type RetryExhaustedError struct {
	Topic    string
	Code     codes.Code
	Attempts int
	Elapsed  time.Duration
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("publish to %q gave up after %d attempts in %s (%s): %v",
		e.Topic, e.Attempts, e.Elapsed, codeName(e.Code), e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// Classify returns the failure class of a transport error.
//
// TransportError and gRPC status errors carry their own class. Context
// deadline and cancellation map to DeadlineExceeded and Canceled. Anything
// else is Unknown.
func Classify(err error) codes.Code {
	if err == nil {
		return codes.OK
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	}

	if s, ok := status.FromError(err); ok {
		return s.Code()
	}

	return codes.Unknown
}

// ParseCode parses an upper snake case class name such as "UNAVAILABLE".
func ParseCode(name string) (codes.Code, error) {
	var c codes.Code
	if err := c.UnmarshalJSON([]byte(`"` + name + `"`)); err != nil {
		return 0, fmt.Errorf("unknown error class %q", name)
	}
	return c, nil
}

var codeNames = map[codes.Code]string{
	codes.OK:                 "OK",
	codes.Canceled:           "CANCELLED",
	codes.Unknown:            "UNKNOWN",
	codes.InvalidArgument:    "INVALID_ARGUMENT",
	codes.DeadlineExceeded:   "DEADLINE_EXCEEDED",
	codes.NotFound:           "NOT_FOUND",
	codes.AlreadyExists:      "ALREADY_EXISTS",
	codes.PermissionDenied:   "PERMISSION_DENIED",
	codes.ResourceExhausted:  "RESOURCE_EXHAUSTED",
	codes.FailedPrecondition: "FAILED_PRECONDITION",
	codes.Aborted:            "ABORTED",
	codes.OutOfRange:         "OUT_OF_RANGE",
	codes.Unimplemented:      "UNIMPLEMENTED",
	codes.Internal:           "INTERNAL",
	codes.Unavailable:        "UNAVAILABLE",
	codes.DataLoss:           "DATA_LOSS",
	codes.Unauthenticated:    "UNAUTHENTICATED",
}

// codeName renders a class the way ParseCode accepts it.
func codeName(c codes.Code) string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return c.String()
}
