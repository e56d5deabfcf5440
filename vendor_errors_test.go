package mqpub

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/apache/pulsar-client-go/pulsaradmin/pkg/rest"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
)

func TestClassifyAWSError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{awserr.New(sns.ErrCodeThrottledException, "slow down", nil), codes.ResourceExhausted},
		{awserr.New(sns.ErrCodeNotFoundException, "no topic", nil), codes.NotFound},
		{awserr.New(sns.ErrCodeAuthorizationErrorException, "denied", nil), codes.PermissionDenied},
		{awserr.New(sns.ErrCodeInvalidParameterException, "bad", nil), codes.InvalidArgument},
		{awserr.New(sns.ErrCodeInternalErrorException, "oops", nil), codes.Internal},
		{awserr.New("RequestError", "dial tcp", nil), codes.Unavailable},
		{awserr.NewRequestFailure(awserr.New("Whatever", "bad gateway", nil), http.StatusBadGateway, "req-1"), codes.Unavailable},
		{awserr.NewRequestFailure(awserr.New("Whatever", "teapot", nil), http.StatusTeapot, "req-2"), codes.Unknown},
		{errors.New("plain"), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			err := classifyAWSError(tt.err)
			assert.Equal(t, tt.want, Classify(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestClassifyKafkaError(t *testing.T) {
	tests := []struct {
		code kafka.ErrorCode
		want codes.Code
	}{
		{kafka.ErrQueueFull, codes.ResourceExhausted},
		{kafka.ErrMsgTimedOut, codes.DeadlineExceeded},
		{kafka.ErrAllBrokersDown, codes.Unavailable},
		{kafka.ErrUnknownTopicOrPart, codes.NotFound},
		{kafka.ErrMsgSizeTooLarge, codes.InvalidArgument},
		{kafka.ErrTopicAuthorizationFailed, codes.PermissionDenied},
		{kafka.ErrTopicAlreadyExists, codes.AlreadyExists},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := classifyKafkaError(kafka.NewError(tt.code, "test", false))
			assert.Equal(t, tt.want, Classify(err))
		})
	}

	fatal := classifyKafkaError(kafka.NewError(kafka.ErrFatal, "fenced", true))
	assert.Equal(t, codes.FailedPrecondition, Classify(fatal))
}

func TestClassifyNATSError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{nats.ErrTimeout, codes.DeadlineExceeded},
		{fmt.Errorf("publish: %w", nats.ErrNoStreamResponse), codes.NotFound},
		{nats.ErrStreamNotFound, codes.NotFound},
		{nats.ErrNoResponders, codes.Unavailable},
		{nats.ErrMaxPayload, codes.InvalidArgument},
		{nats.ErrConnectionClosed, codes.FailedPrecondition},
		{&nats.APIError{Code: http.StatusServiceUnavailable, Description: "busy"}, codes.Unavailable},
		{errors.New("plain"), codes.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(classifyNATSError(tt.err)))
		})
	}
}

func TestClassifyPulsarAdminError(t *testing.T) {
	tests := []struct {
		code int
		want codes.Code
	}{
		{http.StatusNotFound, codes.NotFound},
		{http.StatusConflict, codes.AlreadyExists},
		{http.StatusForbidden, codes.PermissionDenied},
		{http.StatusTooManyRequests, codes.ResourceExhausted},
		{http.StatusServiceUnavailable, codes.Unavailable},
		{http.StatusPreconditionFailed, codes.InvalidArgument},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := classifyPulsarError(fmt.Errorf("admin: %w", rest.Error{Code: tt.code, Reason: "test"}))
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestNatsStreamName(t *testing.T) {
	assert.Equal(t, "orders_created", natsStreamName("orders.created"))
}
