package mqpub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"google.golang.org/grpc/codes"
)

// natsBroker maps each topic to a JetStream stream capturing the subject of
// the same name. Stream names may not contain dots, so those become
// underscores.
type natsBroker struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// SendBatch publishes asynchronously and then waits for every ack.
// IDs take the form stream:sequence.
func (conn *natsBroker) SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error) {
	futures := make([]nats.PubAckFuture, 0, len(messages))
	for _, m := range messages {
		msg := nats.NewMsg(topicID)
		msg.Data = m.Data
		for k, v := range m.Attributes {
			msg.Header.Set(k, v)
		}

		future, err := conn.js.PublishMsgAsync(msg)
		if err != nil {
			return nil, classifyNATSError(err)
		}
		futures = append(futures, future)
	}

	ids := make([]string, len(futures))
	var firstErr error
	for i, future := range futures {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ack := <-future.Ok():
			ids[i] = fmt.Sprintf("%s:%d", ack.Stream, ack.Sequence)
		case err := <-future.Err():
			if firstErr == nil {
				firstErr = classifyNATSError(err)
			}
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return ids, nil
}

// CreateTopic creates the stream backing a topic.
// This is an idempotent call and returns no error if the topic already exists.
func (conn *natsBroker) CreateTopic(ctx context.Context, topicID string) error {
	name := natsStreamName(topicID)

	_, err := conn.js.StreamInfo(name, nats.Context(ctx))
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return classifyNATSError(err)
	}

	if _, err := conn.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{topicID},
	}, nats.Context(ctx)); err != nil {
		return classifyNATSError(err)
	}
	return nil
}

// DeleteTopic deletes the stream backing a topic, and every message in it.
func (conn *natsBroker) DeleteTopic(ctx context.Context, topicID string) error {
	if err := conn.js.DeleteStream(natsStreamName(topicID), nats.Context(ctx)); err != nil {
		return classifyNATSError(err)
	}
	return nil
}

// ListTopics returns the subjects captured by all streams, sorted.
func (conn *natsBroker) ListTopics(ctx context.Context) ([]string, error) {
	var ids []string
	for info := range conn.js.StreamsInfo(nats.Context(ctx)) {
		ids = append(ids, info.Config.Subjects...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Close drains and closes the connection.
func (conn *natsBroker) Close() error {
	return conn.nc.Drain()
}

func natsStreamName(topicID string) string {
	return strings.ReplaceAll(topicID, ".", "_")
}

// classifyNATSError tags a NATS error with its failure class.
func classifyNATSError(err error) error {
	switch {
	case errors.Is(err, nats.ErrTimeout):
		return NewTransportError(codes.DeadlineExceeded, err)
	case errors.Is(err, nats.ErrNoStreamResponse), errors.Is(err, nats.ErrStreamNotFound):
		return NewTransportError(codes.NotFound, err)
	case errors.Is(err, nats.ErrNoResponders),
		errors.Is(err, nats.ErrConnectionReconnecting),
		errors.Is(err, nats.ErrJetStreamNotEnabled):
		return NewTransportError(codes.Unavailable, err)
	case errors.Is(err, nats.ErrTooManyStalledMsgs):
		return NewTransportError(codes.ResourceExhausted, err)
	case errors.Is(err, nats.ErrMaxPayload), errors.Is(err, nats.ErrBadSubject):
		return NewTransportError(codes.InvalidArgument, err)
	case errors.Is(err, nats.ErrConnectionClosed):
		return NewTransportError(codes.FailedPrecondition, err)
	}

	var apiErr *nats.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return NewTransportError(codes.NotFound, err)
		case http.StatusBadRequest:
			return NewTransportError(codes.InvalidArgument, err)
		case http.StatusServiceUnavailable:
			return NewTransportError(codes.Unavailable, err)
		}
	}

	return NewTransportError(codes.Unknown, err)
}

func newNatsBroker(url string) (*natsBroker, error) {
	if url == "" {
		url = nats.DefaultURL
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	return &natsBroker{nc: nc, js: js}, nil
}
