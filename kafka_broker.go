package mqpub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"google.golang.org/grpc/codes"
)

const (
	kafkaMetadataTimeout = 10 * time.Second
	kafkaFlushTimeoutMs  = 10000
)

type kafkaBroker struct {
	producer *kafka.Producer
	admin    *kafka.AdminClient
	fatal    atomic.Pointer[kafka.Error]
	done     chan struct{}
}

// SendBatch produces every message and waits for all delivery reports.
// IDs take the form topic/partition/offset.
func (conn *kafkaBroker) SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error) {
	if fatal := conn.fatal.Load(); fatal != nil {
		return nil, classifyKafkaError(*fatal)
	}

	deliveries := make(chan kafka.Event, len(messages))

	produced := 0
	var produceErr error
	for i, m := range messages {
		msg := &kafka.Message{
			TopicPartition: kafka.TopicPartition{Topic: &topicID, Partition: kafka.PartitionAny},
			Value:          m.Data,
			Opaque:         i,
		}
		for k, v := range m.Attributes {
			msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
		}

		if err := conn.producer.Produce(msg, deliveries); err != nil {
			produceErr = classifyKafkaError(err)
			break
		}
		produced++
	}

	ids := make([]string, len(messages))
	var firstErr error
	for received := 0; received < produced; received++ {
		select {
		case <-ctx.Done():
			// delivery reports still land in the buffered channel and are dropped
			return nil, ctx.Err()
		case ev := <-deliveries:
			m, ok := ev.(*kafka.Message)
			if !ok {
				if firstErr == nil {
					firstErr = NewTransportError(codes.Internal, fmt.Errorf("unexpected delivery event: %T", ev))
				}
				continue
			}
			if err := m.TopicPartition.Error; err != nil {
				if firstErr == nil {
					firstErr = classifyKafkaError(err)
				}
				continue
			}
			ids[m.Opaque.(int)] = fmt.Sprintf("%s/%d/%d", topicID, m.TopicPartition.Partition, m.TopicPartition.Offset)
		}
	}

	if produceErr != nil {
		return nil, produceErr
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return ids, nil
}

// CreateTopic creates a new single partition topic.
// This is an idempotent call and returns no error if the topic already exists.
func (conn *kafkaBroker) CreateTopic(ctx context.Context, topicID string) error {
	results, err := conn.admin.CreateTopics(ctx, []kafka.TopicSpecification{{
		Topic:             topicID,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}})
	if err != nil {
		return classifyKafkaError(err)
	}

	for _, result := range results {
		switch result.Error.Code() {
		case kafka.ErrNoError, kafka.ErrTopicAlreadyExists:
		default:
			return classifyKafkaError(result.Error)
		}
	}
	return nil
}

// DeleteTopic deletes an existing topic.
func (conn *kafkaBroker) DeleteTopic(ctx context.Context, topicID string) error {
	results, err := conn.admin.DeleteTopics(ctx, []string{topicID})
	if err != nil {
		return classifyKafkaError(err)
	}

	for _, result := range results {
		if result.Error.Code() != kafka.ErrNoError {
			return classifyKafkaError(result.Error)
		}
	}
	return nil
}

// ListTopics returns the non-internal topics known to the cluster, sorted.
func (conn *kafkaBroker) ListTopics(ctx context.Context) ([]string, error) {
	timeout := kafkaMetadataTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}

	metadata, err := conn.admin.GetMetadata(nil, true, int(timeout.Milliseconds()))
	if err != nil {
		return nil, classifyKafkaError(err)
	}

	ids := make([]string, 0, len(metadata.Topics))
	for name := range metadata.Topics {
		if strings.HasPrefix(name, "__") {
			continue
		}
		ids = append(ids, name)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close flushes outstanding messages and closes the producer.
func (conn *kafkaBroker) Close() error {
	conn.producer.Flush(kafkaFlushTimeoutMs)
	conn.admin.Close()
	conn.producer.Close()
	<-conn.done
	return nil
}

// drainEvents consumes producer level events so the channel never fills.
// A fatal error poisons every later send.
func (conn *kafkaBroker) drainEvents() {
	defer close(conn.done)
	for ev := range conn.producer.Events() {
		if e, ok := ev.(kafka.Error); ok && e.IsFatal() {
			conn.fatal.CompareAndSwap(nil, &e)
		}
	}
}

// classifyKafkaError tags a librdkafka error with its failure class.
func classifyKafkaError(err error) error {
	var kerr kafka.Error
	if !errors.As(err, &kerr) {
		return NewTransportError(codes.Unknown, err)
	}

	if kerr.IsFatal() {
		return NewTransportError(codes.FailedPrecondition, err)
	}

	switch kerr.Code() {
	case kafka.ErrQueueFull:
		return NewTransportError(codes.ResourceExhausted, err)
	case kafka.ErrMsgTimedOut, kafka.ErrTimedOut, kafka.ErrRequestTimedOut:
		return NewTransportError(codes.DeadlineExceeded, err)
	case kafka.ErrBrokerNotAvailable,
		kafka.ErrAllBrokersDown,
		kafka.ErrTransport,
		kafka.ErrLeaderNotAvailable,
		kafka.ErrNotLeaderForPartition,
		kafka.ErrNotEnoughReplicas:
		return NewTransportError(codes.Unavailable, err)
	case kafka.ErrUnknownTopicOrPart, kafka.ErrUnknownTopic:
		return NewTransportError(codes.NotFound, err)
	case kafka.ErrMsgSizeTooLarge, kafka.ErrInvalidMsgSize, kafka.ErrInvalidMsg:
		return NewTransportError(codes.InvalidArgument, err)
	case kafka.ErrTopicAuthorizationFailed, kafka.ErrAuthentication:
		return NewTransportError(codes.PermissionDenied, err)
	case kafka.ErrTopicAlreadyExists:
		return NewTransportError(codes.AlreadyExists, err)
	}

	if kerr.IsRetriable() {
		return NewTransportError(codes.Unavailable, err)
	}
	return NewTransportError(codes.Unknown, err)
}

func newKafkaBroker(bootstrapServers string) (*kafkaBroker, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": bootstrapServers,
		"acks":              "all",
		// the Publisher owns retries
		"message.send.max.retries": 0,
		"linger.ms":                0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	admin, err := kafka.NewAdminClientFromProducer(producer)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
	}

	conn := &kafkaBroker{
		producer: producer,
		admin:    admin,
		done:     make(chan struct{}),
	}
	go conn.drainEvents()

	return conn, nil
}
