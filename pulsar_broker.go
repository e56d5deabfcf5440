package mqpub

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/apache/pulsar-client-go/pulsaradmin"
	"github.com/apache/pulsar-client-go/pulsaradmin/pkg/rest"
	adminutils "github.com/apache/pulsar-client-go/pulsaradmin/pkg/utils"
	"google.golang.org/grpc/codes"
)

// pulsarBroker publishes to non-partitioned persistent topics in one namespace.
// Producers are created on first use and kept until Close.
type pulsarBroker struct {
	namespace string
	client    pulsar.Client
	admin     pulsaradmin.Client

	mu        sync.Mutex
	producers map[string]pulsar.Producer
}

// SendBatch hands every message to the producer, flushes it and waits for all
// send receipts. IDs are the string form of the Pulsar message IDs.
func (conn *pulsarBroker) SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error) {
	producer, err := conn.producer(topicID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(messages))
	errs := make([]error, len(messages))

	var wg sync.WaitGroup
	wg.Add(len(messages))
	for i, m := range messages {
		producer.SendAsync(ctx, &pulsar.ProducerMessage{
			Payload:    m.Data,
			Properties: m.Attributes,
		}, func(id pulsar.MessageID, _ *pulsar.ProducerMessage, err error) {
			defer wg.Done()
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = id.String()
		})
	}

	if err := producer.FlushWithCtx(ctx); err != nil {
		return nil, classifyPulsarError(err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
	}

	for _, err := range errs {
		if err != nil {
			return nil, classifyPulsarError(err)
		}
	}
	return ids, nil
}

// CreateTopic creates a non-partitioned topic.
// This is an idempotent call and returns no error if the topic already exists.
func (conn *pulsarBroker) CreateTopic(ctx context.Context, topicID string) error {
	topicName, err := conn.topicName(topicID)
	if err != nil {
		return err
	}

	if err := conn.admin.Topics().CreateWithContext(ctx, *topicName, 0); err != nil {
		var adminErr rest.Error
		if errors.As(err, &adminErr) && adminErr.Code == http.StatusConflict {
			return nil
		}
		return classifyPulsarError(err)
	}
	return nil
}

// DeleteTopic deletes a topic and closes its cached producer.
func (conn *pulsarBroker) DeleteTopic(ctx context.Context, topicID string) error {
	topicName, err := conn.topicName(topicID)
	if err != nil {
		return err
	}

	conn.mu.Lock()
	if producer, ok := conn.producers[topicID]; ok {
		producer.Close()
		delete(conn.producers, topicID)
	}
	conn.mu.Unlock()

	if err := conn.admin.Topics().DeleteWithContext(ctx, *topicName, false, true); err != nil {
		return classifyPulsarError(err)
	}
	return nil
}

// ListTopics returns the local names of the topics in the namespace, sorted.
func (conn *pulsarBroker) ListTopics(ctx context.Context) ([]string, error) {
	namespace, err := adminutils.GetNamespaceName(conn.namespace)
	if err != nil {
		return nil, NewTransportError(codes.InvalidArgument, fmt.Errorf("parse namespace %s: %w", conn.namespace, err))
	}

	partitioned, nonPartitioned, err := conn.admin.Topics().ListWithContext(ctx, *namespace)
	if err != nil {
		return nil, classifyPulsarError(err)
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, full := range append(partitioned, nonPartitioned...) {
		id := full[strings.LastIndex(full, "/")+1:]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close closes all producers and the client.
func (conn *pulsarBroker) Close() error {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	for id, producer := range conn.producers {
		producer.Close()
		delete(conn.producers, id)
	}
	conn.client.Close()
	return nil
}

func (conn *pulsarBroker) producer(topicID string) (pulsar.Producer, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if producer, ok := conn.producers[topicID]; ok {
		return producer, nil
	}

	producer, err := conn.client.CreateProducer(pulsar.ProducerOptions{
		Topic: conn.fullTopic(topicID),
		// batching happens upstream in the Publisher
		DisableBatching: true,
	})
	if err != nil {
		return nil, classifyPulsarError(fmt.Errorf("create producer for %s: %w", topicID, err))
	}

	conn.producers[topicID] = producer
	return producer, nil
}

func (conn *pulsarBroker) fullTopic(topicID string) string {
	return fmt.Sprintf("persistent://%s/%s", conn.namespace, topicID)
}

func (conn *pulsarBroker) topicName(topicID string) (*adminutils.TopicName, error) {
	topicName, err := adminutils.GetTopicName(conn.fullTopic(topicID))
	if err != nil {
		return nil, NewTransportError(codes.InvalidArgument, fmt.Errorf("parse topic name %s: %w", topicID, err))
	}
	return topicName, nil
}

// classifyPulsarError tags a client or admin error with its failure class.
func classifyPulsarError(err error) error {
	var perr *pulsar.Error
	if errors.As(err, &perr) {
		switch perr.Result() {
		case pulsar.TimeoutError:
			return NewTransportError(codes.DeadlineExceeded, err)
		case pulsar.ProducerQueueIsFull,
			pulsar.ProducerBlockedQuotaExceededError,
			pulsar.ProducerBlockedQuotaExceededException:
			return NewTransportError(codes.ResourceExhausted, err)
		case pulsar.ConnectError,
			pulsar.LookupError,
			pulsar.NotConnectedError,
			pulsar.ServiceUnitNotReady,
			pulsar.TooManyLookupRequestException,
			pulsar.BrokerPersistenceError:
			return NewTransportError(codes.Unavailable, err)
		case pulsar.TopicNotFound:
			return NewTransportError(codes.NotFound, err)
		case pulsar.MessageTooBig, pulsar.InvalidMessage, pulsar.InvalidTopicName:
			return NewTransportError(codes.InvalidArgument, err)
		case pulsar.AuthenticationError, pulsar.AuthorizationError:
			return NewTransportError(codes.PermissionDenied, err)
		case pulsar.ProducerClosed, pulsar.AlreadyClosedError, pulsar.TopicTerminated:
			return NewTransportError(codes.FailedPrecondition, err)
		}
		return NewTransportError(codes.Unknown, err)
	}

	var adminErr rest.Error
	if errors.As(err, &adminErr) {
		switch {
		case adminErr.Code == http.StatusNotFound:
			return NewTransportError(codes.NotFound, err)
		case adminErr.Code == http.StatusConflict:
			return NewTransportError(codes.AlreadyExists, err)
		case adminErr.Code == http.StatusUnauthorized, adminErr.Code == http.StatusForbidden:
			return NewTransportError(codes.PermissionDenied, err)
		case adminErr.Code == http.StatusTooManyRequests:
			return NewTransportError(codes.ResourceExhausted, err)
		case adminErr.Code >= 500:
			return NewTransportError(codes.Unavailable, err)
		case adminErr.Code >= 400:
			return NewTransportError(codes.InvalidArgument, err)
		}
	}

	return NewTransportError(codes.Unknown, err)
}

func newPulsarBroker(url, adminURL, namespace string) (*pulsarBroker, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create pulsar client: %w", err)
	}

	admin, err := pulsaradmin.NewClient(&pulsaradmin.Config{
		WebServiceURL: adminURL,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulsar admin client: %w", err)
	}

	return &pulsarBroker{
		namespace: namespace,
		client:    client,
		admin:     admin,
		producers: make(map[string]pulsar.Producer),
	}, nil
}
