package mqpub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"cloud.google.com/go/pubsub"
	vkit "cloud.google.com/go/pubsub/apiv1"
	"cloud.google.com/go/pubsub/apiv1/pubsubpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type gcloudBroker struct {
	project   string
	client    *pubsub.Client
	publisher *vkit.PublisherClient
}

// SendBatch publishes messages in a single Publish RPC. The response carries
// the message IDs in request order.
func (conn *gcloudBroker) SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error) {
	req := &pubsubpb.PublishRequest{
		Topic:    conn.topicName(topicID),
		Messages: make([]*pubsubpb.PubsubMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = &pubsubpb.PubsubMessage{
			Data:       m.Data,
			Attributes: m.Attributes,
		}
	}

	res, err := conn.publisher.Publish(ctx, req)
	if err != nil {
		// Already a gRPC status error; Classify reads its code.
		return nil, fmt.Errorf("publish to %s: %w", req.Topic, err)
	}
	return res.MessageIds, nil
}

// CreateTopic creates a new topic.
// This is an idempotent call and returns no error if the topic already exists.
func (conn *gcloudBroker) CreateTopic(ctx context.Context, topicID string) error {
	topic := conn.client.Topic(topicID)

	// check if the topic exists
	exists, err := topic.Exists(ctx)
	if err != nil {
		return err
	}

	if exists {
		return nil
	}

	_, err = conn.client.CreateTopic(ctx, topicID)
	return err
}

// DeleteTopic deletes an existing topic.
func (conn *gcloudBroker) DeleteTopic(ctx context.Context, topicID string) error {
	return conn.client.Topic(topicID).Delete(ctx)
}

// ListTopics returns the IDs of all topics in the project.
func (conn *gcloudBroker) ListTopics(ctx context.Context) ([]string, error) {
	var ids []string
	it := conn.client.Topics(ctx)
	for {
		topic, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return ids, nil
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, topic.ID())
	}
}

// CreateSubscription creates a new subscription to the topic specified in options.
// This is an idempotent call and returns no error if a subscription with the same id already exists,
// provided that the topic and other parameters are the same.
func (conn *gcloudBroker) CreateSubscription(ctx context.Context, subscriptionID string, options *SubscriptionOptions) error {
	if err := options.validate(); err != nil {
		return err
	}
	opts := options.withDefaults()

	topic := conn.client.Topic(opts.TopicID)
	subscription := conn.client.Subscription(subscriptionID)

	existsTopic, err := topic.Exists(ctx)
	if err != nil {
		return err
	}

	if !existsTopic {
		return errors.New("topic does not exist")
	}

	// check if the subscription exists
	existsSubscription, err := subscription.Exists(ctx)
	if err != nil {
		return err
	}

	if existsSubscription {
		// perform a further check to see if it has an identical configuration
		config, err := subscription.Config(ctx)
		if err != nil {
			return err
		}

		if config.Topic.ID() != opts.TopicID {
			return errors.New("a subscription by that name already exists and is subscribed to a different topic")
		}

		if config.AckDeadline != seconds(opts.AckDeadline) {
			return errors.New("a subscription by that name already exists with a different AckDeadline")
		}

		if config.RetentionDuration != seconds(opts.RetentionDuration) {
			return errors.New("a subscription by that name already exists with a different RetentionDuration")
		}

		return nil
	}

	_, err = conn.client.CreateSubscription(ctx, subscriptionID, pubsub.SubscriptionConfig{
		Topic:             topic,
		AckDeadline:       seconds(opts.AckDeadline),
		RetentionDuration: seconds(opts.RetentionDuration),
		ExpirationPolicy:  seconds(opts.ExpirationPolicy),
	})

	return err
}

// Consume consumes messages from the specified subscription
// and passes them on to the handler function.
// This is a blocking function and doesn't return until ctx is done or it encounters a network error.
func (conn *gcloudBroker) Consume(ctx context.Context, subscriptionID string, handler func(*Message) error, options *ConsumerOptions) error {
	opts := options.withDefaults()

	subscription := conn.client.Subscription(subscriptionID)
	subscription.ReceiveSettings.Synchronous = true
	subscription.ReceiveSettings.MaxOutstandingMessages = opts.MaxOutstandingMessages

	msgs := make(chan *pubsub.Message)
	defer close(msgs)

	for i := 0; i < opts.Concurrency; i++ {
		go func() {
			for msg := range msgs {
				if err := handler(&Message{
					Data:       msg.Data,
					Attributes: msg.Attributes,
				}); err != nil {
					// we can safely ignore nack errors because message processing is assumed to be idempotent
					msg.Nack()
					continue
				}

				// we can safely ignore ack errors because message processing is assumed to be idempotent
				msg.Ack()
			}
		}()
	}

	return subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		select {
		case msgs <- msg:
		case <-ctx.Done():
			msg.Nack()
		}
	})
}

// Close releases both clients.
func (conn *gcloudBroker) Close() error {
	return errors.Join(conn.publisher.Close(), conn.client.Close())
}

func (conn *gcloudBroker) topicName(topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s", conn.project, topicID)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func newGcloudBroker(ctx context.Context, project string) (*gcloudBroker, error) {
	client, err := pubsub.NewClient(ctx, project)
	if err != nil {
		return nil, err
	}

	// pubsub.NewClient honours the emulator on its own; the raw publisher client does not.
	var opts []option.ClientOption
	if addr := os.Getenv("PUBSUB_EMULATOR_HOST"); addr != "" {
		opts = append(opts,
			option.WithEndpoint(addr),
			option.WithoutAuthentication(),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
	}

	publisher, err := vkit.NewPublisherClient(ctx, opts...)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create publisher client: %w", err)
	}
	// Retries belong to the Publisher's RetryPolicy, not the generated client.
	publisher.CallOptions.Publish = nil

	conn := &gcloudBroker{
		project:   project,
		client:    client,
		publisher: publisher,
	}

	return conn, nil
}
