package mqpub

import "context"

// Transport sends an ordered batch of messages to a topic.
//
// On success SendBatch returns one broker assigned message ID per message, in
// the order the messages were given. On failure the error should be
// classifiable with Classify; adapters wrap vendor errors with
// NewTransportError.
type Transport interface {
	SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error)
}

// Registry manages the topics of a broker.
type Registry interface {
	// CreateTopic creates a new topic.
	// This is an idempotent call and returns no error if the topic already exists.
	CreateTopic(ctx context.Context, topicID string) error

	// DeleteTopic deletes an existing topic.
	DeleteTopic(ctx context.Context, topicID string) error

	// ListTopics returns the IDs of all topics visible to the client.
	ListTopics(ctx context.Context) ([]string, error)
}

// Subscriber creates subscriptions and consumes from them.
type Subscriber interface {
	// CreateSubscription creates a new subscription to the topic specified in options.
	// This is an idempotent call and returns no error if a subscription with the same id already exists,
	// provided that the topic and other parameters are the same.
	CreateSubscription(ctx context.Context, subscriptionID string, options *SubscriptionOptions) error

	// Consume consumes messages from the specified subscription
	// and passes them on to the handler function.
	// This is a blocking function and doesn't return until ctx is done or it encounters a network error.
	Consume(ctx context.Context, subscriptionID string, handler func(*Message) error, options *ConsumerOptions) error
}
