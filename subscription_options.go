package mqpub

import "errors"

// SubscriptionOptions represents the configuration of a subscription.
type SubscriptionOptions struct {
	// TopicID represents the topic to which the subscription is made.
	TopicID string

	// AckDeadline is the duration (in seconds) within which a consumer must
	// acknowledge processing of a message before it is resent to the queue.
	AckDeadline int

	// RetentionDuration is the duration (in seconds) for which messages are
	// kept in the queue before they are deleted.
	RetentionDuration int

	// ExpirationPolicy is the duration (in seconds) of inactivity after which
	// the subscription is deleted. Zero means never.
	ExpirationPolicy int
}

// withDefaults returns a copy with unset durations filled in.
func (o SubscriptionOptions) withDefaults() SubscriptionOptions {
	if o.AckDeadline <= 0 {
		o.AckDeadline = 10
	}
	if o.RetentionDuration <= 0 {
		o.RetentionDuration = 7 * 24 * 60 * 60
	}
	if o.ExpirationPolicy < 0 {
		o.ExpirationPolicy = 0
	}
	return o
}

func (o *SubscriptionOptions) validate() error {
	if o == nil || o.TopicID == "" {
		return errors.New("subscription options must name a topic")
	}
	return nil
}
