//go:build integration

package mqpub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAWSTestBroker(t *testing.T) *awsBroker {
	t.Helper()
	region := os.Getenv("AWS_REGION")
	if region == "" {
		t.Skip("AWS_REGION not set")
	}

	conn, err := newAwsBroker(region)
	require.NoError(t, err)
	return conn
}

func TestAWSCreateTopic(t *testing.T) {
	conn := newAWSTestBroker(t)
	ctx := context.Background()

	require.NoError(t, conn.CreateTopic(ctx, "umt"))
	require.NoError(t, conn.CreateTopic(ctx, "umt"))

	topics, err := conn.ListTopics(ctx)
	require.NoError(t, err)
	assert.Contains(t, topics, "umt")
}

func TestAWSCreateSubscription(t *testing.T) {
	conn := newAWSTestBroker(t)
	ctx := context.Background()

	require.NoError(t, conn.CreateTopic(ctx, "umt"))
	opts := &SubscriptionOptions{
		TopicID:           "umt",
		AckDeadline:       10,
		RetentionDuration: 7 * 24 * 60 * 60,
	}
	require.NoError(t, conn.CreateSubscription(ctx, "umt-handler", opts))
	require.NoError(t, conn.CreateSubscription(ctx, "umt-handler", opts))
}

func TestAWSPublishAndConsume(t *testing.T) {
	conn := newAWSTestBroker(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	require.NoError(t, conn.CreateTopic(ctx, "umt"))
	require.NoError(t, conn.CreateSubscription(ctx, "umt-handler", &SubscriptionOptions{TopicID: "umt"}))

	p := newTestPublisher(t, conn, DefaultPublishSettings())
	id, err := p.Publish("umt", &Message{
		Data:       []byte("007"),
		Attributes: map[string]string{"service": "deposit"},
	}).Get(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	msgs := make(chan *Message, 1)
	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go conn.Consume(consumeCtx, "umt-handler", func(msg *Message) error {
		select {
		case msgs <- msg:
		default:
		}
		return nil
	}, nil)

	select {
	case msg := <-msgs:
		assert.Equal(t, "007", string(msg.Data))
		assert.Equal(t, "deposit", msg.Attributes["service"])
	case <-ctx.Done():
		t.Fatal("no message consumed")
	}
}
