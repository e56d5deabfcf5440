//go:build integration

package mqpub

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	testKafka "github.com/testcontainers/testcontainers-go/modules/kafka"
	"google.golang.org/grpc/codes"
)

func setupKafka(t *testing.T, ctx context.Context) string {
	t.Helper()
	kafkaContainer, err := testKafka.Run(ctx,
		"confluentinc/confluent-local:7.5.0",
		testKafka.WithClusterID("test-cluster"),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(kafkaContainer); err != nil {
			t.Logf("failed to terminate kafka container: %s", err)
		}
	})

	brokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err)
	return brokers[0]
}

func TestKafkaBroker_PublishThroughPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	servers := setupKafka(t, ctx)
	conn, err := newKafkaBroker(servers)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopic(ctx, "orders"))
	require.NoError(t, conn.CreateTopic(ctx, "orders"))

	topics, err := conn.ListTopics(ctx)
	require.NoError(t, err)
	assert.Contains(t, topics, "orders")

	s := DefaultPublishSettings()
	s.Batch.MaxMessages = 5
	p := newTestPublisher(t, conn, s)

	var results []*PublishResult
	for i := range 5 {
		results = append(results, p.Publish("orders", &Message{
			Data:       []byte(fmt.Sprintf("order-%d", i)),
			Attributes: map[string]string{"index": fmt.Sprint(i)},
		}))
	}
	require.NoError(t, p.WaitAll(ctx, "orders"))

	// single partition, so offsets follow publish order
	for i, r := range results {
		id, err := r.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("orders/0/%d", i), id)
	}

	consumer, err := kafka.NewConsumer(&kafka.ConfigMap{
		"bootstrap.servers": servers,
		"group.id":          "mqpub-test",
		"auto.offset.reset": "earliest",
	})
	require.NoError(t, err)
	defer consumer.Close()
	require.NoError(t, consumer.Subscribe("orders", nil))

	m, err := consumer.ReadMessage(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "order-0", string(m.Value))
	require.Len(t, m.Headers, 1)
	assert.Equal(t, "index", m.Headers[0].Key)

	require.NoError(t, conn.DeleteTopic(ctx, "orders"))
}

func TestKafkaBroker_UnknownTopicIsPermanent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	conn, err := newKafkaBroker(setupKafka(t, ctx))
	require.NoError(t, err)
	defer conn.Close()

	err = conn.DeleteTopic(ctx, "missing")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, Classify(err))
}
