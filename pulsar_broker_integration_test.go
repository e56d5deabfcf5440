//go:build integration

package mqpub

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/apache/pulsar-client-go/pulsar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/grpc/codes"
)

const pulsarImage = "apachepulsar/pulsar:3.3.1"

func setupPulsar(t *testing.T, ctx context.Context) (serviceURL, adminURL string) {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        pulsarImage,
		ExposedPorts: []string{"6650/tcp", "8080/tcp"},
		Cmd:          []string{"/bin/bash", "-c", "bin/pulsar standalone"},
		WaitingFor: wait.ForHTTP("/admin/v2/namespaces/public/default").
			WithPort("8080/tcp").
			WithStatusCodeMatcher(func(status int) bool { return status == http.StatusOK }).
			WithStartupTimeout(3 * time.Minute),
	}
	pulsarContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pulsarContainer); err != nil {
			t.Logf("failed to terminate pulsar container: %s", err)
		}
	})

	serviceURL, err = pulsarContainer.PortEndpoint(ctx, "6650/tcp", "pulsar")
	require.NoError(t, err)
	adminURL, err = pulsarContainer.PortEndpoint(ctx, "8080/tcp", "http")
	require.NoError(t, err)
	return serviceURL, adminURL
}

func TestPulsarBroker_PublishThroughPublisher(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 4*time.Minute)
	defer cancel()

	serviceURL, adminURL := setupPulsar(t, ctx)
	conn, err := newPulsarBroker(serviceURL, adminURL, "public/default")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.CreateTopic(ctx, "orders"))
	require.NoError(t, conn.CreateTopic(ctx, "orders"))

	topics, err := conn.ListTopics(ctx)
	require.NoError(t, err)
	assert.Contains(t, topics, "orders")

	consumer, err := conn.client.Subscribe(pulsar.ConsumerOptions{
		Topic:                       conn.fullTopic("orders"),
		SubscriptionName:            "mqpub-test",
		SubscriptionInitialPosition: pulsar.SubscriptionPositionEarliest,
	})
	require.NoError(t, err)

	s := DefaultPublishSettings()
	s.Batch.MaxMessages = 3
	p := newTestPublisher(t, conn, s)

	var results []*PublishResult
	for i := range 3 {
		results = append(results, p.Publish("orders", &Message{
			Data:       []byte(fmt.Sprintf("order-%d", i)),
			Attributes: map[string]string{"index": fmt.Sprint(i)},
		}))
	}
	require.NoError(t, p.WaitAll(ctx, "orders"))

	seen := make(map[string]struct{})
	for _, r := range results {
		id, err := r.Get(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, 3, "message IDs must be distinct")

	for i := range 3 {
		m, err := consumer.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("order-%d", i), string(m.Payload()))
		assert.Equal(t, fmt.Sprint(i), m.Properties()["index"])
		require.NoError(t, consumer.Ack(m))
	}
	consumer.Close()

	require.NoError(t, conn.DeleteTopic(ctx, "orders"))

	err = conn.DeleteTopic(ctx, "orders")
	require.Error(t, err)
	assert.Equal(t, codes.NotFound, Classify(err))
}
