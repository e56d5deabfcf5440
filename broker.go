package mqpub

import (
	"context"
	"fmt"
)

// Broker is an interface that represents an underlying message broker:
// something that can send batches and manage topics.
type Broker interface {
	Transport
	Registry

	// Close releases the broker's connections.
	Close() error
}

// NewBroker returns a new broker configured for an underlying provider.
// The gcloud and aws brokers also implement Subscriber.
func NewBroker(ctx context.Context, config *Config) (Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Provider {
	case ProviderAWS:
		return newAwsBroker(config.AWSRegion)
	case ProviderGCloud:
		return newGcloudBroker(ctx, config.GCloudProject)
	case ProviderKafka:
		return newKafkaBroker(config.KafkaBootstrapServers)
	case ProviderNATS:
		return newNatsBroker(config.NATSURL)
	case ProviderPulsar:
		return newPulsarBroker(config.PulsarURL, config.PulsarAdminURL, config.PulsarNamespace)
	case ProviderMemory:
		return NewMemoryBroker(), nil
	default:
		return nil, fmt.Errorf("unrecognized provider %q", config.Provider)
	}
}
