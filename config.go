package mqpub

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Supported providers.
const (
	ProviderGCloud = "gcloud"
	ProviderAWS    = "aws"
	ProviderKafka  = "kafka"
	ProviderNATS   = "nats"
	ProviderPulsar = "pulsar"
	ProviderMemory = "memory"
)

// Config represents configuration information for the broker environment.
// Only the fields of the selected Provider are used:
// "gcloud" needs GCloudProject, "aws" needs AWSRegion, "kafka" needs
// KafkaBootstrapServers, "nats" needs NATSURL and "pulsar" needs PulsarURL and
// PulsarAdminURL. "memory" needs nothing.
type Config struct {
	Provider              string `env:"MQ_PROVIDER"             envDefault:"gcloud"`
	GCloudProject         string `env:"PUBSUB_PROJECT_ID"`
	AWSRegion             string `env:"AWS_REGION"`
	KafkaBootstrapServers string `env:"KAFKA_BOOTSTRAP_SERVERS"`
	NATSURL               string `env:"NATS_URL"`
	PulsarURL             string `env:"PULSAR_URL"`
	PulsarAdminURL        string `env:"PULSAR_ADMIN_URL"`
	PulsarNamespace       string `env:"PULSAR_NAMESPACE"        envDefault:"public/default"`
}

// LoadConfig reads the broker configuration from the environment.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse broker config: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the selected provider has what it needs.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderGCloud:
		if c.GCloudProject == "" {
			return fmt.Errorf("provider %q requires a project id", c.Provider)
		}
	case ProviderAWS:
		if c.AWSRegion == "" {
			return fmt.Errorf("provider %q requires a region", c.Provider)
		}
	case ProviderKafka:
		if c.KafkaBootstrapServers == "" {
			return fmt.Errorf("provider %q requires bootstrap servers", c.Provider)
		}
	case ProviderNATS:
		// nats.DefaultURL is used when NATSURL is empty.
	case ProviderPulsar:
		if c.PulsarURL == "" || c.PulsarAdminURL == "" {
			return fmt.Errorf("provider %q requires service and admin urls", c.Provider)
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unrecognized provider %q", c.Provider)
	}
	return nil
}
