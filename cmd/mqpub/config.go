package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/umran/mqpub"
)

// Config holds the settings shared by every command.
type Config struct {
	Verbose      bool
	Broker       mqpub.Config
	SettingsPath string
	MetricsAddr  string
}

// buildConfig creates a Config from the global CLI flags
func buildConfig(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Verbose: c.Bool("verbose"),
		Broker: mqpub.Config{
			Provider:              c.String("provider"),
			GCloudProject:         c.String("project"),
			AWSRegion:             c.String("aws-region"),
			KafkaBootstrapServers: c.String("kafka-bootstrap-servers"),
			NATSURL:               c.String("nats-url"),
			PulsarURL:             c.String("pulsar-url"),
			PulsarAdminURL:        c.String("pulsar-admin-url"),
			PulsarNamespace:       c.String("pulsar-namespace"),
		},
		SettingsPath: c.String("settings"),
		MetricsAddr:  c.String("metrics-addr"),
	}

	if err := cfg.Broker.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker config: %w", err)
	}
	return cfg, nil
}

func buildSubscriptionOptions(c *cli.Context) *mqpub.SubscriptionOptions {
	return &mqpub.SubscriptionOptions{
		TopicID:           c.String("topic"),
		AckDeadline:       int(c.Duration("ack-deadline").Seconds()),
		RetentionDuration: int(c.Duration("retention").Seconds()),
		ExpirationPolicy:  int(c.Duration("expiration").Seconds()),
	}
}

func buildConsumerOptions(c *cli.Context) *mqpub.ConsumerOptions {
	return &mqpub.ConsumerOptions{
		MaxOutstandingMessages: c.Int("max-outstanding"),
		Concurrency:            c.Int("concurrency"),
	}
}
