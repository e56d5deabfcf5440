package main

import (
	"time"

	"github.com/urfave/cli/v2"
)

// globalFlags returns the flags shared by every mqpub command
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
		},
		&cli.StringFlag{
			Name:    "provider",
			Aliases: []string{"p"},
			Usage:   "Broker provider (gcloud, aws, kafka, nats, pulsar, memory)",
			EnvVars: []string{"MQ_PROVIDER"},
			Value:   "gcloud",
		},
		// Provider connection flags
		&cli.StringFlag{
			Name:    "project",
			Usage:   "Google Cloud project ID",
			EnvVars: []string{"PUBSUB_PROJECT_ID"},
		},
		&cli.StringFlag{
			Name:    "aws-region",
			Usage:   "AWS region for SNS and SQS",
			EnvVars: []string{"AWS_REGION"},
		},
		&cli.StringFlag{
			Name:    "kafka-bootstrap-servers",
			Usage:   "Kafka bootstrap servers (comma-separated)",
			EnvVars: []string{"KAFKA_BOOTSTRAP_SERVERS"},
		},
		&cli.StringFlag{
			Name:    "nats-url",
			Usage:   "NATS server URL",
			EnvVars: []string{"NATS_URL"},
		},
		&cli.StringFlag{
			Name:    "pulsar-url",
			Usage:   "Pulsar service URL",
			EnvVars: []string{"PULSAR_URL"},
		},
		&cli.StringFlag{
			Name:    "pulsar-admin-url",
			Usage:   "Pulsar admin (web service) URL",
			EnvVars: []string{"PULSAR_ADMIN_URL"},
		},
		&cli.StringFlag{
			Name:    "pulsar-namespace",
			Usage:   "Pulsar tenant/namespace holding the topics",
			EnvVars: []string{"PULSAR_NAMESPACE"},
			Value:   "public/default",
		},
		// Publisher flags
		&cli.StringFlag{
			Name:    "settings",
			Aliases: []string{"s"},
			Usage:   "Path to a YAML file with batch, retry and breaker settings",
			EnvVars: []string{"MQ_SETTINGS"},
		},
		&cli.StringFlag{
			Name:    "metrics-addr",
			Usage:   "Address to serve Prometheus metrics on (disabled when empty)",
			EnvVars: []string{"MQ_METRICS_ADDR"},
		},
	}
}

func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-messages",
			Usage: "Seal a batch once it holds this many messages",
			Value: 10,
		},
		&cli.IntFlag{
			Name:  "max-bytes",
			Usage: "Seal a batch once it holds this many bytes",
			Value: 1024,
		},
		&cli.DurationFlag{
			Name:  "max-latency",
			Usage: "Seal a batch once its first message is this old",
			Value: time.Second,
		},
	}
}

func subscriptionFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "topic",
			Aliases:  []string{"t"},
			Usage:    "Topic to subscribe to",
			Required: true,
		},
		&cli.DurationFlag{
			Name:  "ack-deadline",
			Usage: "Time a consumer has to acknowledge a message",
			Value: 10 * time.Second,
		},
		&cli.DurationFlag{
			Name:  "retention",
			Usage: "How long unacknowledged messages are kept",
			Value: 7 * 24 * time.Hour,
		},
		&cli.DurationFlag{
			Name:  "expiration",
			Usage: "Inactivity after which the subscription is deleted (0 means never)",
		},
	}
}

func consumeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-outstanding",
			Usage: "Maximum number of messages leased at once",
			Value: 10,
		},
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Concurrent message handlers",
			Value: 1,
		},
	}
}

func validateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "input",
			Aliases: []string{"i"},
			Usage:   "JSON lines file of event rows (- for stdin)",
			Value:   "-",
		},
		&cli.StringFlag{
			Name:     "dead-letter-topic",
			Aliases:  []string{"d"},
			Usage:    "Topic rejected rows are published to",
			Required: true,
		},
		&cli.BoolFlag{
			Name:  "coerce",
			Usage: "Convert numbers and strings to the column type where possible",
			Value: true,
		},
		&cli.BoolFlag{
			Name:  "strict",
			Usage: "Reject rows with columns outside the schema",
		},
		&cli.BoolFlag{
			Name:  "nullable",
			Usage: "Allow null values in every column",
		},
		&cli.StringFlag{
			Name:  "version-constraint",
			Usage: "Semantic version constraint the version column must satisfy (e.g. \">=1.0.0 <2.0.0\")",
		},
	}
}
