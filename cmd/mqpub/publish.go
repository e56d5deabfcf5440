package main

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"
	"google.golang.org/grpc/codes"

	"github.com/umran/mqpub"
)

const sampleMessages = 9

// retrySettingsPolicy is the policy publish-with-retry-settings installs in
// place of the configured one.
var retrySettingsPolicy = mqpub.RetryPolicy{
	RetryCodes: []codes.Code{
		codes.Aborted,
		codes.Canceled,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable,
		codes.Unknown,
	},
	InitialDelay: 100 * time.Millisecond,
	Multiplier:   1.3,
	MaxDelay:     60 * time.Second,
	TotalTimeout: 600 * time.Second,
	RPCTimeout:   5 * time.Second,
}

func sampleMessage(n int, attrs map[string]string) *mqpub.Message {
	return &mqpub.Message{
		Data:       []byte(fmt.Sprintf("Message number %d", n)),
		Attributes: attrs,
	}
}

// publishEach publishes the sample messages one at a time, waiting for each
// message ID before publishing the next.
func publishEach(ctx context.Context, s *session, p *mqpub.Publisher, topic string, attrs map[string]string) error {
	for n := 1; n <= sampleMessages; n++ {
		id, err := p.Publish(topic, sampleMessage(n, attrs)).Get(ctx)
		if err != nil {
			return fmt.Errorf("failed to publish message %d: %w", n, err)
		}
		s.log.Infow("message published", "topic", topic, "id", id)
	}
	return nil
}

func (env *environment) publishMessages(c *cli.Context) error {
	topic, err := requireArg(c, "topic")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		settings, err := s.settings()
		if err != nil {
			return err
		}
		return s.withPublisher(ctx, settings, func(p *mqpub.Publisher) error {
			if err := publishEach(ctx, s, p, topic, nil); err != nil {
				return err
			}
			s.log.Infow("published messages", "topic", topic)
			return nil
		})
	})
}

func (env *environment) publishWithCustomAttributes(c *cli.Context) error {
	topic, err := requireArg(c, "topic")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		settings, err := s.settings()
		if err != nil {
			return err
		}
		attrs := map[string]string{
			"origin":   "go-sample",
			"username": "gcp",
		}
		return s.withPublisher(ctx, settings, func(p *mqpub.Publisher) error {
			if err := publishEach(ctx, s, p, topic, attrs); err != nil {
				return err
			}
			s.log.Infow("published messages with custom attributes", "topic", topic)
			return nil
		})
	})
}

func (env *environment) publishWithErrorHandler(c *cli.Context) error {
	topic, err := requireArg(c, "topic")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		settings, err := s.settings()
		if err != nil {
			return err
		}
		return s.withPublisher(ctx, settings, func(p *mqpub.Publisher) error {
			const total = 10

			var failed atomic.Int32
			for i := 0; i < total; i++ {
				data := strconv.Itoa(i)
				p.Publish(topic, &mqpub.Message{Data: []byte(data)}).OnDone(func(id string, err error) {
					if err != nil {
						failed.Add(1)
						s.log.Errorw("failed to publish message", "topic", topic, "data", data, "error", err)
						return
					}
					s.log.Infow("message published", "topic", topic, "data", data, "id", id)
				})
			}

			if err := p.WaitAll(ctx, topic); err != nil {
				return err
			}
			if n := failed.Load(); n > 0 {
				return fmt.Errorf("%d of %d messages failed", n, total)
			}
			s.log.Infow("published messages with error handler", "topic", topic)
			return nil
		})
	})
}

func (env *environment) publishWithBatchSettings(c *cli.Context) error {
	topic, err := requireArg(c, "topic")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		settings, err := s.settings()
		if err != nil {
			return err
		}
		settings.Batch = mqpub.BatchSettings{
			MaxMessages: c.Int("max-messages"),
			MaxBytes:    c.Int("max-bytes"),
			MaxLatency:  c.Duration("max-latency"),
		}
		return s.withPublisher(ctx, settings, func(p *mqpub.Publisher) error {
			for n := 1; n <= sampleMessages; n++ {
				p.Publish(topic, sampleMessage(n, nil)).OnDone(func(id string, err error) {
					if err != nil {
						s.log.Errorw("failed to publish message", "topic", topic, "error", err)
						return
					}
					s.log.Infow("message published", "topic", topic, "id", id)
				})
			}
			s.log.Infow("published messages with batch settings",
				"topic", topic,
				"maxMessages", settings.Batch.MaxMessages,
				"maxBytes", settings.Batch.MaxBytes,
				"maxLatency", settings.Batch.MaxLatency,
			)
			return nil
		})
	})
}

func (env *environment) publishWithRetrySettings(c *cli.Context) error {
	topic, err := requireArg(c, "topic")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		settings, err := s.settings()
		if err != nil {
			return err
		}
		settings.Retry = retrySettingsPolicy
		return s.withPublisher(ctx, settings, func(p *mqpub.Publisher) error {
			if err := publishEach(ctx, s, p, topic, nil); err != nil {
				return err
			}
			s.log.Infow("published messages with retry settings", "topic", topic)
			return nil
		})
	})
}
