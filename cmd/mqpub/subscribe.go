package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/umran/mqpub"
)

func (env *environment) createSubscription(c *cli.Context) error {
	id, err := requireArg(c, "subscription")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		sub, err := s.subscriber()
		if err != nil {
			return err
		}

		opts := buildSubscriptionOptions(c)
		if err := sub.CreateSubscription(ctx, id, opts); err != nil {
			return fmt.Errorf("failed to create subscription %s: %w", id, err)
		}
		s.log.Infow("subscription created", "subscription", id, "topic", opts.TopicID)
		return nil
	})
}

func (env *environment) consume(c *cli.Context) error {
	id, err := requireArg(c, "subscription")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		sub, err := s.subscriber()
		if err != nil {
			return err
		}

		s.log.Infow("consuming", "subscription", id)
		err = sub.Consume(ctx, id, func(m *mqpub.Message) error {
			s.log.Infow("message received",
				"subscription", id,
				"data", string(m.Data),
				"attributes", m.Attributes,
			)
			return nil
		}, buildConsumerOptions(c))
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("failed to consume %s: %w", id, err)
		}
		return nil
	})
}
