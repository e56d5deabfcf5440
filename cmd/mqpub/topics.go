package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"
)

func (env *environment) listTopics(c *cli.Context) error {
	return env.run(c, func(ctx context.Context, s *session) error {
		topics, err := s.broker.ListTopics(ctx)
		if err != nil {
			return fmt.Errorf("failed to list topics: %w", err)
		}
		for _, topic := range topics {
			fmt.Fprintln(c.App.Writer, topic)
		}
		s.log.Debugw("listed topics", "count", len(topics))
		return nil
	})
}

func (env *environment) createTopic(c *cli.Context) error {
	topic, err := requireArg(c, "topic")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		if err := s.broker.CreateTopic(ctx, topic); err != nil {
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		}
		s.log.Infow("topic created", "topic", topic)
		return nil
	})
}

func (env *environment) deleteTopic(c *cli.Context) error {
	topic, err := requireArg(c, "topic")
	if err != nil {
		return err
	}
	return env.run(c, func(ctx context.Context, s *session) error {
		if err := s.broker.DeleteTopic(ctx, topic); err != nil {
			return fmt.Errorf("failed to delete topic %s: %w", topic, err)
		}
		s.log.Infow("topic deleted", "topic", topic)
		return nil
	})
}
