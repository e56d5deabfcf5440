package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/umran/mqpub"
	"github.com/umran/mqpub/internal/utils"
)

func main() {
	app := newApp(&environment{
		newBroker: mqpub.NewBroker,
		newLogger: utils.NewSugaredLogger,
	})

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(env *environment) *cli.App {
	return &cli.App{
		Name:  "mqpub",
		Usage: "Manage topics and publish messages through a batching, retrying publisher",
		Flags: globalFlags(),
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all topics",
				Action: env.listTopics,
			},
			{
				Name:      "create",
				Usage:     "Create a new topic",
				ArgsUsage: "<topic>",
				Action:    env.createTopic,
			},
			{
				Name:      "delete",
				Usage:     "Delete an existing topic",
				ArgsUsage: "<topic>",
				Action:    env.deleteTopic,
			},
			{
				Name:      "publish",
				Usage:     "Publish nine messages, waiting for each one",
				ArgsUsage: "<topic>",
				Action:    env.publishMessages,
			},
			{
				Name:      "publish-with-custom-attributes",
				Usage:     "Publish nine messages carrying origin and username attributes",
				ArgsUsage: "<topic>",
				Action:    env.publishWithCustomAttributes,
			},
			{
				Name:      "publish-with-error-handler",
				Usage:     "Publish ten messages, handling each outcome in a callback",
				ArgsUsage: "<topic>",
				Action:    env.publishWithErrorHandler,
			},
			{
				Name:      "publish-with-batch-settings",
				Usage:     "Publish nine messages with custom batch thresholds",
				ArgsUsage: "<topic>",
				Flags:     batchFlags(),
				Action:    env.publishWithBatchSettings,
			},
			{
				Name:      "publish-with-retry-settings",
				Usage:     "Publish nine messages with an explicit retry policy",
				ArgsUsage: "<topic>",
				Action:    env.publishWithRetrySettings,
			},
			{
				Name:      "create-subscription",
				Usage:     "Create a subscription to a topic (gcloud and aws only)",
				ArgsUsage: "<subscription>",
				Flags:     subscriptionFlags(),
				Action:    env.createSubscription,
			},
			{
				Name:      "consume",
				Usage:     "Log messages from a subscription until interrupted (gcloud and aws only)",
				ArgsUsage: "<subscription>",
				Flags:     consumeFlags(),
				Action:    env.consume,
			},
			{
				Name:   "validate-events",
				Usage:  "Validate event rows and publish rejected ones to a dead-letter topic",
				Flags:  validateFlags(),
				Action: env.validateEvents,
			},
		},
	}
}
