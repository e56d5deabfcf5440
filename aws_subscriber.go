package mqpub

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
	"golang.org/x/sync/errgroup"
)

// sqsMaxReceive is the ReceiveMessage batch limit.
const sqsMaxReceive = 10

// snsMessage is the envelope SNS wraps around a message delivered to SQS.
type snsMessage struct {
	Message           string
	MessageAttributes map[string]*snsMessageAttribute
}

type snsMessageAttribute struct {
	Type  string
	Value string
}

// CreateSubscription creates an SQS queue named subscriptionID, lets the topic
// send to it and subscribes it to the topic.
// This is an idempotent call and returns no error if a subscription with the same id already exists,
// provided that the topic and other parameters are the same.
func (conn *awsBroker) CreateSubscription(ctx context.Context, subscriptionID string, options *SubscriptionOptions) error {
	if err := options.validate(); err != nil {
		return err
	}
	opts := options.withDefaults()

	// resolve topic arn first
	topicARN, err := conn.getTopicARN(ctx, opts.TopicID)
	if err != nil {
		return err
	}

	queue, err := conn.sqsClient.CreateQueueWithContext(ctx, &sqs.CreateQueueInput{
		QueueName: aws.String(subscriptionID),
		Attributes: map[string]*string{
			sqs.QueueAttributeNameVisibilityTimeout:      aws.String(strconv.Itoa(opts.AckDeadline)),
			sqs.QueueAttributeNameMessageRetentionPeriod: aws.String(strconv.Itoa(opts.RetentionDuration)),
		},
	})
	if err != nil {
		return classifyAWSError(err)
	}

	queueAttributes, err := conn.sqsClient.GetQueueAttributesWithContext(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: queue.QueueUrl,
		AttributeNames: []*string{
			aws.String(sqs.QueueAttributeNameQueueArn),
			aws.String(sqs.QueueAttributeNamePolicy),
		},
	})
	if err != nil {
		return classifyAWSError(err)
	}

	queueARN := aws.StringValue(queueAttributes.Attributes[sqs.QueueAttributeNameQueueArn])

	policy, err := parseSqsPolicy(queueARN, queueAttributes.Attributes[sqs.QueueAttributeNamePolicy])
	if err != nil {
		return err
	}

	if policy.AddPermission(queueARN, topicARN) {
		policyBytes, err := json.Marshal(policy)
		if err != nil {
			return fmt.Errorf("encode queue policy: %w", err)
		}

		if _, err := conn.sqsClient.SetQueueAttributesWithContext(ctx, &sqs.SetQueueAttributesInput{
			QueueUrl: queue.QueueUrl,
			Attributes: map[string]*string{
				sqs.QueueAttributeNamePolicy: aws.String(string(policyBytes)),
			},
		}); err != nil {
			return classifyAWSError(err)
		}
	}

	// subscribing is idempotent on the SNS side
	if _, err := conn.snsClient.SubscribeWithContext(ctx, &sns.SubscribeInput{
		TopicArn: aws.String(topicARN),
		Endpoint: aws.String(queueARN),
		Protocol: aws.String("sqs"),
	}); err != nil {
		return classifyAWSError(err)
	}

	conn.mu.Lock()
	conn.queueURLs[subscriptionID] = aws.StringValue(queue.QueueUrl)
	conn.mu.Unlock()
	return nil
}

// Consume consumes messages from the specified subscription
// and passes them on to the handler function.
// This is a blocking function and doesn't return until ctx is done or it encounters a network error.
func (conn *awsBroker) Consume(ctx context.Context, subscriptionID string, handler func(*Message) error, options *ConsumerOptions) error {
	opts := options.withDefaults()

	queueURL, err := conn.getQueueURL(ctx, subscriptionID)
	if err != nil {
		return err
	}

	msgs := make(chan *sqs.Message, opts.MaxOutstandingMessages)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(msgs)
		for {
			response, err := conn.sqsClient.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              aws.String(queueURL),
				MaxNumberOfMessages:   aws.Int64(int64(min(opts.MaxOutstandingMessages, sqsMaxReceive))),
				WaitTimeSeconds:       aws.Int64(2),
				MessageAttributeNames: []*string{aws.String("All")},
			})
			if ctx.Err() != nil {
				return nil
			}
			if err != nil {
				return classifyAWSError(err)
			}

			for _, msg := range response.Messages {
				select {
				case msgs <- msg:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})

	for i := 0; i < opts.Concurrency; i++ {
		g.Go(func() error {
			for msg := range msgs {
				if err := conn.handleMessage(ctx, msg, queueURL, handler); err != nil {
					return err
				}
			}
			return nil
		})
	}

	return g.Wait()
}

func (conn *awsBroker) handleMessage(ctx context.Context, outerMsg *sqs.Message, queueURL string, handler func(*Message) error) error {
	msg := &snsMessage{}
	if err := json.Unmarshal([]byte(aws.StringValue(outerMsg.Body)), msg); err != nil {
		return fmt.Errorf("decode sns envelope: %w", err)
	}

	attributes := make(map[string]string)
	for attribute, value := range msg.MessageAttributes {
		if value != nil && value.Type == "String" {
			attributes[attribute] = value.Value
		}
	}

	if err := handler(&Message{
		Data:       []byte(msg.Message),
		Attributes: attributes,
	}); err != nil {
		// left on the queue; it is redelivered once the visibility timeout expires
		return nil
	}

	// acknowledge processing by deleting the message from queue
	// we can safely ignore delete errors because message processing is assumed to be idempotent
	conn.sqsClient.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: outerMsg.ReceiptHandle,
	})

	return nil
}

func (conn *awsBroker) getQueueURL(ctx context.Context, subscriptionID string) (string, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if queueURL := conn.queueURLs[subscriptionID]; queueURL != "" {
		return queueURL, nil
	}

	queueURLResult, err := conn.sqsClient.GetQueueUrlWithContext(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(subscriptionID),
	})
	if err != nil {
		return "", classifyAWSError(err)
	}

	queueURL := aws.StringValue(queueURLResult.QueueUrl)
	conn.queueURLs[subscriptionID] = queueURL
	return queueURL, nil
}
