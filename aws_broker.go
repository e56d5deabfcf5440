package mqpub

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
	"google.golang.org/grpc/codes"
)

// snsMaxBatchEntries is the PublishBatch entry limit.
const snsMaxBatchEntries = 10

type awsBroker struct {
	mu        sync.Mutex
	snsClient *sns.SNS
	sqsClient *sqs.SQS
	topicARNs map[string]string
	queueURLs map[string]string
}

// SendBatch publishes messages with SNS PublishBatch, ten entries per call.
// SNS has no all-or-nothing batch, so a failure part way through means the
// earlier entries were delivered and will be sent again if the batch is retried.
func (conn *awsBroker) SendBatch(ctx context.Context, topicID string, messages []*Message) ([]string, error) {
	topicARN, err := conn.getTopicARN(ctx, topicID)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(messages))
	for start := 0; start < len(messages); start += snsMaxBatchEntries {
		end := min(start+snsMaxBatchEntries, len(messages))

		chunk, err := conn.publishChunk(ctx, topicARN, messages[start:end])
		if err != nil {
			return nil, err
		}
		ids = append(ids, chunk...)
	}

	return ids, nil
}

func (conn *awsBroker) publishChunk(ctx context.Context, topicARN string, messages []*Message) ([]string, error) {
	entries := make([]*sns.PublishBatchRequestEntry, len(messages))
	for i, message := range messages {
		entry := &sns.PublishBatchRequestEntry{
			Id:      aws.String(strconv.Itoa(i)),
			Message: aws.String(string(message.Data)),
		}

		if len(message.Attributes) > 0 {
			entry.MessageAttributes = make(map[string]*sns.MessageAttributeValue, len(message.Attributes))
			for attribute, value := range message.Attributes {
				entry.MessageAttributes[attribute] = &sns.MessageAttributeValue{
					DataType:    aws.String("String"),
					StringValue: aws.String(value),
				}
			}
		}

		entries[i] = entry
	}

	out, err := conn.snsClient.PublishBatchWithContext(ctx, &sns.PublishBatchInput{
		TopicArn:                   aws.String(topicARN),
		PublishBatchRequestEntries: entries,
	})
	if err != nil {
		return nil, classifyAWSError(err)
	}

	if len(out.Failed) > 0 {
		f := out.Failed[0]
		code := awsCode(aws.StringValue(f.Code))
		if code == codes.Unknown {
			code = codes.Unavailable
			if aws.BoolValue(f.SenderFault) {
				code = codes.InvalidArgument
			}
		}
		return nil, NewTransportError(code, fmt.Errorf("%d of %d entries failed, first: %s: %s",
			len(out.Failed), len(entries), aws.StringValue(f.Code), aws.StringValue(f.Message)))
	}

	ids := make([]string, len(messages))
	for _, s := range out.Successful {
		i, err := strconv.Atoi(aws.StringValue(s.Id))
		if err != nil || i < 0 || i >= len(ids) {
			return nil, NewTransportError(codes.Internal, fmt.Errorf("unexpected batch entry id %q", aws.StringValue(s.Id)))
		}
		ids[i] = aws.StringValue(s.MessageId)
	}

	return ids, nil
}

// CreateTopic creates a new topic.
// This is an idempotent call and returns no error if the topic already exists.
func (conn *awsBroker) CreateTopic(ctx context.Context, topicID string) error {
	out, err := conn.snsClient.CreateTopicWithContext(ctx, &sns.CreateTopicInput{
		Name: aws.String(topicID),
	})
	if err != nil {
		return classifyAWSError(err)
	}

	conn.mu.Lock()
	conn.topicARNs[topicID] = aws.StringValue(out.TopicArn)
	conn.mu.Unlock()
	return nil
}

// DeleteTopic deletes an existing topic.
func (conn *awsBroker) DeleteTopic(ctx context.Context, topicID string) error {
	topicARN, err := conn.getTopicARN(ctx, topicID)
	if err != nil {
		return err
	}

	if _, err := conn.snsClient.DeleteTopicWithContext(ctx, &sns.DeleteTopicInput{
		TopicArn: aws.String(topicARN),
	}); err != nil {
		return classifyAWSError(err)
	}

	conn.mu.Lock()
	delete(conn.topicARNs, topicID)
	conn.mu.Unlock()
	return nil
}

// ListTopics returns the names of all topics in the region.
func (conn *awsBroker) ListTopics(ctx context.Context) ([]string, error) {
	var ids []string
	err := conn.snsClient.ListTopicsPagesWithContext(ctx, &sns.ListTopicsInput{},
		func(page *sns.ListTopicsOutput, _ bool) bool {
			for _, topic := range page.Topics {
				arn := aws.StringValue(topic.TopicArn)
				ids = append(ids, arn[strings.LastIndex(arn, ":")+1:])
			}
			return true
		})
	if err != nil {
		return nil, classifyAWSError(err)
	}
	return ids, nil
}

// Close does nothing; the SDK clients hold no long-lived connections.
func (conn *awsBroker) Close() error {
	return nil
}

func (conn *awsBroker) getTopicARN(ctx context.Context, topicID string) (string, error) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	if topicARN := conn.topicARNs[topicID]; topicARN != "" {
		return topicARN, nil
	}

	topicARN := ""
	suffix := fmt.Sprintf(":%s", topicID)
	err := conn.snsClient.ListTopicsPagesWithContext(ctx, &sns.ListTopicsInput{},
		func(page *sns.ListTopicsOutput, _ bool) bool {
			for _, topic := range page.Topics {
				if strings.HasSuffix(aws.StringValue(topic.TopicArn), suffix) {
					topicARN = aws.StringValue(topic.TopicArn)
					return false
				}
			}
			return true
		})
	if err != nil {
		return "", classifyAWSError(err)
	}

	if topicARN == "" {
		return "", NewTransportError(codes.NotFound, fmt.Errorf("topic %q not found", topicID))
	}

	conn.topicARNs[topicID] = topicARN
	return topicARN, nil
}

// classifyAWSError tags an SDK error with its failure class.
func classifyAWSError(err error) error {
	var aerr awserr.Error
	if !errors.As(err, &aerr) {
		return NewTransportError(codes.Unknown, err)
	}

	code := awsCode(aerr.Code())
	if code == codes.Unknown {
		var reqErr awserr.RequestFailure
		if errors.As(err, &reqErr) && reqErr.StatusCode() >= 500 {
			code = codes.Unavailable
		}
	}
	return NewTransportError(code, err)
}

func awsCode(code string) codes.Code {
	switch code {
	case sns.ErrCodeNotFoundException, sqs.ErrCodeQueueDoesNotExist:
		return codes.NotFound
	case sns.ErrCodeAuthorizationErrorException:
		return codes.PermissionDenied
	case sns.ErrCodeInvalidParameterException,
		sns.ErrCodeInvalidParameterValueException,
		sns.ErrCodeTooManyEntriesInBatchRequestException,
		sns.ErrCodeBatchRequestTooLongException,
		sns.ErrCodeBatchEntryIdsNotDistinctException,
		sns.ErrCodeEmptyBatchRequestException,
		sns.ErrCodeInvalidBatchEntryIdException:
		return codes.InvalidArgument
	case sns.ErrCodeThrottledException, sns.ErrCodeKMSThrottlingException:
		return codes.ResourceExhausted
	case sns.ErrCodeInternalErrorException:
		return codes.Internal
	case request.CanceledErrorCode:
		return codes.Canceled
	case request.ErrCodeResponseTimeout:
		return codes.DeadlineExceeded
	case request.ErrCodeRequestError:
		return codes.Unavailable
	}
	return codes.Unknown
}

func newAwsBroker(region string) (*awsBroker, error) {
	session, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})

	if err != nil {
		return nil, err
	}

	conn := &awsBroker{
		snsClient: sns.New(session),
		sqsClient: sqs.New(session),
		topicARNs: make(map[string]string),
		queueURLs: make(map[string]string),
	}

	return conn, nil
}
