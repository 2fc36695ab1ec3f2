// Package export moves detection events off the live bus into durable
// sinks: an SQS queue for at-least-once downstream processing and S3 for
// batch archival.
package export

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sqs"

	"ezliveAnalytics/event"
	"ezliveAnalytics/models"
)

// SqsExporter pushes encoded detection events onto an SQS queue. Unlike the
// events/{sourceId} bus topics, the queue is at-least-once: consumers that
// fall behind still see every exported event.
type SqsExporter struct {
	QueueName string
	SqsClient *sqs.SQS

	queueUrl string
}

// NewSqsExporter builds a client against the given AWS region.
func NewSqsExporter(region string, queueName string) (*SqsExporter, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}

	return &SqsExporter{QueueName: queueName, SqsClient: sqs.New(sess)}, nil
}

func (e *SqsExporter) resolveQueueUrl() (string, error) {
	if e.queueUrl != "" {
		return e.queueUrl, nil
	}

	result, err := e.SqsClient.GetQueueUrl(&sqs.GetQueueUrlInput{
		QueueName: aws.String(e.QueueName),
	})
	if err != nil {
		return "", fmt.Errorf("resolve queue URL for %s: %w", e.QueueName, err)
	}

	e.queueUrl = *result.QueueUrl
	return e.queueUrl, nil
}

// Export sends one event. Source id and producer travel as message
// attributes so consumers can filter without decoding the body.
func (e *SqsExporter) Export(ctx context.Context, ev models.DetectionEvent) error {
	queueUrl, err := e.resolveQueueUrl()
	if err != nil {
		return err
	}

	b, err := event.Encode(ev)
	if err != nil {
		return err
	}

	_, err = e.SqsClient.SendMessageWithContext(ctx, &sqs.SendMessageInput{
		MessageAttributes: map[string]*sqs.MessageAttributeValue{
			"SourceId": {
				DataType:    aws.String("Number"),
				StringValue: aws.String(fmt.Sprintf("%d", ev.SourceId)),
			},
			"Producer": {
				DataType:    aws.String("String"),
				StringValue: aws.String(ev.ProducerInstanceId),
			},
		},
		MessageBody: aws.String(string(b)),
		QueueUrl:    aws.String(queueUrl),
	})
	if err != nil {
		return fmt.Errorf("send event to %s: %w", e.QueueName, err)
	}

	return nil
}

// SqsEventReceiver is the downstream side: it drains exported events and
// deletes them once handed to the caller.
type SqsEventReceiver struct {
	QueueName string
	SqsClient *sqs.SQS

	VisibilityTimeout int64
	queueUrl          string
}

func NewSqsEventReceiver(region string, queueName string) (*SqsEventReceiver, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("create AWS session: %w", err)
	}

	return &SqsEventReceiver{
		QueueName:         queueName,
		SqsClient:         sqs.New(sess),
		VisibilityTimeout: 30,
	}, nil
}

// ReceiveEvents fetches up to max events, deleting each one after a
// successful decode. Events whose payload no longer decodes are deleted and
// skipped rather than poisoning the queue.
func (r *SqsEventReceiver) ReceiveEvents(ctx context.Context, max int64) ([]models.DetectionEvent, error) {
	if r.queueUrl == "" {
		result, err := r.SqsClient.GetQueueUrl(&sqs.GetQueueUrlInput{
			QueueName: aws.String(r.QueueName),
		})
		if err != nil {
			return nil, fmt.Errorf("resolve queue URL for %s: %w", r.QueueName, err)
		}
		r.queueUrl = *result.QueueUrl
	}

	msgResult, err := r.SqsClient.ReceiveMessageWithContext(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(r.queueUrl),
		MaxNumberOfMessages: aws.Int64(max),
		VisibilityTimeout:   aws.Int64(r.VisibilityTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("receive from %s: %w", r.QueueName, err)
	}

	var events []models.DetectionEvent
	for _, m := range msgResult.Messages {
		ev, _, decodeErr := event.Decode([]byte(aws.StringValue(m.Body)))

		_, delErr := r.SqsClient.DeleteMessageWithContext(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(r.queueUrl),
			ReceiptHandle: m.ReceiptHandle,
		})
		if delErr != nil {
			return events, fmt.Errorf("delete message from %s: %w", r.QueueName, delErr)
		}

		if decodeErr != nil {
			continue
		}

		events = append(events, ev)
	}

	return events, nil
}
