package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/wolfman30/wellbeing-platform/internal/escalation"
)

type sqsAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher forwards outbox envelopes to a queue. It is the outbox
// DeliveryHandler in production.
type SQSPublisher struct {
	client   sqsAPI
	queueURL string
}

func NewSQSPublisher(client sqsAPI, queueURL string) *SQSPublisher {
	if client == nil {
		panic("events: SQS client cannot be nil")
	}
	if queueURL == "" {
		panic("events: SQS queueURL cannot be empty")
	}
	return &SQSPublisher{client: client, queueURL: queueURL}
}

func (p *SQSPublisher) Handle(ctx context.Context, entry OutboxEntry) error {
	body, err := json.Marshal(entry.Envelope)
	if err != nil {
		return fmt.Errorf("events: marshal envelope: %w", err)
	}
	return p.send(ctx, string(body), entry.Type, entry.Aggregate)
}

func (p *SQSPublisher) send(ctx context.Context, body, eventType, aggregate string) error {
	_, err := p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(body),
		MessageAttributes: map[string]sqstypes.MessageAttributeValue{
			"event_type": {DataType: aws.String("String"), StringValue: aws.String(eventType)},
			"aggregate":  {DataType: aws.String("String"), StringValue: aws.String(aggregate)},
		},
	})
	if err != nil {
		return fmt.Errorf("events: send %s to SQS: %w", eventType, err)
	}
	return nil
}

// FailsafeQueue publishes fail-safe alerts directly to a queue, skipping the
// outbox because the database is the thing that failed.
type FailsafeQueue struct {
	pub *SQSPublisher
}

func NewFailsafeQueue(client sqsAPI, queueURL string) *FailsafeQueue {
	return &FailsafeQueue{pub: NewSQSPublisher(client, queueURL)}
}

func (q *FailsafeQueue) Alert(ctx context.Context, alert escalation.FailsafeAlert) error {
	evt := failsafeFromAlert(alert)
	env, err := newEnvelope(AggregateFor(alert.EventID), alert.DetectionID, evt, WithTimestamp(alert.OccurredAt))
	if err != nil {
		return err
	}
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("events: marshal alert: %w", err)
	}
	return q.pub.send(ctx, string(body), env.EventType, env.Aggregate)
}

// Fanout publishes a change to every publisher and joins their errors.
type Fanout []escalation.Publisher

func (f Fanout) Publish(ctx context.Context, change escalation.Change) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
