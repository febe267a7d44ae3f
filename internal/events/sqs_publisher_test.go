package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/internal/escalation"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func TestSQSPublisher_HandleSendsEnvelope(t *testing.T) {
	fake := &fakeSQS{}
	pub := NewSQSPublisher(fake, "https://sqs.local/crisis")

	env, err := newEnvelope(AggregateFor("evt-1"), "", CrisisEventCreatedV1{EventID: "evt-1", FlagLevel: "HIGH"})
	require.NoError(t, err)
	require.NoError(t, pub.Handle(context.Background(), OutboxEntry{ID: env.EventID, Aggregate: env.Aggregate, Type: env.EventType, Envelope: env}))

	require.Len(t, fake.inputs, 1)
	in := fake.inputs[0]
	assert.Equal(t, "https://sqs.local/crisis", aws.ToString(in.QueueUrl))
	assert.Equal(t, TypeCrisisEventCreated, aws.ToString(in.MessageAttributes["event_type"].StringValue))

	var got Envelope
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(in.MessageBody)), &got))
	assert.Equal(t, env.EventID, got.EventID)

	fake.err = errors.New("throttled")
	assert.Error(t, pub.Handle(context.Background(), OutboxEntry{Envelope: env}))
}

func TestFailsafeQueue_Alert(t *testing.T) {
	fake := &fakeSQS{}
	q := NewFailsafeQueue(fake, "https://sqs.local/alerts")
	at := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	err := q.Alert(context.Background(), escalation.FailsafeAlert{
		EventID:     "evt-9",
		UserID:      "user-9",
		DetectionID: "det-9",
		Level:       detection.SeverityCritical,
		Attempts:    5,
		Reason:      "connection refused",
		OccurredAt:  at,
	})
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(fake.inputs[0].MessageBody)), &env))
	assert.Equal(t, TypeFailsafeAlert, env.EventType)
	assert.Equal(t, at.UnixMicro(), env.TimestampMicros)

	var alert FailsafeAlertV1
	require.NoError(t, env.Decode(&alert))
	assert.Equal(t, "CRITICAL", alert.FlagLevel)
	assert.Equal(t, 5, alert.Attempts)
}

type recordingPublisher struct {
	changes []escalation.Change
	err     error
}

func (r *recordingPublisher) Publish(_ context.Context, c escalation.Change) error {
	r.changes = append(r.changes, c)
	return r.err
}

func TestFanoutJoinsErrors(t *testing.T) {
	a := &recordingPublisher{}
	b := &recordingPublisher{err: errors.New("hub closed")}
	err := Fanout{a, nil, b}.Publish(context.Background(), escalation.Change{Kind: escalation.ChangeCreated})
	require.Error(t, err)
	assert.Len(t, a.changes, 1)
	assert.Len(t, b.changes, 1)
}
