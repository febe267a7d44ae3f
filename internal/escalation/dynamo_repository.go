package escalation

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(context.Context, *dynamodb.ScanInput, ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type noteRecord struct {
	MatchedCategories  []string `dynamodbav:"matchedCategories,omitempty"`
	RecommendedActions []string `dynamodbav:"recommendedActions,omitempty"`
	FreeText           string   `dynamodbav:"freeText,omitempty"`
}

type entryRecord struct {
	From  string      `dynamodbav:"from"`
	To    string      `dynamodbav:"to"`
	Actor string      `dynamodbav:"actor"`
	At    string      `dynamodbav:"at"`
	Notes *noteRecord `dynamodbav:"notes,omitempty"`
}

// eventRecord is the DynamoDB item shape. Levels and timestamps are stored
// as strings so items stay readable in the console.
type eventRecord struct {
	EventID       string        `dynamodbav:"eventId"`
	UserID        string        `dynamodbav:"userId"`
	Source        string        `dynamodbav:"source"`
	DetectionID   string        `dynamodbav:"detectionId"`
	DetectedAt    string        `dynamodbav:"detectedAt"`
	FlagLevel     string        `dynamodbav:"flagLevel"`
	Status        string        `dynamodbav:"status"`
	Confidence    float64       `dynamodbav:"confidence"`
	Notes         noteRecord    `dynamodbav:"notes"`
	StatusHistory []entryRecord `dynamodbav:"statusHistory"`
	Version       int64         `dynamodbav:"version"`
	UpdatedAt     string        `dynamodbav:"updatedAt"`
}

// DynamoRepository stores each event, history included, as one item keyed
// by eventId. Transitions use a conditional update on the version attribute.
type DynamoRepository struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ Repository = (*DynamoRepository)(nil)

// NewDynamoRepository builds a repository backed by the provided DynamoDB client.
func NewDynamoRepository(client dynamoAPI, tableName string, logger *logging.Logger) *DynamoRepository {
	if client == nil {
		panic("escalation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("escalation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &DynamoRepository{client: client, tableName: tableName, logger: logger}
}

func (r *DynamoRepository) Create(ctx context.Context, event CrisisEvent) error {
	item, err := attributevalue.MarshalMap(toRecord(event))
	if err != nil {
		return fmt.Errorf("escalation: failed to marshal event: %w", err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(eventId)"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrDuplicateEvent
		}
		return classifyDynamoError(fmt.Errorf("escalation: failed to persist event: %w", err))
	}
	return nil
}

func (r *DynamoRepository) Get(ctx context.Context, id string) (CrisisEvent, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            map[string]types.AttributeValue{"eventId": &types.AttributeValueMemberS{Value: id}},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return CrisisEvent{}, classifyDynamoError(fmt.Errorf("escalation: failed to fetch event: %w", err))
	}
	if out.Item == nil {
		return CrisisEvent{}, ErrEventNotFound
	}
	var rec eventRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return CrisisEvent{}, fmt.Errorf("escalation: failed to decode event: %w", err)
	}
	return fromRecord(rec)
}

// List scans the table with a filter expression; ordering and paging happen
// in memory.
func (r *DynamoRepository) List(ctx context.Context, filter ListFilter) ([]CrisisEvent, error) {
	filter = filter.normalized()
	input := &dynamodb.ScanInput{TableName: aws.String(r.tableName)}

	var expr string
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	if filter.Status != "" {
		expr = "#status = :status"
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(filter.Status)}
	}
	if filter.UserID != "" {
		if expr != "" {
			expr += " AND "
		}
		expr += "userId = :user"
		values[":user"] = &types.AttributeValueMemberS{Value: filter.UserID}
	}
	if expr != "" {
		input.FilterExpression = aws.String(expr)
		input.ExpressionAttributeValues = values
		if len(names) > 0 {
			input.ExpressionAttributeNames = names
		}
	}

	var events []CrisisEvent
	for {
		out, err := r.client.Scan(ctx, input)
		if err != nil {
			return nil, classifyDynamoError(fmt.Errorf("escalation: failed to scan events: %w", err))
		}
		for _, item := range out.Items {
			var rec eventRecord
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				return nil, fmt.Errorf("escalation: failed to decode event: %w", err)
			}
			event, err := fromRecord(rec)
			if err != nil {
				r.logger.Warn("skipping undecodable crisis event", "event_id", rec.EventID, "error", err)
				continue
			}
			events = append(events, event)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		input.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sortNewestFirst(events)
	return page(events, filter), nil
}

func (r *DynamoRepository) Update(ctx context.Context, next CrisisEvent, expectedVersion int64) error {
	entry, ok := next.LastEntry()
	if !ok {
		return fmt.Errorf("escalation: update without history entry for %s", next.ID)
	}
	entryAttr, err := attributevalue.Marshal([]entryRecord{toEntryRecord(entry)})
	if err != nil {
		return fmt.Errorf("escalation: failed to marshal history entry: %w", err)
	}
	notesAttr, err := attributevalue.Marshal(toNoteRecord(next.Notes))
	if err != nil {
		return fmt.Errorf("escalation: failed to marshal notes: %w", err)
	}

	_, err = r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"eventId": &types.AttributeValueMemberS{Value: next.ID},
		},
		UpdateExpression: aws.String("SET #status = :status, #notes = :notes, #version = :next, updatedAt = :updated, statusHistory = list_append(if_not_exists(statusHistory, :empty), :entry)"),
		ExpressionAttributeNames: map[string]string{
			"#status":  "status",
			"#notes":   "notes",
			"#version": "version",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":   &types.AttributeValueMemberS{Value: string(next.Status)},
			":notes":    notesAttr,
			":next":     &types.AttributeValueMemberN{Value: strconv.FormatInt(next.Version, 10)},
			":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(expectedVersion, 10)},
			":updated":  &types.AttributeValueMemberS{Value: next.UpdatedAt.UTC().Format(time.RFC3339Nano)},
			":entry":    entryAttr,
			":empty":    &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		},
		ConditionExpression: aws.String("attribute_exists(eventId) AND #version = :expected"),
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return ErrConflict
		}
		return fmt.Errorf("escalation: failed to update event %s: %w", next.ID, err)
	}
	return nil
}

// classifyDynamoError marks throttling and service-side failures as transient.
func classifyDynamoError(err error) error {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
	)
	if errors.As(err, &throughput) || errors.As(err, &limit) || errors.As(err, &internal) ||
		errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	return err
}

func toRecord(e CrisisEvent) eventRecord {
	rec := eventRecord{
		EventID:       e.ID,
		UserID:        e.UserID,
		Source:        string(e.Source),
		DetectionID:   e.DetectionID,
		DetectedAt:    e.DetectedAt.UTC().Format(time.RFC3339Nano),
		FlagLevel:     e.FlagLevel.String(),
		Status:        string(e.Status),
		Confidence:    e.Confidence,
		Notes:         toNoteRecord(e.Notes),
		StatusHistory: make([]entryRecord, 0, len(e.StatusHistory)),
		Version:       e.Version,
		UpdatedAt:     e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, entry := range e.StatusHistory {
		rec.StatusHistory = append(rec.StatusHistory, toEntryRecord(entry))
	}
	return rec
}

func fromRecord(rec eventRecord) (CrisisEvent, error) {
	level, err := detection.ParseSeverity(rec.FlagLevel)
	if err != nil {
		return CrisisEvent{}, fmt.Errorf("escalation: decode flag level: %w", err)
	}
	detectedAt, err := time.Parse(time.RFC3339Nano, rec.DetectedAt)
	if err != nil {
		return CrisisEvent{}, fmt.Errorf("escalation: decode detectedAt: %w", err)
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, rec.UpdatedAt)
	if err != nil {
		return CrisisEvent{}, fmt.Errorf("escalation: decode updatedAt: %w", err)
	}
	event := CrisisEvent{
		ID:          rec.EventID,
		UserID:      rec.UserID,
		Source:      Source(rec.Source),
		DetectionID: rec.DetectionID,
		DetectedAt:  detectedAt.UTC(),
		FlagLevel:   level,
		Status:      Status(rec.Status),
		Confidence:  rec.Confidence,
		Notes:       fromNoteRecord(rec.Notes),
		Version:     rec.Version,
		UpdatedAt:   updatedAt.UTC(),
	}
	for _, er := range rec.StatusHistory {
		at, err := time.Parse(time.RFC3339Nano, er.At)
		if err != nil {
			return CrisisEvent{}, fmt.Errorf("escalation: decode history timestamp: %w", err)
		}
		entry := StatusEntry{From: Status(er.From), To: Status(er.To), Actor: er.Actor, At: at.UTC()}
		if er.Notes != nil {
			n := fromNoteRecord(*er.Notes)
			entry.Notes = &n
		}
		event.StatusHistory = append(event.StatusHistory, entry)
	}
	return event, nil
}

func toEntryRecord(e StatusEntry) entryRecord {
	rec := entryRecord{
		From:  string(e.From),
		To:    string(e.To),
		Actor: e.Actor,
		At:    e.At.UTC().Format(time.RFC3339Nano),
	}
	if e.Notes != nil {
		n := toNoteRecord(*e.Notes)
		rec.Notes = &n
	}
	return rec
}

func toNoteRecord(n Notes) noteRecord {
	rec := noteRecord{FreeText: n.FreeText, RecommendedActions: n.RecommendedActions}
	for _, c := range n.MatchedCategories {
		rec.MatchedCategories = append(rec.MatchedCategories, string(c))
	}
	return rec
}

func fromNoteRecord(rec noteRecord) Notes {
	n := Notes{FreeText: rec.FreeText, RecommendedActions: rec.RecommendedActions}
	for _, c := range rec.MatchedCategories {
		n.MatchedCategories = append(n.MatchedCategories, detection.Category(c))
	}
	return n
}
