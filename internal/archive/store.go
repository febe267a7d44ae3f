// Package archive writes snapshots of closed crisis events to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// S3API is the subset of the S3 client used by Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Store archives closed crisis events. If bucket is empty, all operations
// are no-ops.
type Store struct {
	bucket   string
	s3Client S3API
	logger   *logging.Logger
	now      func() time.Time
}

func NewStore(s3Client S3API, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:   bucket,
		s3Client: s3Client,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Enabled returns true if archival is configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.s3Client != nil
}

// NewEventRecord builds the archived form of event.
func NewEventRecord(event escalation.CrisisEvent, archivedAt time.Time) EventRecord {
	rec := EventRecord{
		Version:     "1.0",
		EventID:     event.ID,
		UserHash:    HashUserID(event.UserID),
		Source:      string(event.Source),
		FlagLevel:   event.FlagLevel.String(),
		FinalStatus: string(event.Status),
		Confidence:  event.Confidence,
		DetectedAt:  event.DetectedAt,
		ClosedAt:    event.UpdatedAt,
		ArchivedAt:  archivedAt,
		Notes:       ScrubPII(event.Notes.FreeText),
	}
	for _, c := range event.Notes.MatchedCategories {
		rec.MatchedCategories = append(rec.MatchedCategories, string(c))
	}
	rec.StatusHistory = make([]StatusEntry, 0, len(event.StatusHistory))
	for _, e := range event.StatusHistory {
		entry := StatusEntry{From: string(e.From), To: string(e.To), Actor: e.Actor, At: e.At}
		if e.Notes != nil {
			entry.Notes = ScrubPII(e.Notes.FreeText)
		}
		rec.StatusHistory = append(rec.StatusHistory, entry)
	}
	return rec
}

// ArchiveEvent writes the event snapshot and appends it to the manifest.
// Only terminal events are archived.
func (s *Store) ArchiveEvent(ctx context.Context, event escalation.CrisisEvent) error {
	if !s.Enabled() || !event.Status.Terminal() {
		return nil
	}
	now := s.now()
	record := NewEventRecord(event, now)
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}

	key := fmt.Sprintf("crisis-events/v1/by-date/%d/%02d/%02d/%s.json",
		now.Year(), now.Month(), now.Day(), event.ID)
	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put %s: %w", key, err)
	}
	s.logger.Info("archived crisis event", "event_id", event.ID, "s3_key", key, "status", string(event.Status))

	entry := ManifestEntry{
		EventID:     event.ID,
		S3Key:       key,
		FlagLevel:   record.FlagLevel,
		FinalStatus: record.FinalStatus,
		ArchivedAt:  now.Format(time.RFC3339),
		Transitions: len(record.StatusHistory),
	}
	if err := s.AppendManifest(ctx, entry); err != nil {
		// the snapshot is already stored
		s.logger.Warn("failed to append manifest", "error", err, "event_id", event.ID)
	}
	return nil
}

// AppendManifest appends a JSONL line to the monthly manifest file.
// S3 has no append, so this is read-modify-write.
func (s *Store) AppendManifest(ctx context.Context, entry ManifestEntry) error {
	if !s.Enabled() {
		return nil
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archive: marshal manifest entry: %w", err)
	}

	now := s.now()
	manifestKey := fmt.Sprintf("crisis-events/v1/manifests/%d-%02d.jsonl", now.Year(), now.Month())

	var existing []byte
	getResp, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(manifestKey),
	})
	switch {
	case err == nil:
		existing, err = io.ReadAll(getResp.Body)
		getResp.Body.Close()
		if err != nil {
			return fmt.Errorf("archive: read manifest: %w", err)
		}
	case isNotFound(err):
		s.logger.Debug("manifest not found, creating new", "key", manifestKey)
	default:
		return fmt.Errorf("archive: s3 get manifest: %w", err)
	}

	var buf bytes.Buffer
	if len(existing) > 0 {
		buf.Write(existing)
		if existing[len(existing)-1] != '\n' {
			buf.WriteByte('\n')
		}
	}
	buf.Write(line)
	buf.WriteByte('\n')

	_, err = s.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(manifestKey),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("archive: s3 put manifest: %w", err)
	}
	return nil
}

func isNotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "NoSuchKey") || strings.Contains(msg, "StatusCode: 404")
}
