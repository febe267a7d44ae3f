// Package history keeps the per-user behavioural context the detector
// consumes: recent moods, conversation snippets and past crisis incidents.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
)

const (
	maxMoods         = 7
	maxMessages      = 20
	maxIncidents     = 50
	recurringWindow  = 30 * 24 * time.Hour
	historyKeyTTL    = 400 * 24 * time.Hour
	maxMessageLength = 2000
)

// ResolutionDismissed marks an incident a reviewer judged a false positive.
// Dismissed incidents never count toward the user's history.
const ResolutionDismissed = "dismissed"

// Store is the Redis-backed user history.
type Store struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewStore(client *redis.Client) *Store {
	if client == nil {
		panic("history: redis client cannot be nil")
	}
	return &Store{redis: client, tracer: otel.Tracer("wellbeing/history")}
}

func moodsKey(userID string) string { return fmt.Sprintf("wellbeing:moods:%s", userID) }
func messagesKey(userID string) string { return fmt.Sprintf("wellbeing:messages:%s", userID) }
func incidentsKey(userID string) string { return fmt.Sprintf("wellbeing:incidents:%s", userID) }
func patternsKey(userID string) string { return fmt.Sprintf("wellbeing:patterns:%s", userID) }
func riskFactorsKey(userID string) string { return fmt.Sprintf("wellbeing:risk_factors:%s", userID) }

// AppendMood records a 1..10 mood score, keeping the latest seven.
func (s *Store) AppendMood(ctx context.Context, userID string, mood int) error {
	if mood < 1 || mood > 10 {
		return fmt.Errorf("history: mood %d out of range", mood)
	}
	return s.pushCapped(ctx, moodsKey(userID), strconv.Itoa(mood), maxMoods)
}

// AppendMessage records a conversation snippet, keeping the latest twenty.
// Oversized snippets are cut at the last whole rune before the limit.
func (s *Store) AppendMessage(ctx context.Context, userID, message string) error {
	if len(message) > maxMessageLength {
		n := maxMessageLength
		for n > 0 && !utf8.RuneStart(message[n]) {
			n--
		}
		message = message[:n]
	}
	return s.pushCapped(ctx, messagesKey(userID), message, maxMessages)
}

func (s *Store) pushCapped(ctx context.Context, key, value string, keep int64) error {
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, value)
		pipe.LTrim(ctx, key, -keep, -1)
		pipe.Expire(ctx, key, historyKeyTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: append %s: %w", key, err)
	}
	return nil
}

// RecentMoods returns moods oldest first.
func (s *Store) RecentMoods(ctx context.Context, userID string) ([]int, error) {
	raw, err := s.redis.LRange(ctx, moodsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: load moods: %w", err)
	}
	moods := make([]int, 0, len(raw))
	for _, v := range raw {
		m, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		moods = append(moods, m)
	}
	return moods, nil
}

// RecentMessages returns conversation snippets oldest first.
func (s *Store) RecentMessages(ctx context.Context, userID string) ([]string, error) {
	msgs, err := s.redis.LRange(ctx, messagesKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: load messages: %w", err)
	}
	return msgs, nil
}

// Forget deletes everything held for userID and reports how many keys
// existed.
func (s *Store) Forget(ctx context.Context, userID string) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "history.forget")
	defer span.End()

	n, err := s.redis.Del(ctx,
		moodsKey(userID), messagesKey(userID), incidentsKey(userID),
		patternsKey(userID), riskFactorsKey(userID),
	).Result()
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("history: forget: %w", err)
	}
	return n, nil
}

// RecordIncident appends an incident. A second incident within thirty days
// of an earlier undismissed one marks the user with the recurring pattern.
func (s *Store) RecordIncident(ctx context.Context, userID string, incident detection.Incident) error {
	ctx, span := s.tracer.Start(ctx, "history.record_incident")
	defer span.End()

	existing, err := s.Incidents(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return err
	}
	for _, prior := range existing {
		if incident.EventID != "" && prior.EventID == incident.EventID {
			return nil
		}
	}
	recurring := false
	for _, prior := range existing {
		if prior.Resolution == ResolutionDismissed {
			continue
		}
		if d := incident.Timestamp.Sub(prior.Timestamp); d >= 0 && d <= recurringWindow {
			recurring = true
			break
		}
	}

	data, err := json.Marshal(incident)
	if err != nil {
		return fmt.Errorf("history: marshal incident: %w", err)
	}
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, incidentsKey(userID), data)
		pipe.LTrim(ctx, incidentsKey(userID), -maxIncidents, -1)
		pipe.Expire(ctx, incidentsKey(userID), historyKeyTTL)
		if recurring {
			pipe.SAdd(ctx, patternsKey(userID), detection.PatternRecurring)
			pipe.Expire(ctx, patternsKey(userID), historyKeyTTL)
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("history: record incident: %w", err)
	}
	return nil
}

// ResolveIncident stamps the resolution on the incident created for eventID.
func (s *Store) ResolveIncident(ctx context.Context, userID, eventID, resolution string) error {
	key := incidentsKey(userID)
	raw, err := s.redis.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("history: load incidents: %w", err)
	}
	for i, v := range raw {
		var inc detection.Incident
		if err := json.Unmarshal([]byte(v), &inc); err != nil || inc.EventID != eventID {
			continue
		}
		inc.Resolution = resolution
		data, err := json.Marshal(inc)
		if err != nil {
			return fmt.Errorf("history: marshal incident: %w", err)
		}
		if err := s.redis.LSet(ctx, key, int64(i), data).Err(); err != nil {
			return fmt.Errorf("history: resolve incident: %w", err)
		}
		return nil
	}
	return nil
}

// Incidents returns stored incidents oldest first.
func (s *Store) Incidents(ctx context.Context, userID string) ([]detection.Incident, error) {
	raw, err := s.redis.LRange(ctx, incidentsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("history: load incidents: %w", err)
	}
	out := make([]detection.Incident, 0, len(raw))
	for _, v := range raw {
		var inc detection.Incident
		if err := json.Unmarshal([]byte(v), &inc); err != nil {
			continue
		}
		out = append(out, inc)
	}
	return out, nil
}

// AddRiskFactors records long-lived risk factors.
func (s *Store) AddRiskFactors(ctx context.Context, userID string, factors ...string) error {
	if len(factors) == 0 {
		return nil
	}
	members := make([]any, len(factors))
	for i, f := range factors {
		members[i] = f
	}
	if err := s.redis.SAdd(ctx, riskFactorsKey(userID), members...).Err(); err != nil {
		return fmt.Errorf("history: add risk factors: %w", err)
	}
	return nil
}

func (s *Store) Patterns(ctx context.Context, userID string) ([]string, error) {
	out, err := s.redis.SMembers(ctx, patternsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("history: load patterns: %w", err)
	}
	return out, nil
}

func (s *Store) RiskFactors(ctx context.Context, userID string) ([]string, error) {
	out, err := s.redis.SMembers(ctx, riskFactorsKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("history: load risk factors: %w", err)
	}
	return out, nil
}
