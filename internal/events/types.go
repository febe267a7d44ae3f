package events

import (
	"time"

	"github.com/wolfman30/wellbeing-platform/internal/escalation"
)

const (
	TypeCrisisEventCreated      = "crisis.event.created.v1"
	TypeCrisisEventTransitioned = "crisis.event.transitioned.v1"
	TypeFailsafeAlert           = "crisis.failsafe_alert.v1"
)

// CrisisEventCreatedV1 is emitted when a detection opens a crisis event.
type CrisisEventCreatedV1 struct {
	EventID           string    `json:"event_id"`
	UserID            string    `json:"user_id"`
	Source            string    `json:"source"`
	DetectionID       string    `json:"detection_id"`
	FlagLevel         string    `json:"flag_level"`
	Confidence        float64   `json:"confidence"`
	MatchedCategories []string  `json:"matched_categories,omitempty"`
	DetectedAt        time.Time `json:"detected_at"`
	Version           int64     `json:"version"`
}

func (CrisisEventCreatedV1) EventType() string { return TypeCrisisEventCreated }

// CrisisEventTransitionedV1 is emitted after a status change commits.
type CrisisEventTransitionedV1 struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	FlagLevel  string    `json:"flag_level"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	Actor      string    `json:"actor"`
	FreeText   string    `json:"free_text,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Version    int64     `json:"version"`
}

func (CrisisEventTransitionedV1) EventType() string { return TypeCrisisEventTransitioned }

// FailsafeAlertV1 is sent straight to the alert queue when an event could
// not be stored.
type FailsafeAlertV1 struct {
	EventID     string    `json:"event_id"`
	UserID      string    `json:"user_id"`
	DetectionID string    `json:"detection_id"`
	FlagLevel   string    `json:"flag_level"`
	Confidence  float64   `json:"confidence"`
	Attempts    int       `json:"attempts"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (FailsafeAlertV1) EventType() string { return TypeFailsafeAlert }

// FromChange maps a committed workflow change to its canonical event.
func FromChange(change escalation.Change) (CanonicalEvent, bool) {
	e := change.Event
	switch change.Kind {
	case escalation.ChangeCreated:
		cats := make([]string, 0, len(e.Notes.MatchedCategories))
		for _, c := range e.Notes.MatchedCategories {
			cats = append(cats, string(c))
		}
		return CrisisEventCreatedV1{
			EventID:           e.ID,
			UserID:            e.UserID,
			Source:            string(e.Source),
			DetectionID:       e.DetectionID,
			FlagLevel:         e.FlagLevel.String(),
			Confidence:        e.Confidence,
			MatchedCategories: cats,
			DetectedAt:        e.DetectedAt,
			Version:           e.Version,
		}, true
	case escalation.ChangeTransitioned:
		entry := change.Entry
		if entry == nil {
			last, ok := e.LastEntry()
			if !ok {
				return nil, false
			}
			entry = &last
		}
		evt := CrisisEventTransitionedV1{
			EventID:    e.ID,
			UserID:     e.UserID,
			FlagLevel:  e.FlagLevel.String(),
			From:       string(entry.From),
			To:         string(entry.To),
			Actor:      entry.Actor,
			OccurredAt: entry.At,
			Version:    e.Version,
		}
		if entry.Notes != nil {
			evt.FreeText = entry.Notes.FreeText
		}
		return evt, true
	}
	return nil, false
}

func failsafeFromAlert(a escalation.FailsafeAlert) FailsafeAlertV1 {
	return FailsafeAlertV1{
		EventID:     a.EventID,
		UserID:      a.UserID,
		DetectionID: a.DetectionID,
		FlagLevel:   a.Level.String(),
		Confidence:  a.Confidence,
		Attempts:    a.Attempts,
		Reason:      a.Reason,
		OccurredAt:  a.OccurredAt,
	}
}
