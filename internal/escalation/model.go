// Package escalation owns the crisis event lifecycle: creation from an
// actionable assessment, the admin transition graph, and the append-only
// status history that forms the audit trail.
package escalation

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
)

// Status is the escalation state of a crisis event.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusEscalated Status = "ESCALATED"
	StatusResolved  Status = "RESOLVED"
	StatusDismissed Status = "DISMISSED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusEscalated, StatusResolved, StatusDismissed:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusDismissed
}

// ParseStatus accepts any casing.
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", fmt.Errorf("escalation: unknown status %q", raw)
	}
	return s, nil
}

// Source identifies where the detected content came from.
type Source string

const (
	SourceChat      Source = "chat"
	SourceMoodEntry Source = "mood_entry"
	SourceJournal   Source = "journal"
	SourceAPI       Source = "api"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceChat, SourceMoodEntry, SourceJournal, SourceAPI:
		return true
	}
	return false
}

const (
	maxFreeTextLen = 4000
	maxNoteItems   = 50
)

// Notes is the structured annotation attached to an event and to each
// status history entry.
type Notes struct {
	MatchedCategories  []detection.Category `json:"matched_categories,omitempty"`
	RecommendedActions []string             `json:"recommended_actions,omitempty"`
	FreeText           string               `json:"free_text,omitempty"`
}

// Validate checks the notes schema.
func (n Notes) Validate() error {
	for _, c := range n.MatchedCategories {
		if !c.Valid() {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidNotes, c)
		}
	}
	if len(n.MatchedCategories) > maxNoteItems || len(n.RecommendedActions) > maxNoteItems {
		return fmt.Errorf("%w: too many entries", ErrInvalidNotes)
	}
	for _, a := range n.RecommendedActions {
		if strings.TrimSpace(a) == "" {
			return fmt.Errorf("%w: empty recommended action", ErrInvalidNotes)
		}
	}
	if len(n.FreeText) > maxFreeTextLen {
		return fmt.Errorf("%w: free text exceeds %d bytes", ErrInvalidNotes, maxFreeTextLen)
	}
	return nil
}

// IsZero reports whether no field is set.
func (n Notes) IsZero() bool {
	return len(n.MatchedCategories) == 0 && len(n.RecommendedActions) == 0 && n.FreeText == ""
}

func (n Notes) clone() Notes {
	out := Notes{FreeText: n.FreeText}
	if n.MatchedCategories != nil {
		out.MatchedCategories = append([]detection.Category{}, n.MatchedCategories...)
	}
	if n.RecommendedActions != nil {
		out.RecommendedActions = append([]string{}, n.RecommendedActions...)
	}
	return out
}

// merge folds update into n: lists are unioned, free text is replaced when
// the update carries some.
func (n Notes) merge(update Notes) Notes {
	out := n.clone()
	for _, c := range update.MatchedCategories {
		if !containsCategory(out.MatchedCategories, c) {
			out.MatchedCategories = append(out.MatchedCategories, c)
		}
	}
	for _, a := range update.RecommendedActions {
		if !containsString(out.RecommendedActions, a) {
			out.RecommendedActions = append(out.RecommendedActions, a)
		}
	}
	if update.FreeText != "" {
		out.FreeText = update.FreeText
	}
	return out
}

// StatusEntry is one immutable record in an event's status history.
type StatusEntry struct {
	From  Status    `json:"from"`
	To    Status    `json:"to"`
	Actor string    `json:"actor"`
	At    time.Time `json:"at"`
	Notes *Notes    `json:"notes,omitempty"`
}

func (e StatusEntry) clone() StatusEntry {
	out := e
	if e.Notes != nil {
		n := e.Notes.clone()
		out.Notes = &n
	}
	return out
}

// CrisisEvent is the persisted record of an actionable assessment. Version
// starts at 1 and increases by one with every applied transition.
type CrisisEvent struct {
	ID            string             `json:"id"`
	UserID        string             `json:"user_id"`
	Source        Source             `json:"source"`
	DetectionID   string             `json:"detection_id"`
	DetectedAt    time.Time          `json:"detected_at"`
	FlagLevel     detection.Severity `json:"flag_level"`
	Status        Status             `json:"escalation_status"`
	Confidence    float64            `json:"confidence"`
	Notes         Notes              `json:"notes"`
	StatusHistory []StatusEntry      `json:"status_history"`
	Version       int64              `json:"version"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Clone returns a deep copy.
func (e CrisisEvent) Clone() CrisisEvent {
	out := e
	out.Notes = e.Notes.clone()
	if e.StatusHistory != nil {
		out.StatusHistory = make([]StatusEntry, len(e.StatusHistory))
		for i, entry := range e.StatusHistory {
			out.StatusHistory[i] = entry.clone()
		}
	}
	return out
}

// LastEntry returns the most recent history entry.
func (e CrisisEvent) LastEntry() (StatusEntry, bool) {
	if len(e.StatusHistory) == 0 {
		return StatusEntry{}, false
	}
	return e.StatusHistory[len(e.StatusHistory)-1], true
}

func containsCategory(list []detection.Category, c detection.Category) bool {
	for _, v := range list {
		if v == c {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
