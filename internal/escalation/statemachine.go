package escalation

import (
	"fmt"
	"strings"
	"time"
)

// RESOLVED and DISMISSED have no outgoing edges.
var transitions = map[Status][]Status{
	StatusPending:   {StatusEscalated, StatusDismissed},
	StatusEscalated: {StatusResolved, StatusPending},
}

// AllowedTransitions lists the statuses reachable from s in one step.
func AllowedTransitions(s Status) []Status {
	return append([]Status(nil), transitions[s]...)
}

// CanTransition reports whether from -> to is an edge of the graph.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Apply returns a copy of event moved to target with one new history entry
// appended. The input is never modified; FlagLevel is never touched.
func Apply(event CrisisEvent, target Status, actor string, notes *Notes, at time.Time) (CrisisEvent, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return event, ErrMissingActor
	}
	if notes != nil {
		if err := notes.Validate(); err != nil {
			return event, err
		}
	}
	if !CanTransition(event.Status, target) {
		return event, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, event.Status, target)
	}

	next := event.Clone()
	entry := StatusEntry{
		From:  event.Status,
		To:    target,
		Actor: actor,
		At:    at.UTC(),
	}
	if notes != nil && !notes.IsZero() {
		n := notes.clone()
		entry.Notes = &n
		next.Notes = next.Notes.merge(n)
	}
	next.Status = target
	next.StatusHistory = append(next.StatusHistory, entry)
	next.Version = event.Version + 1
	next.UpdatedAt = entry.At
	return next, nil
}
