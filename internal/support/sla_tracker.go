// Package support keeps the on-call rota honest: it watches open crisis
// events and reminds staff when review or resolution runs late.
package support

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/wellbeing-platform/internal/escalation"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

var slaTracer = otel.Tracer("wellbeing/sla-tracker")

// BreachKind names the deadline an event missed.
type BreachKind string

const (
	// BreachReview: the event is still PENDING past the review deadline.
	BreachReview BreachKind = "review"
	// BreachResolve: the event is ESCALATED and unresolved past the resolution deadline.
	BreachResolve BreachKind = "resolve"
)

// Breach is one overdue event.
type Breach struct {
	Kind    BreachKind
	Event   escalation.CrisisEvent
	Overdue time.Duration
}

// SLAConfig contains SLA timing configuration.
type SLAConfig struct {
	ReviewWithin  time.Duration // PENDING, measured from DetectedAt
	ResolveWithin time.Duration // ESCALATED, measured from the escalation
	Interval      time.Duration
}

// DefaultSLAConfig returns default SLA configuration.
func DefaultSLAConfig() SLAConfig {
	return SLAConfig{
		ReviewWithin:  15 * time.Minute,
		ResolveWithin: 24 * time.Hour,
		Interval:      time.Minute,
	}
}

// EventLister pages through crisis events.
type EventLister interface {
	List(ctx context.Context, filter escalation.ListFilter) ([]escalation.CrisisEvent, error)
}

// Reminder tells on-call staff about an overdue event.
type Reminder interface {
	RemindOverdue(ctx context.Context, event escalation.CrisisEvent, deadline string, overdue time.Duration) error
}

// BreachObserver counts breaches for metrics.
type BreachObserver interface {
	ObserveSLABreach(kind string)
}

const listPageSize = 200

// SLATracker reminds staff once per event version about missed deadlines.
type SLATracker struct {
	events   EventLister
	reminder Reminder
	logger   *logging.Logger
	config   SLAConfig
	observer BreachObserver
	now      func() time.Time

	mu       sync.Mutex
	reminded map[string]int64 // event id -> version already reminded
}

// NewSLATracker creates a new SLA tracker.
func NewSLATracker(events EventLister, reminder Reminder, logger *logging.Logger) *SLATracker {
	if logger == nil {
		logger = logging.Default()
	}
	return &SLATracker{
		events:   events,
		reminder: reminder,
		logger:   logger,
		config:   DefaultSLAConfig(),
		now:      time.Now,
		reminded: make(map[string]int64),
	}
}

// WithConfig overrides the non-zero deadlines and interval.
func (s *SLATracker) WithConfig(cfg SLAConfig) *SLATracker {
	if cfg.ReviewWithin > 0 {
		s.config.ReviewWithin = cfg.ReviewWithin
	}
	if cfg.ResolveWithin > 0 {
		s.config.ResolveWithin = cfg.ResolveWithin
	}
	if cfg.Interval > 0 {
		s.config.Interval = cfg.Interval
	}
	return s
}

func (s *SLATracker) WithObserver(o BreachObserver) *SLATracker {
	s.observer = o
	return s
}

func (s *SLATracker) WithClock(now func() time.Time) *SLATracker {
	if now != nil {
		s.now = now
	}
	return s
}

// Run checks deadlines every interval until ctx is done.
func (s *SLATracker) Run(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Check(ctx); err != nil {
				s.logger.Error("sla check failed", "error", err)
			}
		}
	}
}

// Check finds overdue events and reminds staff about the ones not yet
// reminded at their current version. It returns the breaches it reminded.
func (s *SLATracker) Check(ctx context.Context) ([]Breach, error) {
	ctx, span := slaTracer.Start(ctx, "sla.check")
	defer span.End()

	now := s.now()
	pending, err := s.listAll(ctx, escalation.StatusPending)
	if err != nil {
		return nil, err
	}
	escalated, err := s.listAll(ctx, escalation.StatusEscalated)
	if err != nil {
		return nil, err
	}

	var breaches []Breach
	for _, e := range pending {
		if overdue := now.Sub(e.DetectedAt) - s.config.ReviewWithin; overdue > 0 {
			breaches = append(breaches, Breach{Kind: BreachReview, Event: e, Overdue: overdue})
		}
	}
	for _, e := range escalated {
		since := e.UpdatedAt
		if last, ok := e.LastEntry(); ok {
			since = last.At
		}
		if overdue := now.Sub(since) - s.config.ResolveWithin; overdue > 0 {
			breaches = append(breaches, Breach{Kind: BreachResolve, Event: e, Overdue: overdue})
		}
	}

	var sent []Breach
	for _, b := range breaches {
		if !s.shouldRemind(b.Event) {
			continue
		}
		if s.reminder != nil {
			if err := s.reminder.RemindOverdue(ctx, b.Event, string(b.Kind), b.Overdue); err != nil {
				s.logger.Error("failed to send sla reminder", "error", err, "event_id", b.Event.ID, "deadline", b.Kind)
				continue
			}
		}
		s.markReminded(b.Event)
		if s.observer != nil {
			s.observer.ObserveSLABreach(string(b.Kind))
		}
		s.logger.Warn("crisis event overdue",
			"event_id", b.Event.ID,
			"deadline", b.Kind,
			"flag_level", b.Event.FlagLevel.String(),
			"overdue", b.Overdue.Round(time.Second).String(),
		)
		sent = append(sent, b)
	}
	s.forgetClosed(pending, escalated)

	span.SetAttributes(
		attribute.Int("sla.breaches", len(breaches)),
		attribute.Int("sla.reminders_sent", len(sent)),
	)
	return sent, nil
}

func (s *SLATracker) listAll(ctx context.Context, status escalation.Status) ([]escalation.CrisisEvent, error) {
	var out []escalation.CrisisEvent
	for offset := 0; ; offset += listPageSize {
		page, err := s.events.List(ctx, escalation.ListFilter{Status: status, Limit: listPageSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("support: list %s events: %w", status, err)
		}
		out = append(out, page...)
		if len(page) < listPageSize {
			return out, nil
		}
	}
}

func (s *SLATracker) shouldRemind(e escalation.CrisisEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.reminded[e.ID]
	return !ok || v != e.Version
}

func (s *SLATracker) markReminded(e escalation.CrisisEvent) {
	s.mu.Lock()
	s.reminded[e.ID] = e.Version
	s.mu.Unlock()
}

// forgetClosed drops bookkeeping for events that are no longer open.
func (s *SLATracker) forgetClosed(open ...[]escalation.CrisisEvent) {
	live := make(map[string]struct{})
	for _, list := range open {
		for _, e := range list {
			live[e.ID] = struct{}{}
		}
	}
	s.mu.Lock()
	for id := range s.reminded {
		if _, ok := live[id]; !ok {
			delete(s.reminded, id)
		}
	}
	s.mu.Unlock()
}
