package escalation

import (
	"context"
	"sort"
	"sync"
)

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	Status Status
	UserID string
	Limit  int
	Offset int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Repository persists crisis events.
//
// Create fails with ErrDuplicateEvent when the id already exists. Update
// stores next only if the stored version still equals expectedVersion,
// failing with ErrConflict otherwise; next carries exactly one history entry
// more than the stored event. List orders by DetectedAt, newest first.
type Repository interface {
	Create(ctx context.Context, event CrisisEvent) error
	Get(ctx context.Context, id string) (CrisisEvent, error)
	List(ctx context.Context, filter ListFilter) ([]CrisisEvent, error)
	Update(ctx context.Context, next CrisisEvent, expectedVersion int64) error
}

// InMemoryRepository is a mutex-guarded Repository for tests and local runs.
type InMemoryRepository struct {
	mu     sync.RWMutex
	events map[string]CrisisEvent
}

var _ Repository = (*InMemoryRepository)(nil)

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{events: make(map[string]CrisisEvent)}
}

func (r *InMemoryRepository) Create(_ context.Context, event CrisisEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.events[event.ID]; ok {
		return ErrDuplicateEvent
	}
	r.events[event.ID] = event.Clone()
	return nil
}

func (r *InMemoryRepository) Get(_ context.Context, id string) (CrisisEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	event, ok := r.events[id]
	if !ok {
		return CrisisEvent{}, ErrEventNotFound
	}
	return event.Clone(), nil
}

func (r *InMemoryRepository) List(_ context.Context, filter ListFilter) ([]CrisisEvent, error) {
	filter = filter.normalized()
	r.mu.RLock()
	matched := make([]CrisisEvent, 0, len(r.events))
	for _, event := range r.events {
		if filter.Status != "" && event.Status != filter.Status {
			continue
		}
		if filter.UserID != "" && event.UserID != filter.UserID {
			continue
		}
		matched = append(matched, event.Clone())
	}
	r.mu.RUnlock()

	sortNewestFirst(matched)
	return page(matched, filter), nil
}

func (r *InMemoryRepository) Update(_ context.Context, next CrisisEvent, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.events[next.ID]
	if !ok {
		return ErrEventNotFound
	}
	if current.Version != expectedVersion {
		return ErrConflict
	}
	r.events[next.ID] = next.Clone()
	return nil
}

func sortNewestFirst(events []CrisisEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].DetectedAt.Equal(events[j].DetectedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].DetectedAt.After(events[j].DetectedAt)
	})
}

func page(events []CrisisEvent, filter ListFilter) []CrisisEvent {
	if filter.Offset >= len(events) {
		return []CrisisEvent{}
	}
	end := filter.Offset + filter.Limit
	if end > len(events) {
		end = len(events)
	}
	return events[filter.Offset:end]
}
