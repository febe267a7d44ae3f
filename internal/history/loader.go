package history

import (
	"context"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/wellbeing-platform/internal/detection"
	"github.com/wolfman30/wellbeing-platform/pkg/logging"
)

// Loader fills the optional parts of a CrisisContext and builds the
// CrisisHistory. It never fails: on timeout or store errors it returns the
// caller's context untouched and an empty history.
type Loader struct {
	store   *Store
	timeout time.Duration
	logger  *logging.Logger
	now     func() time.Time
}

func NewLoader(store *Store, timeout time.Duration, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 250 * time.Millisecond
	}
	return &Loader{store: store, timeout: timeout, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Load returns the enriched context, the user's history, and whether the
// lookup degraded.
func (l *Loader) Load(ctx context.Context, base detection.CrisisContext) (detection.CrisisContext, detection.CrisisHistory, bool) {
	if l == nil || l.store == nil || base.UserID == "" {
		return base, detection.CrisisHistory{}, false
	}
	empty := detection.CrisisHistory{AsOf: l.now()}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	var (
		moods       []int
		messages    []string
		incidents   []detection.Incident
		patterns    []string
		riskFactors []string
	)
	g, gctx := errgroup.WithContext(ctx)
	if len(base.RecentMoods) == 0 {
		g.Go(func() (err error) {
			moods, err = l.store.RecentMoods(gctx, base.UserID)
			return err
		})
	}
	if len(base.ConversationHistory) == 0 {
		g.Go(func() (err error) {
			messages, err = l.store.RecentMessages(gctx, base.UserID)
			return err
		})
	}
	g.Go(func() (err error) {
		incidents, err = l.store.Incidents(gctx, base.UserID)
		return err
	})
	g.Go(func() (err error) {
		patterns, err = l.store.Patterns(gctx, base.UserID)
		return err
	})
	g.Go(func() (err error) {
		riskFactors, err = l.store.RiskFactors(gctx, base.UserID)
		return err
	})

	if err := g.Wait(); err != nil {
		l.logger.Warn("history lookup degraded", "user_id", base.UserID, "error", err)
		return base, empty, true
	}

	incidents = countable(incidents)
	out := base
	if len(out.RecentMoods) == 0 {
		out.RecentMoods = moods
	}
	if len(out.ConversationHistory) == 0 {
		out.ConversationHistory = messages
	}
	if out.PreviousCrisisEventCount == 0 {
		out.PreviousCrisisEventCount = len(incidents)
	}
	sort.Strings(patterns)
	sort.Strings(riskFactors)
	return out, detection.CrisisHistory{
		PreviousIncidents: incidents,
		Patterns:          patterns,
		RiskFactors:       riskFactors,
		AsOf:              l.now(),
	}, false
}

// countable drops incidents a reviewer dismissed.
func countable(incidents []detection.Incident) []detection.Incident {
	kept := incidents[:0:0]
	for _, inc := range incidents {
		if inc.Resolution == ResolutionDismissed {
			continue
		}
		kept = append(kept, inc)
	}
	return kept
}
