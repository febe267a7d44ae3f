package detection

import (
	"sort"
	"time"
)

// HistoricalPatternAnalyzer is stage 3: longitudinal crisis history.
type HistoricalPatternAnalyzer struct {
	tunables Tunables
}

// NewHistoricalPatternAnalyzer builds the analyzer from the catalog's tunables.
func NewHistoricalPatternAnalyzer(catalog *Catalog) *HistoricalPatternAnalyzer {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &HistoricalPatternAnalyzer{tunables: catalog.Tunables()}
}

// Analyze raises the stage-2 result according to recent incident frequency,
// an escalating incident pattern and the recurring pattern flag.
func (h *HistoricalPatternAnalyzer) Analyze(prior StageResult, hist CrisisHistory) StageResult {
	t := h.tunables
	out := prior.clone()
	conf := prior.Confidence

	recent := recentIncidents(hist, t.HistoryWindowDays)

	if t.FrequentIncidentCount > 0 && len(recent) >= t.FrequentIncidentCount {
		out.addRiskFactor(FactorFrequentRecentCrises)
		conf += t.FrequentConfidence
		out.Level = MaxSeverity(out.Level, SeverityHigh)
	}

	if escalating(recent) {
		out.addRiskFactor(FactorEscalatingPattern)
		conf += t.EscalatingConfidence
		if out.Level != SeverityCritical {
			out.Level = MaxSeverity(out.Level, SeverityHigh)
		}
	}

	if hist.HasPattern(PatternRecurring) {
		out.addRiskFactor(FactorRecurringPattern)
		conf += t.RecurringConfidence
	}

	out.Level = MaxSeverity(out.Level, prior.Level)
	out.Confidence = clampConfidence(conf)
	return out
}

// recentIncidents returns incidents inside the window ending at the reference
// instant, oldest first.
func recentIncidents(hist CrisisHistory, windowDays int) []Incident {
	if len(hist.PreviousIncidents) == 0 {
		return nil
	}
	asOf := hist.AsOf
	if asOf.IsZero() {
		for _, inc := range hist.PreviousIncidents {
			if inc.Timestamp.After(asOf) {
				asOf = inc.Timestamp
			}
		}
	}
	cutoff := asOf.Add(-time.Duration(windowDays) * 24 * time.Hour)

	var recent []Incident
	for _, inc := range hist.PreviousIncidents {
		if inc.Timestamp.Before(cutoff) || inc.Timestamp.After(asOf) {
			continue
		}
		recent = append(recent, inc)
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Timestamp.Before(recent[j].Timestamp)
	})
	return recent
}

// escalating needs at least two incidents; every one after the earliest must
// be HIGH or CRITICAL.
func escalating(recent []Incident) bool {
	if len(recent) < 2 {
		return false
	}
	for _, inc := range recent[1:] {
		if inc.Level < SeverityHigh {
			return false
		}
	}
	return true
}
