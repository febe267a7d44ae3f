package detection

import (
	"strings"
	"time"
)

// ContextualRiskAdjuster is stage 2. It folds session context into the
// stage-1 result and may only raise the level it was given.
type ContextualRiskAdjuster struct {
	tunables Tunables
}

// NewContextualRiskAdjuster builds the adjuster from the catalog's tunables.
func NewContextualRiskAdjuster(catalog *Catalog) *ContextualRiskAdjuster {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &ContextualRiskAdjuster{tunables: catalog.Tunables()}
}

// Adjust applies each context rule independently. Absent optional fields are
// skipped.
func (a *ContextualRiskAdjuster) Adjust(prior StageResult, c CrisisContext) StageResult {
	t := a.tunables
	out := prior.clone()
	score := prior.RiskScore
	conf := prior.Confidence

	if c.CurrentMood != nil && *c.CurrentMood >= 1 && *c.CurrentMood <= 10 {
		mood := *c.CurrentMood
		switch {
		case mood <= t.ExtremeLowMood:
			out.addRiskFactor(FactorExtremelyLowMood)
			conf += t.ExtremeLowMoodConfidence
			if out.Level == SeverityNone {
				out.Level = SeverityLow
			}
		case mood <= t.LowMood:
			out.addRiskFactor(FactorLowMood)
			conf += t.LowMoodConfidence
		}
		if mood < t.LowMood {
			score += (t.LowMood - mood) * t.MoodScorePerPoint
		}
	}

	if sustainedLowMood(c.RecentMoods, t) {
		out.addRiskFactor(FactorSustainedLowMood)
		conf += t.TrendConfidence
		score += t.TrendScore
		out.Level = MaxSeverity(out.Level, SeverityMedium)
	}

	if countThemeMessages(c.ConversationHistory, t.NegativeThemes) >= t.NegativeThemeMinMessages {
		out.addRiskFactor(FactorRecurringThemes)
		conf += t.NegativeThemeConfidence
		score += t.NegativeThemeScore
	}

	if c.PreviousCrisisEventCount > 0 {
		out.addRiskFactor(FactorPreviousCrisis)
		conf += float64(c.PreviousCrisisEventCount) * t.PriorCrisisConfidence
		score += c.PreviousCrisisEventCount * t.PriorCrisisScore
	}

	if hour, ok := parseHour(c.TimeOfDay); ok && hour >= t.LateNightStartHour && hour <= t.LateNightEndHour {
		out.addRiskFactor(FactorLateNight)
		conf += t.LateNightConfidence
		score += t.LateNightScore
	}

	out.RiskScore = clampScore(score)
	out.Level = MaxSeverity(out.Level, prior.Level, t.levelForScore(out.RiskScore))
	out.Confidence = clampConfidence(conf)
	return out
}

// sustainedLowMood requires the last TrendRecentWindow entries to sit at or
// below the ceiling and the mean of the last TrendMeanWindow entries (or all
// entries when fewer are available) to do the same.
func sustainedLowMood(moods []int, t Tunables) bool {
	if t.TrendRecentWindow <= 0 || len(moods) < t.TrendRecentWindow {
		return false
	}
	for _, m := range moods[len(moods)-t.TrendRecentWindow:] {
		if m > t.TrendMoodCeiling {
			return false
		}
	}
	window := moods
	if t.TrendMeanWindow > 0 && len(window) > t.TrendMeanWindow {
		window = window[len(window)-t.TrendMeanWindow:]
	}
	sum := 0
	for _, m := range window {
		sum += m
	}
	return float64(sum)/float64(len(window)) <= float64(t.TrendMoodCeiling)
}

func countThemeMessages(history []string, themes []string) int {
	count := 0
	for _, msg := range history {
		lower := strings.ToLower(msg)
		for _, theme := range themes {
			if theme != "" && strings.Contains(lower, theme) {
				count++
				break
			}
		}
	}
	return count
}

func parseHour(timeOfDay string) (int, bool) {
	timeOfDay = strings.TrimSpace(timeOfDay)
	if timeOfDay == "" {
		return 0, false
	}
	parsed, err := time.Parse("15:04", timeOfDay)
	if err != nil {
		return 0, false
	}
	return parsed.Hour(), true
}
