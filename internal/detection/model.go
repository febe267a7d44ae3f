package detection

import "time"

// CrisisContext is the session context assembled by the caller. Every field
// besides Message is optional; missing values simply skip the rules that need
// them.
type CrisisContext struct {
	UserID                   string   `json:"user_id"`
	Message                  string   `json:"message"`
	CurrentMood              *int     `json:"current_mood,omitempty"`
	RecentMoods              []int    `json:"recent_moods,omitempty"` // most recent last
	ConversationHistory      []string `json:"conversation_history,omitempty"`
	PreviousCrisisEventCount int      `json:"previous_crisis_event_count,omitempty"`
	TimeOfDay                string   `json:"time_of_day,omitempty"` // "HH:MM"
	Location                 string   `json:"location,omitempty"`
}

// Incident is one past crisis in a user's history.
type Incident struct {
	EventID    string    `json:"event_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Level      Severity  `json:"level"`
	Resolution string    `json:"resolution,omitempty"`
}

// CrisisHistory is the longitudinal record consumed by the historical stage.
// AsOf is the reference instant for the recency window; when zero the most
// recent incident timestamp is used so the stage never reads the wall clock.
type CrisisHistory struct {
	PreviousIncidents []Incident `json:"previous_incidents,omitempty"`
	Patterns          []string   `json:"patterns,omitempty"`
	RiskFactors       []string   `json:"risk_factors,omitempty"`
	AsOf              time.Time  `json:"as_of,omitempty"`
}

// HasPattern reports whether the named pattern is present.
func (h CrisisHistory) HasPattern(name string) bool {
	for _, p := range h.Patterns {
		if p == name {
			return true
		}
	}
	return false
}

// Risk factor names added by the context and history stages.
const (
	FactorExtremelyLowMood     = "extremely_low_mood"
	FactorLowMood              = "low_mood"
	FactorSustainedLowMood     = "sustained_low_mood_trend"
	FactorRecurringThemes      = "recurring_negative_themes"
	FactorPreviousCrisis       = "previous_crisis_history"
	FactorLateNight            = "late_night_crisis"
	FactorFrequentRecentCrises = "frequent_recent_crises"
	FactorEscalatingPattern    = "escalating_crisis_pattern"
	FactorRecurringPattern     = "recurring_crisis_pattern"

	PatternRecurring = "recurring"
)

// StageResult is the output of one pipeline stage. RiskScore is carried so
// later stages can keep adjusting the score instead of rescanning the text.
type StageResult struct {
	Level              Severity   `json:"level"`
	Confidence         float64    `json:"confidence"`
	RiskScore          int        `json:"risk_score"`
	Indicators         []string   `json:"indicators"`
	MatchedCategories  []Category `json:"matched_categories"`
	RiskFactors        []string   `json:"risk_factors"`
	RecommendedActions []string   `json:"recommended_actions"`
}

func (r StageResult) clone() StageResult {
	out := r
	out.Indicators = append([]string{}, r.Indicators...)
	out.MatchedCategories = append([]Category{}, r.MatchedCategories...)
	out.RiskFactors = append([]string{}, r.RiskFactors...)
	out.RecommendedActions = append([]string{}, r.RecommendedActions...)
	return out
}

func (r *StageResult) addRiskFactor(name string) {
	for _, f := range r.RiskFactors {
		if f == name {
			return
		}
	}
	r.RiskFactors = append(r.RiskFactors, name)
}

// InterventionStrategy is the response posture attached to an assessment.
type InterventionStrategy string

const (
	InterventionImmediate   InterventionStrategy = "immediate_intervention"
	InterventionUrgent      InterventionStrategy = "urgent_support"
	InterventionTherapeutic InterventionStrategy = "therapeutic_support"
	InterventionPreventive  InterventionStrategy = "preventive_monitoring"
)

// CrisisAssessment is the final verdict of the pipeline.
type CrisisAssessment struct {
	OverallLevel            Severity             `json:"overall_level"`
	Confidence              float64              `json:"confidence"`
	RequiresImmediateAction bool                 `json:"requires_immediate_action"`
	EscalationPath          []string             `json:"escalation_path"`
	InterventionStrategy    InterventionStrategy `json:"intervention_strategy"`
	MonitoringRequired      bool                 `json:"monitoring_required"`
	MatchedCategories       []Category           `json:"matched_categories"`
	RiskFactors             []string             `json:"risk_factors"`
	RecommendedActions      []string             `json:"recommended_actions"`
	CatalogVersion          string               `json:"catalog_version"`
}
