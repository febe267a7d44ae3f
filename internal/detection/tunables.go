package detection

// Tunables holds every numeric constant used by the scoring stages. The
// defaults reproduce the production risk tolerances; a catalog file may
// override any subset of them.
type Tunables struct {
	CriticalScore int `yaml:"critical_score" json:"critical_score"`
	HighScore     int `yaml:"high_score" json:"high_score"`
	MediumScore   int `yaml:"medium_score" json:"medium_score"`

	ExtremeLowMood           int     `yaml:"extreme_low_mood" json:"extreme_low_mood"`
	LowMood                  int     `yaml:"low_mood" json:"low_mood"`
	ExtremeLowMoodConfidence float64 `yaml:"extreme_low_mood_confidence" json:"extreme_low_mood_confidence"`
	LowMoodConfidence        float64 `yaml:"low_mood_confidence" json:"low_mood_confidence"`
	MoodScorePerPoint        int     `yaml:"mood_score_per_point" json:"mood_score_per_point"`

	TrendRecentWindow int     `yaml:"trend_recent_window" json:"trend_recent_window"`
	TrendMeanWindow   int     `yaml:"trend_mean_window" json:"trend_mean_window"`
	TrendMoodCeiling  int     `yaml:"trend_mood_ceiling" json:"trend_mood_ceiling"`
	TrendConfidence   float64 `yaml:"trend_confidence" json:"trend_confidence"`
	TrendScore        int     `yaml:"trend_score" json:"trend_score"`

	NegativeThemes           []string `yaml:"negative_themes" json:"negative_themes"`
	NegativeThemeMinMessages int      `yaml:"negative_theme_min_messages" json:"negative_theme_min_messages"`
	NegativeThemeConfidence  float64  `yaml:"negative_theme_confidence" json:"negative_theme_confidence"`
	NegativeThemeScore       int      `yaml:"negative_theme_score" json:"negative_theme_score"`

	PriorCrisisConfidence float64 `yaml:"prior_crisis_confidence" json:"prior_crisis_confidence"`
	PriorCrisisScore      int     `yaml:"prior_crisis_score" json:"prior_crisis_score"`

	LateNightStartHour  int     `yaml:"late_night_start_hour" json:"late_night_start_hour"`
	LateNightEndHour    int     `yaml:"late_night_end_hour" json:"late_night_end_hour"`
	LateNightConfidence float64 `yaml:"late_night_confidence" json:"late_night_confidence"`
	LateNightScore      int     `yaml:"late_night_score" json:"late_night_score"`

	HistoryWindowDays     int     `yaml:"history_window_days" json:"history_window_days"`
	FrequentIncidentCount int     `yaml:"frequent_incident_count" json:"frequent_incident_count"`
	FrequentConfidence    float64 `yaml:"frequent_confidence" json:"frequent_confidence"`
	EscalatingConfidence  float64 `yaml:"escalating_confidence" json:"escalating_confidence"`
	RecurringConfidence   float64 `yaml:"recurring_confidence" json:"recurring_confidence"`
}

// DefaultTunables returns the observed production constants.
func DefaultTunables() Tunables {
	return Tunables{
		CriticalScore: 90,
		HighScore:     70,
		MediumScore:   50,

		ExtremeLowMood:           2,
		LowMood:                  4,
		ExtremeLowMoodConfidence: 0.2,
		LowMoodConfidence:        0.1,
		MoodScorePerPoint:        5,

		TrendRecentWindow: 3,
		TrendMeanWindow:   7,
		TrendMoodCeiling:  3,
		TrendConfidence:   0.15,
		TrendScore:        15,

		NegativeThemes:           []string{"depressed", "hopeless", "suicidal", "harm"},
		NegativeThemeMinMessages: 3,
		NegativeThemeConfidence:  0.1,
		NegativeThemeScore:       10,

		PriorCrisisConfidence: 0.05,
		PriorCrisisScore:      10,

		LateNightStartHour:  2,
		LateNightEndHour:    5,
		LateNightConfidence: 0.05,
		LateNightScore:      5,

		HistoryWindowDays:     30,
		FrequentIncidentCount: 2,
		FrequentConfidence:    0.2,
		EscalatingConfidence:  0.15,
		RecurringConfidence:   0.1,
	}
}

// levelForScore maps a risk score onto the graded bands. Scores below the
// medium band map to SeverityNone; callers decide what a low score means.
func (t Tunables) levelForScore(score int) Severity {
	switch {
	case score >= t.CriticalScore:
		return SeverityCritical
	case score >= t.HighScore:
		return SeverityHigh
	case score >= t.MediumScore:
		return SeverityMedium
	default:
		return SeverityNone
	}
}

func (t Tunables) clone() Tunables {
	out := t
	out.NegativeThemes = append([]string(nil), t.NegativeThemes...)
	return out
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
