package detection

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category groups indicators by the kind of risk they signal.
type Category string

const (
	CategorySuicide   Category = "suicide"
	CategorySelfHarm  Category = "self_harm"
	CategoryViolence  Category = "violence"
	CategoryEmergency Category = "emergency"
	CategoryDistress  Category = "distress"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategorySuicide, CategorySelfHarm, CategoryViolence, CategoryEmergency, CategoryDistress:
		return true
	}
	return false
}

// IndicatorResponse is the action template attached to an indicator.
type IndicatorResponse struct {
	ImmediateAction string   `yaml:"immediate_action" json:"immediate_action"`
	FollowUp        []string `yaml:"follow_up" json:"follow_up"`
}

// Indicator describes one textual crisis signal.
type Indicator struct {
	ID        string            `json:"id"`
	Keywords  []string          `json:"keywords"`
	Severity  Severity          `json:"severity"`
	Category  Category          `json:"category"`
	Threshold int               `json:"threshold"`
	Response  IndicatorResponse `json:"response"`
}

func (i Indicator) clone() Indicator {
	out := i
	out.Keywords = append([]string(nil), i.Keywords...)
	out.Response.FollowUp = append([]string(nil), i.Response.FollowUp...)
	return out
}

// ErrInvalidCatalog is returned when catalog content fails validation.
var ErrInvalidCatalog = errors.New("detection: invalid indicator catalog")

// Catalog is the immutable, versioned indicator lexicon. One instance is
// shared read-only by every detection call.
type Catalog struct {
	version    string
	indicators []Indicator
	tunables   Tunables
}

// NewCatalog validates and normalizes indicators. Keywords are lower-cased and
// trimmed; the inputs are copied so later mutation by the caller has no effect.
func NewCatalog(version string, indicators []Indicator, tunables Tunables) (*Catalog, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return nil, fmt.Errorf("%w: version is required", ErrInvalidCatalog)
	}
	if len(indicators) == 0 {
		return nil, fmt.Errorf("%w: at least one indicator is required", ErrInvalidCatalog)
	}

	normalized := make([]Indicator, 0, len(indicators))
	for idx, ind := range indicators {
		ind = ind.clone()
		if ind.ID == "" {
			ind.ID = fmt.Sprintf("%s_%d", ind.Category, idx+1)
		}
		if !ind.Category.Valid() {
			return nil, fmt.Errorf("%w: indicator %s has unknown category %q", ErrInvalidCatalog, ind.ID, ind.Category)
		}
		if !ind.Severity.Valid() || ind.Severity == SeverityNone {
			return nil, fmt.Errorf("%w: indicator %s has invalid severity", ErrInvalidCatalog, ind.ID)
		}
		if ind.Threshold < 0 || ind.Threshold > 100 {
			return nil, fmt.Errorf("%w: indicator %s threshold %d outside 0..100", ErrInvalidCatalog, ind.ID, ind.Threshold)
		}
		keywords := make([]string, 0, len(ind.Keywords))
		for _, kw := range ind.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if len(keywords) == 0 {
			return nil, fmt.Errorf("%w: indicator %s has no keywords", ErrInvalidCatalog, ind.ID)
		}
		ind.Keywords = keywords
		normalized = append(normalized, ind)
	}

	return &Catalog{
		version:    version,
		indicators: normalized,
		tunables:   tunables.clone(),
	}, nil
}

// Version identifies the lexicon; it is echoed on every assessment.
func (c *Catalog) Version() string { return c.version }

// Indicators returns a copy of the indicator list.
func (c *Catalog) Indicators() []Indicator {
	out := make([]Indicator, len(c.indicators))
	for i, ind := range c.indicators {
		out[i] = ind.clone()
	}
	return out
}

// Tunables returns a copy of the scoring constants.
func (c *Catalog) Tunables() Tunables { return c.tunables.clone() }

type catalogFile struct {
	Version    string          `yaml:"version"`
	Indicators []indicatorFile `yaml:"indicators"`
	Tunables   Tunables        `yaml:"tunables"`
}

type indicatorFile struct {
	ID        string            `yaml:"id"`
	Keywords  []string          `yaml:"keywords"`
	Severity  string            `yaml:"severity"`
	Category  string            `yaml:"category"`
	Threshold int               `yaml:"threshold"`
	Response  IndicatorResponse `yaml:"response"`
}

// ParseCatalog decodes a YAML (or JSON) catalog document. Tunables not named in
// the document keep their default values.
func ParseCatalog(data []byte) (*Catalog, error) {
	file := catalogFile{Tunables: DefaultTunables()}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	indicators := make([]Indicator, 0, len(file.Indicators))
	for _, f := range file.Indicators {
		sev, err := ParseSeverity(f.Severity)
		if err != nil {
			return nil, fmt.Errorf("%w: indicator %s: %v", ErrInvalidCatalog, f.ID, err)
		}
		indicators = append(indicators, Indicator{
			ID:        f.ID,
			Keywords:  f.Keywords,
			Severity:  sev,
			Category:  Category(strings.ToLower(strings.TrimSpace(f.Category))),
			Threshold: f.Threshold,
			Response:  f.Response,
		})
	}
	return NewCatalog(file.Version, indicators, file.Tunables)
}

// LoadCatalog reads a catalog file from disk.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("detection: read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// DefaultCatalog returns the built-in v1 lexicon.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog("v1", defaultIndicators(), DefaultTunables())
	if err != nil {
		panic(err)
	}
	return c
}

func defaultIndicators() []Indicator {
	return []Indicator{
		{
			ID:        "suicidal_ideation",
			Category:  CategorySuicide,
			Severity:  SeverityCritical,
			Threshold: 90,
			Keywords: []string{
				"kill myself", "end my life", "suicide", "suicidal", "want to die",
				"better off dead", "no reason to live", "take my own life", "end it all",
			},
			Response: IndicatorResponse{
				ImmediateAction: "connect_crisis_hotline",
				FollowUp:        []string{"safety_plan_review", "notify_crisis_team", "schedule_clinician_follow_up"},
			},
		},
		{
			ID:        "medical_emergency",
			Category:  CategoryEmergency,
			Severity:  SeverityCritical,
			Threshold: 95,
			Keywords: []string{
				"overdose", "overdosed", "took too many pills", "swallowed pills",
				"can't breathe", "bleeding heavily",
			},
			Response: IndicatorResponse{
				ImmediateAction: "contact_emergency_services",
				FollowUp:        []string{"stay_connected_until_help_arrives", "notify_crisis_team"},
			},
		},
		{
			ID:        "self_harm",
			Category:  CategorySelfHarm,
			Severity:  SeverityHigh,
			Threshold: 80,
			Keywords: []string{
				"cut myself", "cutting myself", "hurt myself", "hurting myself",
				"self harm", "self-harm", "burn myself",
			},
			Response: IndicatorResponse{
				ImmediateAction: "connect_crisis_hotline",
				FollowUp:        []string{"safety_plan_review", "schedule_clinician_follow_up"},
			},
		},
		{
			ID:        "violence_toward_others",
			Category:  CategoryViolence,
			Severity:  SeverityHigh,
			Threshold: 75,
			Keywords: []string{
				"hurt someone", "kill someone", "kill them", "make them pay", "get a gun",
			},
			Response: IndicatorResponse{
				ImmediateAction: "alert_crisis_team",
				FollowUp:        []string{"assess_third_party_risk", "schedule_clinician_follow_up"},
			},
		},
		{
			ID:        "hopelessness",
			Category:  CategoryDistress,
			Severity:  SeverityHigh,
			Threshold: 70,
			Keywords: []string{
				"hopeless", "worthless", "no way out", "can't go on", "cant go on",
				"give up on everything", "trapped",
			},
			Response: IndicatorResponse{
				ImmediateAction: "offer_crisis_resources",
				FollowUp:        []string{"schedule_clinician_follow_up", "increase_check_in_frequency"},
			},
		},
		{
			ID:        "depressive_distress",
			Category:  CategoryDistress,
			Severity:  SeverityMedium,
			Threshold: 50,
			Keywords: []string{
				"depressed", "empty inside", "panic attack", "falling apart", "can't stop crying",
			},
			Response: IndicatorResponse{
				ImmediateAction: "offer_support_resources",
				FollowUp:        []string{"suggest_therapist_session", "increase_check_in_frequency"},
			},
		},
		{
			ID:        "general_stress",
			Category:  CategoryDistress,
			Severity:  SeverityLow,
			Threshold: 30,
			Keywords: []string{
				"stressed", "anxious", "overwhelmed", "exhausted", "lonely", "can't sleep",
			},
			Response: IndicatorResponse{
				ImmediateAction: "offer_self_help_resources",
				FollowUp:        []string{"mood_check_in"},
			},
		},
	}
}
