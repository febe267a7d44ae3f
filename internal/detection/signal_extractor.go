package detection

import "strings"

// SignalExtractor is stage 1: lexical matching against the catalog.
type SignalExtractor struct {
	catalog *Catalog
}

// NewSignalExtractor binds the extractor to a catalog.
func NewSignalExtractor(catalog *Catalog) *SignalExtractor {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &SignalExtractor{catalog: catalog}
}

// Extract scans message for indicator keywords. It never fails; text without
// matches yields a NONE result with zero confidence.
func (e *SignalExtractor) Extract(message string) StageResult {
	result := StageResult{
		Level:              SeverityNone,
		Indicators:         []string{},
		MatchedCategories:  []Category{},
		RiskFactors:        []string{},
		RecommendedActions: []string{},
	}

	lower := strings.ToLower(message)
	if strings.TrimSpace(lower) == "" {
		return result
	}

	seenKeyword := map[string]struct{}{}
	seenCategory := map[Category]struct{}{}
	seenAction := map[string]struct{}{}
	addAction := func(action string) {
		action = strings.TrimSpace(action)
		if action == "" {
			return
		}
		if _, ok := seenAction[action]; ok {
			return
		}
		seenAction[action] = struct{}{}
		result.RecommendedActions = append(result.RecommendedActions, action)
	}

	var top *Indicator
	for i := range e.catalog.indicators {
		ind := &e.catalog.indicators[i]
		matched := false
		for _, kw := range ind.Keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			matched = true
			if _, ok := seenKeyword[kw]; !ok {
				seenKeyword[kw] = struct{}{}
				result.Indicators = append(result.Indicators, kw)
			}
		}
		if !matched {
			continue
		}

		if _, ok := seenCategory[ind.Category]; !ok {
			seenCategory[ind.Category] = struct{}{}
			result.MatchedCategories = append(result.MatchedCategories, ind.Category)
		}
		addAction(ind.Response.ImmediateAction)
		for _, f := range ind.Response.FollowUp {
			addAction(f)
		}
		if top == nil || ind.Threshold > top.Threshold {
			top = ind
		}
	}

	if top == nil {
		return result
	}

	tun := e.catalog.tunables
	result.RiskScore = clampScore(top.Threshold)
	switch {
	case result.RiskScore >= tun.MediumScore:
		result.Level = tun.levelForScore(result.RiskScore)
	case result.RiskScore > 0:
		result.Level = top.Severity
	default:
		result.Level = SeverityNone
	}
	result.Confidence = clampConfidence(float64(result.RiskScore) / 100)
	return result
}
