package detection

var escalationPaths = map[Severity][]string{
	SeverityCritical: {"emergency_services", "crisis_team", "family_notification"},
	SeverityHigh:     {"crisis_hotline", "therapist", "emergency_contacts"},
	SeverityMedium:   {"therapist", "support_groups", "self_help"},
}

// EscalationPath returns the ordered escalation steps for a level.
func EscalationPath(level Severity) []string {
	return append([]string{}, escalationPaths[level]...)
}

// InterventionFor returns the intervention strategy for a level.
func InterventionFor(level Severity) InterventionStrategy {
	switch level {
	case SeverityCritical:
		return InterventionImmediate
	case SeverityHigh:
		return InterventionUrgent
	case SeverityMedium:
		return InterventionTherapeutic
	default:
		return InterventionPreventive
	}
}

// Aggregate merges the three stage results into the final assessment. The
// overall level is the maximum of the stage levels, never lower than any one.
func Aggregate(stage1, stage2, stage3 StageResult, catalogVersion string) CrisisAssessment {
	level := MaxSeverity(stage1.Level, stage2.Level, stage3.Level)
	confidence := clampConfidence((stage1.Confidence + stage2.Confidence + stage3.Confidence) / 3)

	return CrisisAssessment{
		OverallLevel:            level,
		Confidence:              confidence,
		RequiresImmediateAction: level == SeverityCritical,
		EscalationPath:          EscalationPath(level),
		InterventionStrategy:    InterventionFor(level),
		MonitoringRequired:      level >= SeverityMedium,
		MatchedCategories:       unionCategories(stage1.MatchedCategories, stage2.MatchedCategories, stage3.MatchedCategories),
		RiskFactors:             unionStrings(stage1.RiskFactors, stage2.RiskFactors, stage3.RiskFactors),
		RecommendedActions:      unionStrings(stage1.RecommendedActions, stage2.RecommendedActions, stage3.RecommendedActions),
		CatalogVersion:          catalogVersion,
	}
}

func unionStrings(lists ...[]string) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func unionCategories(lists ...[]Category) []Category {
	seen := map[Category]struct{}{}
	out := []Category{}
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
