package model

const (
	RiskHigh   = "High"
	RiskMedium = "Medium"
	RiskLow    = "Low"
)

// RiskLevel buckets a classifier's top-1 confidence into the tier used for
// report risk levels and recommendation fallbacks.
func RiskLevel(confidence float64) string {
	switch {
	case confidence > 0.8:
		return RiskHigh
	case confidence > 0.5:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Urgency returns the follow-up guidance attached to a risk tier.
func Urgency(riskLevel string) string {
	switch riskLevel {
	case RiskHigh:
		return "See a dentist within a week"
	case RiskMedium:
		return "Schedule a dental appointment soon"
	default:
		return "Monitor and discuss at next regular checkup"
	}
}

// FallbackRecommendations is used when the explanation payload carries no
// recommendation list of its own.
func FallbackRecommendations(riskLevel string) []string {
	switch riskLevel {
	case RiskHigh:
		return []string{
			"Visit dentist within 1 week",
			"Avoid chewing on affected side",
			"Maintain oral hygiene",
		}
	case RiskMedium:
		return []string{
			"Schedule dental appointment soon",
			"Monitor for any pain or sensitivity",
			"Brush twice daily with fluoride toothpaste",
		}
	default:
		return []string{
			"Discuss at next regular checkup",
			"Continue good oral hygiene",
			"Limit sugary foods and drinks",
		}
	}
}
