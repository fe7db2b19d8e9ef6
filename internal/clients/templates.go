package clients

import (
	"fmt"

	"teledent/server/internal/model"
)

type conditionTemplate struct {
	explanation     string
	recommendations []string
}

// conditionTemplates are the canned explanations used whenever the language
// model is unavailable or fails. The explanation text takes the confidence
// percentage as its single format argument.
var conditionTemplates = map[string]conditionTemplate{
	"Calculus": {
		explanation: "Based on the analysis with %.1f%% confidence, we detected calculus (tartar) on your teeth. This is hardened plaque that can only be removed by professional cleaning.",
		recommendations: []string{
			"Schedule a professional dental cleaning",
			"Use an electric toothbrush",
			"Floss daily",
			"Consider antimicrobial mouthwash",
		},
	},
	"Caries": {
		explanation: "Our AI analysis suggests possible tooth decay (caries) with %.1f%% confidence. This indicates areas where enamel may be demineralizing.",
		recommendations: []string{
			"Visit dentist for examination",
			"Reduce sugar intake",
			"Use fluoride toothpaste",
			"Consider dental filling if confirmed",
		},
	},
	"Gingivitis": {
		explanation: "We detected signs of gum inflammation (gingivitis) with %.1f%% confidence. This is the earliest stage of gum disease and is reversible.",
		recommendations: []string{
			"Professional cleaning recommended",
			"Improve brushing at gumline",
			"Floss daily",
			"Salt water rinses",
		},
	},
	"Mouth Ulcer": {
		explanation: "The analysis shows a mouth ulcer with %.1f%% confidence. These are common and usually heal within 1-2 weeks.",
		recommendations: []string{
			"Avoid spicy/acidic foods",
			"Use topical oral gel",
			"Salt water rinses",
			"See dentist if persists >2 weeks",
		},
	},
	"Tooth Discoloration": {
		explanation: "Tooth discoloration detected with %.1f%% confidence. This can be from surface stains or internal factors.",
		recommendations: []string{
			"Professional cleaning",
			"Consider whitening options",
			"Reduce staining foods/drinks",
			"Good oral hygiene",
		},
	},
	"Hypodontia": {
		explanation: "Our analysis suggests hypodontia (congenitally missing teeth) with %.1f%% confidence.",
		recommendations: []string{
			"Orthodontic consultation",
			"Discuss replacement options",
			"Monitor adjacent teeth",
			"Consider space management",
		},
	},
}

// templateExplanation builds the fallback payload for a prediction. Unknown
// conditions reuse the caries template, matching how downstream consumers
// expect a payload for every classifier output.
func templateExplanation(prediction string, confidencePct float64, riskLevel string) model.Explanation {
	tpl, ok := conditionTemplates[prediction]
	if !ok {
		tpl = conditionTemplates["Caries"]
	}
	return model.Explanation{
		Condition:            prediction,
		ConfidencePercentage: confidencePct,
		RiskLevel:            riskLevel,
		Urgency:              model.Urgency(riskLevel),
		AIGenerated:          false,
		Explanation:          fmt.Sprintf(tpl.explanation, confidencePct),
		Recommendations:      tpl.recommendations,
		Differential:         []model.DifferentialFinding{},
	}
}
