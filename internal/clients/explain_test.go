package clients

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"teledent/server/internal/model"
)

var errUpstream = errors.New("upstream unreachable")

func TestExplainWithoutAPIKeyUsesTemplate(t *testing.T) {
	client := NewExplanationClient("", "gemini-2.5-flash", time.Second)

	exp := client.Explain(context.Background(), "Caries", 0.83, map[string]float64{
		"Caries":     0.83,
		"Gingivitis": 0.1,
	})

	if exp.AIGenerated {
		t.Errorf("template explanation must not be marked AI generated")
	}
	if exp.Condition != "Caries" {
		t.Errorf("unexpected condition %q", exp.Condition)
	}
	if exp.ConfidencePercentage != 83.0 {
		t.Errorf("expected 83.0 confidence percentage, got %v", exp.ConfidencePercentage)
	}
	if exp.RiskLevel != model.RiskHigh {
		t.Errorf("expected High risk, got %q", exp.RiskLevel)
	}
	if exp.Urgency != "See a dentist within a week" {
		t.Errorf("unexpected urgency %q", exp.Urgency)
	}
	if !strings.Contains(exp.Explanation, "83.0% confidence") {
		t.Errorf("explanation should embed confidence percentage: %q", exp.Explanation)
	}
	if len(exp.Recommendations) != 4 {
		t.Errorf("expected 4 caries recommendations, got %d", len(exp.Recommendations))
	}
}

func TestExplainFallsBackOnUpstreamFailure(t *testing.T) {
	// The key is set but the endpoint is unreachable within the timeout, so
	// Explain must degrade to the template rather than fail.
	client := NewExplanationClient("some-key", "gemini-2.5-flash", 100*time.Millisecond)
	client.httpClient.Transport = failingTransport{}

	exp := client.Explain(context.Background(), "Gingivitis", 0.6, map[string]float64{"Gingivitis": 0.6})
	if exp.AIGenerated {
		t.Errorf("fallback must not be marked AI generated")
	}
	if exp.RiskLevel != model.RiskMedium {
		t.Errorf("expected Medium risk at 0.6, got %q", exp.RiskLevel)
	}
	if len(exp.Recommendations) == 0 {
		t.Errorf("fallback must carry recommendations")
	}
}

func TestTemplateUnknownConditionUsesCariesText(t *testing.T) {
	exp := templateExplanation("Something Else", 42.0, model.RiskLow)
	if exp.Condition != "Something Else" {
		t.Errorf("condition must keep the prediction, got %q", exp.Condition)
	}
	if !strings.Contains(exp.Explanation, "tooth decay") {
		t.Errorf("unknown condition should reuse the caries template: %q", exp.Explanation)
	}
}

func TestTemplateCoversAllConditions(t *testing.T) {
	conditions := []string{"Calculus", "Caries", "Gingivitis", "Mouth Ulcer", "Tooth Discoloration", "Hypodontia"}
	for _, condition := range conditions {
		exp := templateExplanation(condition, 55.0, model.RiskMedium)
		if exp.Explanation == "" || len(exp.Recommendations) == 0 {
			t.Errorf("incomplete template for %s", condition)
		}
		if strings.Contains(exp.Explanation, "%") && !strings.Contains(exp.Explanation, "55.0%") {
			t.Errorf("template for %s did not interpolate confidence: %q", condition, exp.Explanation)
		}
	}
}

func TestSortedFindings(t *testing.T) {
	findings := SortedFindings(map[string]float64{
		"Gingivitis": 0.1,
		"Caries":     0.83,
		"Calculus":   0.1,
	})
	if len(findings) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(findings))
	}
	if findings[0].Condition != "Caries" {
		t.Errorf("expected Caries first, got %s", findings[0].Condition)
	}
	// Equal confidences break ties alphabetically.
	if findings[1].Condition != "Calculus" || findings[2].Condition != "Gingivitis" {
		t.Errorf("unexpected tie-break order: %s, %s", findings[1].Condition, findings[2].Condition)
	}
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errUpstream
}
