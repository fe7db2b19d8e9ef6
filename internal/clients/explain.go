package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"teledent/server/internal/model"
)

const geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"

// ExplanationClient produces patient-facing explanations of classifier
// results, preferring Gemini and falling back to canned templates. Explain
// never returns an error: any upstream failure degrades to the template.
type ExplanationClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
}

func NewExplanationClient(apiKey, geminiModel string, timeout time.Duration) *ExplanationClient {
	return &ExplanationClient{
		apiKey: apiKey,
		model:  geminiModel,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Explain generates the explanation payload for a classification.
func (c *ExplanationClient) Explain(ctx context.Context, prediction string, confidence float64, probabilities map[string]float64) model.Explanation {
	confidencePct := roundPct(confidence * 100)
	riskLevel := model.RiskLevel(confidence)

	if c.apiKey == "" {
		return templateExplanation(prediction, confidencePct, riskLevel)
	}

	findings := SortedFindings(probabilities)
	if len(findings) > 3 {
		findings = findings[:3]
	}

	text, err := c.generate(ctx, prediction, confidencePct, probabilities, findings)
	if err != nil {
		log.Printf("explanation generation failed, using template: %v", err)
		return templateExplanation(prediction, confidencePct, riskLevel)
	}

	differential := make([]model.DifferentialFinding, 0, len(findings))
	for _, f := range findings {
		if f.Condition == prediction {
			continue
		}
		differential = append(differential, model.DifferentialFinding{
			Condition:  f.Condition,
			Confidence: roundPct(f.Confidence * 100),
		})
	}

	return model.Explanation{
		Condition:            prediction,
		ConfidencePercentage: confidencePct,
		RiskLevel:            riskLevel,
		Urgency:              model.Urgency(riskLevel),
		AIGenerated:          true,
		Explanation:          text,
		Differential:         differential,
	}
}

func (c *ExplanationClient) generate(ctx context.Context, prediction string, confidencePct float64, probabilities map[string]float64, top []Finding) (string, error) {
	var allProbs []string
	for _, f := range SortedFindings(probabilities) {
		allProbs = append(allProbs, fmt.Sprintf("%s: %.1f%%", f.Condition, f.Confidence*100))
	}
	var topParts []string
	for _, f := range top {
		topParts = append(topParts, fmt.Sprintf("%s (%.1f%%)", f.Condition, f.Confidence*100))
	}

	prompt := fmt.Sprintf(`You are a dental AI assistant explaining analysis results to a patient.

Analysis Results:
- Primary finding: %s with %.1f%% confidence
- All findings: %s
- Top 3 possibilities: %s

Provide a helpful, empathetic explanation including:
1. What this condition means in simple terms
2. How confident we are and why
3. Recommended next steps (as bullet points)
4. When to see a dentist

Keep it clear and concise.`,
		prediction, confidencePct, strings.Join(allProbs, ", "), strings.Join(topParts, ", "))

	reqBody := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{Temperature: 0.3},
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", geminiAPIBase, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var gr geminiResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if gr.Error != nil {
		return "", fmt.Errorf("gemini error: %s", gr.Error.Message)
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty gemini response")
	}

	text := gr.Candidates[0].Content.Parts[0].Text
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("blank gemini response")
	}
	return text, nil
}

// Finding pairs a condition with its raw classifier confidence.
type Finding struct {
	Condition  string
	Confidence float64
}

// SortedFindings orders probabilities by confidence descending, breaking
// ties by condition name so the ordering is stable across runs.
func SortedFindings(probabilities map[string]float64) []Finding {
	findings := make([]Finding, 0, len(probabilities))
	for condition, confidence := range probabilities {
		findings = append(findings, Finding{Condition: condition, Confidence: confidence})
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Confidence != findings[j].Confidence {
			return findings[i].Confidence > findings[j].Confidence
		}
		return findings[i].Condition < findings[j].Condition
	})
	return findings
}

func roundPct(v float64) float64 {
	return math.Round(v*10) / 10
}
