package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Classification is the classifier's verdict for a single image.
type Classification struct {
	Prediction       string
	Confidence       float64
	Probabilities    map[string]float64
	ProcessingTimeMS float64
}

// VisionClient talks to the image classification service. The service takes
// raw image bytes and returns per-condition probabilities.
type VisionClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewVisionClient(url, apiKey string, timeout time.Duration) *VisionClient {
	return &VisionClient{
		url:    url,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type visionResponse struct {
	TopPrediction struct {
		Class      string  `json:"class"`
		Confidence float64 `json:"confidence"`
	} `json:"top_prediction"`
	AllProbabilities map[string]float64 `json:"all_probabilities"`
	ProcessingTimeMS float64            `json:"processing_time_ms"`
	Error            string             `json:"error"`
}

func (c *VisionClient) Classify(ctx context.Context, imageData []byte, mimeType string) (Classification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(imageData))
	if err != nil {
		return Classification{}, fmt.Errorf("create classify request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("classify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classification{}, fmt.Errorf("read classify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Classification{}, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var vr visionResponse
	if err := json.Unmarshal(body, &vr); err != nil {
		return Classification{}, fmt.Errorf("decode classify response: %w", err)
	}
	if vr.Error != "" {
		return Classification{}, fmt.Errorf("classifier error: %s", vr.Error)
	}
	if vr.TopPrediction.Class == "" {
		return Classification{}, fmt.Errorf("classifier returned no prediction")
	}

	return Classification{
		Prediction:       vr.TopPrediction.Class,
		Confidence:       vr.TopPrediction.Confidence,
		Probabilities:    vr.AllProbabilities,
		ProcessingTimeMS: vr.ProcessingTimeMS,
	}, nil
}
