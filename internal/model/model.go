package model

import "time"

type Patient struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

type Admin struct {
	ID           int64
	Email        string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type PatientImage struct {
	ID           int64
	UUID         string
	PatientID    int64
	Filename     string
	OriginalName string
	Path         string
	SizeBytes    int64
	MimeType     string
	UploadedAt   time.Time
}

type ImageAnalysis struct {
	ID               int64
	UUID             string
	ImageID          int64
	Prediction       string
	Confidence       float64
	Probabilities    map[string]float64
	ProcessingTimeMS float64
	Explanation      Explanation
	PDFPath          *string
	AnalyzedAt       time.Time
}

type PatientReport struct {
	ID              int64
	UUID            string
	PatientID       int64
	AnalysisID      int64
	PDFPath         string
	Prediction      string
	Confidence      float64
	RiskLevel       string
	Recommendations []string
	Explanation     Explanation
	GeneratedAt     time.Time
}

// Explanation is the payload produced by the explanation service and
// persisted verbatim on both the analysis and the report.
type Explanation struct {
	Condition            string                `json:"condition"`
	ConfidencePercentage float64               `json:"confidence_percentage"`
	RiskLevel            string                `json:"risk_level"`
	Urgency              string                `json:"urgency"`
	AIGenerated          bool                  `json:"ai_generated"`
	Explanation          string                `json:"explanation"`
	Recommendations      []string              `json:"recommendations,omitempty"`
	Differential         []DifferentialFinding `json:"differential"`
}

// DifferentialFinding is a secondary candidate condition, confidence in
// percent.
type DifferentialFinding struct {
	Condition  string  `json:"condition"`
	Confidence float64 `json:"confidence"`
}
