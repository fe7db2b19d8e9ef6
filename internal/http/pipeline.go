package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"teledent/server/internal/clients"
	"teledent/server/internal/crypto"
	"teledent/server/internal/model"
	"teledent/server/internal/report"
)

var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
}

type findingSummary struct {
	Condition            string  `json:"condition"`
	ConfidencePercentage float64 `json:"confidence_percentage"`
	Level                string  `json:"level"`
}

type uploadResponse struct {
	Image            imageResponse     `json:"image"`
	AnalysisID       string            `json:"analysis_id"`
	ReportID         string            `json:"report_id"`
	PrimaryFinding   findingSummary    `json:"primary_finding"`
	AllFindings      []findingSummary  `json:"all_findings"`
	RiskLevel        string            `json:"risk_level"`
	Recommendations  []string          `json:"recommendations"`
	Explanation      model.Explanation `json:"explanation"`
	ProcessingTimeMS float64           `json:"processing_time_ms"`
	PDFURL           string            `json:"pdf_url"`
}

// handleUploadImage runs the full analysis pipeline: store the file, classify
// it, explain the result, then persist image, analysis and report together.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if _, ok := allowedImageTypes[mimeType]; !ok {
		writeError(w, http.StatusBadRequest, "unsupported_media_type")
		return
	}

	imageUUID := uuid.NewString()
	analysisUUID := uuid.NewString()
	reportUUID := uuid.NewString()

	filename, path, size, err := s.storage.SaveUpload(patient.ID, imageUUID, header.Filename, file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	imageData, err := s.storage.ReadFile(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	// A classifier failure leaves the stored file behind on purpose: the
	// upload succeeded, only the analysis did not.
	classification, err := s.classify(r.Context(), imageData, mimeType)
	if err != nil {
		log.Printf("classification failed for patient %d: %v", patient.ID, err)
		writeError(w, http.StatusInternalServerError, "classification_failed")
		return
	}

	riskLevel := model.RiskLevel(classification.Confidence)
	explanation := s.explainer.Explain(r.Context(), classification.Prediction, classification.Confidence, classification.Probabilities)

	now := time.Now().UTC()
	image := model.PatientImage{
		UUID:         imageUUID,
		PatientID:    patient.ID,
		Filename:     filename,
		OriginalName: header.Filename,
		Path:         path,
		SizeBytes:    size,
		MimeType:     mimeType,
		UploadedAt:   now,
	}
	analysis := model.ImageAnalysis{
		UUID:             analysisUUID,
		Prediction:       classification.Prediction,
		Confidence:       classification.Confidence,
		Probabilities:    classification.Probabilities,
		ProcessingTimeMS: classification.ProcessingTimeMS,
		Explanation:      explanation,
		AnalyzedAt:       now,
	}

	recommendations := explanation.Recommendations
	if len(recommendations) == 0 {
		recommendations = model.FallbackRecommendations(riskLevel)
	}

	pdfPath := s.storage.ReportPath(reportUUID, now)
	patientReport := model.PatientReport{
		UUID:            reportUUID,
		PatientID:       patient.ID,
		PDFPath:         pdfPath,
		Prediction:      classification.Prediction,
		Confidence:      classification.Confidence,
		RiskLevel:       riskLevel,
		Recommendations: recommendations,
		Explanation:     explanation,
		GeneratedAt:     now,
	}

	allFindings := summarizeFindings(classification.Probabilities)

	err = s.store.WithTx(r.Context(), func(tx pgx.Tx) error {
		if err := s.store.CreateImageTx(r.Context(), tx, &image); err != nil {
			return fmt.Errorf("insert image: %w", err)
		}
		analysis.ImageID = image.ID
		if err := s.store.CreateAnalysisTx(r.Context(), tx, &analysis); err != nil {
			return fmt.Errorf("insert analysis: %w", err)
		}
		if err := s.renderer.Render(report.ReportData{
			PatientName: patient.Username,
			GeneratedAt: now,
			Findings:    toFindingRows(allFindings),
			Explanation: explanation,
		}, pdfPath); err != nil {
			return fmt.Errorf("render pdf: %w", err)
		}
		patientReport.AnalysisID = analysis.ID
		if err := s.store.CreateReportTx(r.Context(), tx, &patientReport); err != nil {
			return fmt.Errorf("insert report: %w", err)
		}
		return nil
	})
	if err != nil {
		log.Printf("upload pipeline failed for patient %d: %v", patient.ID, err)
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := uploadResponse{
		Image:            mapImageResponse(image),
		AnalysisID:       analysis.UUID,
		ReportID:         patientReport.UUID,
		AllFindings:      allFindings,
		RiskLevel:        riskLevel,
		Recommendations:  recommendations,
		Explanation:      explanation,
		ProcessingTimeMS: classification.ProcessingTimeMS,
		PDFURL:           fmt.Sprintf("/patients/reports/%s/pdf", patientReport.UUID),
	}
	if len(allFindings) > 0 {
		resp.PrimaryFinding = allFindings[0]
	} else {
		resp.PrimaryFinding = findingSummary{
			Condition:            classification.Prediction,
			ConfidencePercentage: roundPct(classification.Confidence * 100),
			Level:                riskLevel,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// classify consults the cache first when redis is configured; classifier
// output for identical image bytes is deterministic, so the content hash is
// a safe key.
func (s *Server) classify(ctx context.Context, imageData []byte, mimeType string) (clients.Classification, error) {
	var cacheKey string
	if s.redis != nil {
		cacheKey = "classify:" + crypto.HashBytes(imageData)
		if cached, err := s.redis.Get(ctx, cacheKey).Bytes(); err == nil {
			var classification clients.Classification
			if err := json.NewDecoder(bytes.NewReader(cached)).Decode(&classification); err == nil {
				return classification, nil
			}
		}
	}

	classification, err := s.classifier.Classify(ctx, imageData, mimeType)
	if err != nil {
		return clients.Classification{}, err
	}

	if s.redis != nil {
		if encoded, err := json.Marshal(classification); err == nil {
			if err := s.redis.Set(ctx, cacheKey, encoded, s.cfg.ClassifyCacheTTL).Err(); err != nil {
				log.Printf("classification cache write failed: %v", err)
			}
		}
	}
	return classification, nil
}

// summarizeFindings converts raw probabilities into the ordered response
// rows, confidence descending.
func summarizeFindings(probabilities map[string]float64) []findingSummary {
	sorted := clients.SortedFindings(probabilities)
	findings := make([]findingSummary, 0, len(sorted))
	for _, f := range sorted {
		findings = append(findings, findingSummary{
			Condition:            f.Condition,
			ConfidencePercentage: roundPct(f.Confidence * 100),
			Level:                model.RiskLevel(f.Confidence),
		})
	}
	return findings
}

func toFindingRows(findings []findingSummary) []report.FindingRow {
	rows := make([]report.FindingRow, 0, len(findings))
	for _, f := range findings {
		rows = append(rows, report.FindingRow{
			Condition:            f.Condition,
			ConfidencePercentage: f.ConfidencePercentage,
			RiskLevel:            f.Level,
		})
	}
	return rows
}

func roundPct(v float64) float64 {
	return math.Round(v*10) / 10
}
