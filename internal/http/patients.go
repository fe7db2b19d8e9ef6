package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"

	"teledent/server/internal/auth"
	"teledent/server/internal/crypto"
	"teledent/server/internal/model"
	"teledent/server/internal/repository"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type patientResponse struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Username  string `json:"username"`
	IsActive  bool   `json:"is_active"`
	CreatedAt string `json:"created_at"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func mapPatientResponse(patient model.Patient) patientResponse {
	return patientResponse{
		ID:        patient.ID,
		Email:     patient.Email,
		Username:  patient.Username,
		IsActive:  patient.IsActive,
		CreatedAt: patient.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handlePatientRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	req.Username = strings.TrimSpace(req.Username)
	if req.Email == "" || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "missing_fields")
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password_hash_failed")
		return
	}

	patient, err := s.store.CreatePatient(r.Context(), req.Email, req.Username, hash)
	if err != nil {
		if repository.IsUniqueViolation(err) {
			writeError(w, http.StatusBadRequest, "already_registered")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusCreated, mapPatientResponse(patient))
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handlePatientLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	patient, err := s.store.GetPatientByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil || !patient.IsActive {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := crypto.CheckPassword(patient.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, patient.Username, auth.RolePatient)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handlePatientMe(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	writeJSON(w, http.StatusOK, mapPatientResponse(patient))
}

type imageResponse struct {
	ID           string `json:"id"`
	Filename     string `json:"filename"`
	OriginalName string `json:"original_name"`
	SizeBytes    int64  `json:"size_bytes"`
	MimeType     string `json:"mime_type"`
	UploadedAt   string `json:"uploaded_at"`
	URL          string `json:"url"`
}

func mapImageResponse(image model.PatientImage) imageResponse {
	return imageResponse{
		ID:           image.UUID,
		Filename:     image.Filename,
		OriginalName: image.OriginalName,
		SizeBytes:    image.SizeBytes,
		MimeType:     image.MimeType,
		UploadedAt:   image.UploadedAt.UTC().Format(time.RFC3339),
		URL:          fmt.Sprintf("/patients/images/%s", image.UUID),
	}
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	images, err := s.store.ListImagesByPatient(r.Context(), patient.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]imageResponse, 0, len(images))
	for _, image := range images {
		resp = append(resp, mapImageResponse(image))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetImage(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	image, err := s.store.GetImageByUUID(r.Context(), patient.ID, chi.URLParam(r, "imageUUID"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "image_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	file, err := s.storage.Open(image.Path)
	if err != nil {
		writeError(w, http.StatusNotFound, "image_not_found")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", image.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, file)
}

type analysisResponse struct {
	ID               string             `json:"id"`
	ImageID          string             `json:"image_id"`
	Prediction       string             `json:"prediction"`
	Confidence       float64            `json:"confidence"`
	Probabilities    map[string]float64 `json:"probabilities"`
	ProcessingTimeMS float64            `json:"processing_time_ms"`
	Explanation      model.Explanation  `json:"explanation"`
	AnalyzedAt       string             `json:"analyzed_at"`
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	imageUUID := chi.URLParam(r, "imageUUID")
	analysis, err := s.store.GetAnalysisByImageUUID(r.Context(), patient.ID, imageUUID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "analysis_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, analysisResponse{
		ID:               analysis.UUID,
		ImageID:          imageUUID,
		Prediction:       analysis.Prediction,
		Confidence:       analysis.Confidence,
		Probabilities:    analysis.Probabilities,
		ProcessingTimeMS: analysis.ProcessingTimeMS,
		Explanation:      analysis.Explanation,
		AnalyzedAt:       analysis.AnalyzedAt.UTC().Format(time.RFC3339),
	})
}

type reportResponse struct {
	ID              string            `json:"id"`
	Prediction      string            `json:"prediction"`
	Confidence      float64           `json:"confidence"`
	RiskLevel       string            `json:"risk_level"`
	Recommendations []string          `json:"recommendations"`
	Explanation     model.Explanation `json:"explanation"`
	GeneratedAt     string            `json:"generated_at"`
	PDFURL          string            `json:"pdf_url"`
}

func mapReportResponse(report model.PatientReport) reportResponse {
	return reportResponse{
		ID:              report.UUID,
		Prediction:      report.Prediction,
		Confidence:      report.Confidence,
		RiskLevel:       report.RiskLevel,
		Recommendations: report.Recommendations,
		Explanation:     report.Explanation,
		GeneratedAt:     report.GeneratedAt.UTC().Format(time.RFC3339),
		PDFURL:          fmt.Sprintf("/patients/reports/%s/pdf", report.UUID),
	}
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	reports, err := s.store.ListReportsByPatient(r.Context(), patient.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]reportResponse, 0, len(reports))
	for _, report := range reports {
		resp = append(resp, mapReportResponse(report))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	report, err := s.store.GetReportByUUID(r.Context(), patient.ID, chi.URLParam(r, "reportUUID"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "report_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	writeJSON(w, http.StatusOK, mapReportResponse(report))
}

func (s *Server) handleGetReportPDF(w http.ResponseWriter, r *http.Request) {
	patient, ok := patientFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	report, err := s.store.GetReportByUUID(r.Context(), patient.ID, chi.URLParam(r, "reportUUID"))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "report_not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	file, err := s.storage.Open(report.PDFPath)
	if err != nil {
		writeError(w, http.StatusNotFound, "report_not_found")
		return
	}
	defer file.Close()

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fmt.Sprintf("report_%s.pdf", report.UUID)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, file)
}
