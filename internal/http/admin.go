package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"teledent/server/internal/auth"
	"teledent/server/internal/crypto"
)

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	admin, err := s.store.GetAdminByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if err := crypto.CheckPassword(admin.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	token, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, admin.Username, auth.RoleAdmin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token_error")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleAdminListPatients(w http.ResponseWriter, r *http.Request) {
	skip := 0
	limit := 100
	if raw := r.URL.Query().Get("skip"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			skip = parsed
		}
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	patients, err := s.store.ListPatients(r.Context(), skip, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}

	resp := make([]patientResponse, 0, len(patients))
	for _, patient := range patients {
		resp = append(resp, mapPatientResponse(patient))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAdminPatientImages(w http.ResponseWriter, r *http.Request) {
	patientID, err := strconv.ParseInt(chi.URLParam(r, "patientID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id")
		return
	}

	if _, err := s.store.GetPatientByID(r.Context(), patientID); err != nil {
		writeError(w, http.StatusNotFound, "patient_not_found")
		return
	}

	images, err := s.store.ListImagesByPatient(r.Context(), patientID)
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

func (s *Server) handleAdminDeletePatient(w http.ResponseWriter, r *http.Request) {
	patientID, err := strconv.ParseInt(chi.URLParam(r, "patientID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_patient_id")
		return
	}

	deleted, err := s.store.DeletePatient(r.Context(), patientID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error")
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "patient_not_found")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
