package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"teledent/server/internal/auth"
	"teledent/server/internal/clients"
	"teledent/server/internal/config"
	"teledent/server/internal/model"
	"teledent/server/internal/report"
	"teledent/server/internal/repository"
	"teledent/server/internal/storage"
)

// Classifier is the image classification dependency; the production
// implementation is clients.VisionClient.
type Classifier interface {
	Classify(ctx context.Context, imageData []byte, mimeType string) (clients.Classification, error)
}

// Explainer produces the patient-facing explanation payload. It must not
// fail: implementations degrade to templates instead of erroring.
type Explainer interface {
	Explain(ctx context.Context, prediction string, confidence float64, probabilities map[string]float64) model.Explanation
}

// Renderer writes a report to a PDF file.
type Renderer interface {
	Render(data report.ReportData, path string) error
}

type Server struct {
	cfg        config.Config
	store      *repository.Store
	storage    *storage.Local
	classifier Classifier
	explainer  Explainer
	renderer   Renderer
	redis      *redis.Client
}

// NewServer wires the handler set. redisClient may be nil, which disables
// classification caching.
func NewServer(cfg config.Config, store *repository.Store, files *storage.Local, classifier Classifier, explainer Explainer, renderer Renderer, redisClient *redis.Client) *Server {
	return &Server{
		cfg:        cfg,
		store:      store,
		storage:    files,
		classifier: classifier,
		explainer:  explainer,
		renderer:   renderer,
		redis:      redisClient,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/patients", func(r chi.Router) {
		r.Post("/register", s.handlePatientRegister)
		r.Post("/login", s.handlePatientLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.patientAuth)
			r.Get("/me", s.handlePatientMe)
			r.Post("/images", s.handleUploadImage)
			r.Get("/images", s.handleListImages)
			r.Get("/images/{imageUUID}", s.handleGetImage)
			r.Get("/images/{imageUUID}/analysis", s.handleGetAnalysis)
			r.Get("/reports", s.handleListReports)
			r.Get("/reports/{reportUUID}", s.handleGetReport)
			r.Get("/reports/{reportUUID}/pdf", s.handleGetReportPDF)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/login", s.handleAdminLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/patients", s.handleAdminListPatients)
			r.Get("/patients/{patientID}/images", s.handleAdminPatientImages)
			r.Delete("/patients/{patientID}", s.handleAdminDeletePatient)
		})
	})

	return r
}

// patientAuth admits patient tokens and loads the patient row into the
// request context. Any failure collapses to the same 401 so callers cannot
// distinguish a bad token from a deleted account.
func (s *Server) patientAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := s.parseRequestToken(r)
		if claims == nil || claims.Role != auth.RolePatient {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		patient, err := s.store.GetPatientByUsername(r.Context(), claims.Username())
		if err != nil || !patient.IsActive {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		ctx := context.WithValue(r.Context(), patientKey{}, patient)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := s.parseRequestToken(r)
		if claims == nil || claims.Role != auth.RoleAdmin {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		admin, err := s.store.GetAdminByUsername(r.Context(), claims.Username())
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}

		ctx := context.WithValue(r.Context(), adminKey{}, admin)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) parseRequestToken(r *http.Request) *auth.Claims {
	token := bearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil
	}
	claims, err := auth.ParseToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, token)
	if err != nil {
		return nil
	}
	return claims
}

type patientKey struct{}
type adminKey struct{}

func patientFromContext(ctx context.Context) (model.Patient, bool) {
	patient, ok := ctx.Value(patientKey{}).(model.Patient)
	return patient, ok
}

func adminFromContext(ctx context.Context) (model.Admin, bool) {
	admin, ok := ctx.Value(adminKey{}).(model.Admin)
	return admin, ok
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func decodeJSON(r *http.Request, out interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
