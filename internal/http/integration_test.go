package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"teledent/server/internal/clients"
	"teledent/server/internal/config"
	"teledent/server/internal/crypto"
	"teledent/server/internal/db"
	"teledent/server/internal/report"
	"teledent/server/internal/repository"
	"teledent/server/internal/storage"
)

func openTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("TELEDENT_TEST_DB")
	if url == "" {
		url = os.Getenv("DATABASE_URL")
	}
	if url == "" {
		t.Skip("TELEDENT_TEST_DB or DATABASE_URL not set")
		return nil
	}
	pool, err := db.NewPool(context.Background(), url)
	if err != nil {
		t.Skipf("db unavailable: %v", err)
		return nil
	}
	if err := db.RunMigrations(context.Background(), pool, "../../migrations"); err != nil {
		pool.Close()
		t.Fatalf("migrations failed: %v", err)
	}
	return pool
}

// fakeClassifier returns a fixed caries-dominant classification without any
// network call.
type fakeClassifier struct {
	err error
}

func (f fakeClassifier) Classify(_ context.Context, _ []byte, _ string) (clients.Classification, error) {
	if f.err != nil {
		return clients.Classification{}, f.err
	}
	return clients.Classification{
		Prediction: "Caries",
		Confidence: 0.83,
		Probabilities: map[string]float64{
			"Caries":              0.83,
			"Gingivitis":          0.10,
			"Calculus":            0.04,
			"Mouth Ulcer":         0.02,
			"Tooth Discoloration": 0.01,
		},
		ProcessingTimeMS: 120,
	}, nil
}

type testApp struct {
	server *httptest.Server
	store  *repository.Store
	cfg    config.Config
}

func newTestApp(t *testing.T, pool *pgxpool.Pool, classifier Classifier) testApp {
	t.Helper()
	tmp := t.TempDir()
	cfg := config.Config{
		JWTSecret:      "test-secret",
		JWTIssuer:      "test-issuer",
		AccessTokenTTL: 15 * time.Minute,
		UploadDir:      filepath.Join(tmp, "uploads"),
		ReportDir:      filepath.Join(tmp, "reports"),
		MaxUploadSize:  10 << 20,
	}
	files, err := storage.NewLocal(cfg.UploadDir, cfg.ReportDir)
	if err != nil {
		t.Fatalf("storage init: %v", err)
	}
	store := repository.NewStore(pool)
	// No Gemini key: the explainer always falls back to templates.
	explainer := clients.NewExplanationClient("", "gemini-2.5-flash", time.Second)
	server := NewServer(cfg, store, files, classifier, explainer, report.NewRenderer(), nil)
	app := httptest.NewServer(server.Router())
	t.Cleanup(app.Close)
	return testApp{server: app, store: store, cfg: cfg}
}

func (a testApp) registerPatient(t *testing.T) (username, token string) {
	t.Helper()
	suffix := uuid.NewString()[:8]
	username = "patient_" + suffix
	resp := a.doJSON(t, http.MethodPost, "/patients/register", "", map[string]string{
		"email":    fmt.Sprintf("%s@example.local", username),
		"username": username,
		"password": "dev-password",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = a.doJSON(t, http.MethodPost, "/patients/login", "", map[string]string{
		"username": username,
		"password": "dev-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", resp.StatusCode)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	resp.Body.Close()
	if tokenResp.TokenType != "bearer" || tokenResp.AccessToken == "" {
		t.Fatalf("unexpected token response: %+v", tokenResp)
	}
	return username, tokenResp.AccessToken
}

func (a testApp) adminToken(t *testing.T) string {
	t.Helper()
	suffix := uuid.NewString()[:8]
	username := "admin_" + suffix
	hash, err := crypto.HashPassword("admin-password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := a.store.CreateAdmin(context.Background(), username+"@example.local", username, hash); err != nil {
		t.Fatalf("create admin: %v", err)
	}

	resp := a.doJSON(t, http.MethodPost, "/admin/login", "", map[string]string{
		"username": username,
		"password": "admin-password",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin login: expected 200, got %d", resp.StatusCode)
	}
	var tokenResp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		t.Fatalf("decode token: %v", err)
	}
	resp.Body.Close()
	return tokenResp.AccessToken
}

func (a testApp) doJSON(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, a.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func (a testApp) uploadImage(t *testing.T, token, filename, mimeType string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	header.Set("Content-Type", mimeType)
	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write part: %v", err)
	}
	writer.Close()

	req, err := http.NewRequest(http.MethodPost, a.server.URL+"/patients/images", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do upload: %v", err)
	}
	return resp
}

func TestRegisterLoginMe(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	username, token := app.registerPatient(t)

	resp := app.doJSON(t, http.MethodGet, "/patients/me", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", resp.StatusCode)
	}
	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Email    string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	resp.Body.Close()
	if me.Username != username || me.ID == 0 {
		t.Fatalf("unexpected me payload: %+v", me)
	}

	// Duplicate registration is a 400, not a 500.
	resp = app.doJSON(t, http.MethodPost, "/patients/register", "", map[string]string{
		"email":    me.Email,
		"username": username,
		"password": "dev-password",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate register: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLoginFailuresCollapseTo401(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	username, _ := app.registerPatient(t)

	cases := []map[string]string{
		{"username": username, "password": "wrong-password"},
		{"username": "no_such_user_" + uuid.NewString()[:8], "password": "dev-password"},
	}
	var bodies []string
	for _, body := range cases {
		resp := app.doJSON(t, http.MethodPost, "/patients/login", "", body)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		bodies = append(bodies, string(data))
	}
	// Wrong password and unknown user must be indistinguishable.
	if bodies[0] != bodies[1] {
		t.Fatalf("401 bodies differ: %q vs %q", bodies[0], bodies[1])
	}
}

func TestAuthMiddlewareRejects(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	for _, token := range []string{"", "garbage", "Bearer-less"} {
		resp := app.doJSON(t, http.MethodGet, "/patients/me", token, nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401 for token %q, got %d", token, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// Admin tokens do not open patient routes.
	adminTok := app.adminToken(t)
	resp := app.doJSON(t, http.MethodGet, "/patients/me", adminTok, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for admin token on patient route, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUploadPipeline(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	_, token := app.registerPatient(t)

	resp := app.uploadImage(t, token, "smile.jpg", "image/jpeg", []byte("fake-jpeg-bytes"))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("upload: expected 200, got %d: %s", resp.StatusCode, body)
	}
	var upload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	resp.Body.Close()

	if upload.PrimaryFinding.Condition != "Caries" {
		t.Errorf("expected Caries primary, got %s", upload.PrimaryFinding.Condition)
	}
	if upload.PrimaryFinding.ConfidencePercentage != 83.0 {
		t.Errorf("expected 83.0, got %v", upload.PrimaryFinding.ConfidencePercentage)
	}
	if upload.RiskLevel != "High" {
		t.Errorf("expected High risk, got %s", upload.RiskLevel)
	}
	if len(upload.AllFindings) != 5 {
		t.Errorf("expected 5 findings, got %d", len(upload.AllFindings))
	}
	if upload.Explanation.AIGenerated {
		t.Errorf("template explanation must not be marked AI generated")
	}
	if len(upload.Recommendations) == 0 {
		t.Errorf("expected recommendations")
	}
	if upload.AnalysisID == "" || upload.ReportID == "" {
		t.Errorf("expected analysis and report ids: %+v", upload)
	}

	// Image metadata and binary.
	resp = app.doJSON(t, http.MethodGet, "/patients/images", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list images: expected 200, got %d", resp.StatusCode)
	}
	var images []imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&images); err != nil {
		t.Fatalf("decode images: %v", err)
	}
	resp.Body.Close()
	if len(images) != 1 || images[0].ID != upload.Image.ID {
		t.Fatalf("unexpected image list: %+v", images)
	}

	resp = app.doJSON(t, http.MethodGet, "/patients/images/"+upload.Image.ID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get image: expected 200, got %d", resp.StatusCode)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != "fake-jpeg-bytes" {
		t.Fatalf("image binary mismatch")
	}

	// Analysis detail.
	resp = app.doJSON(t, http.MethodGet, "/patients/images/"+upload.Image.ID+"/analysis", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get analysis: expected 200, got %d", resp.StatusCode)
	}
	var analysis analysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&analysis); err != nil {
		t.Fatalf("decode analysis: %v", err)
	}
	resp.Body.Close()
	if analysis.Prediction != "Caries" || analysis.Probabilities["Gingivitis"] != 0.10 {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}

	// Report JSON and PDF.
	resp = app.doJSON(t, http.MethodGet, "/patients/reports/"+upload.ReportID, token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get report: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.doJSON(t, http.MethodGet, "/patients/reports/"+upload.ReportID+"/pdf", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get pdf: expected 200, got %d", resp.StatusCode)
	}
	pdfData, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.HasPrefix(string(pdfData), "%PDF") {
		t.Fatalf("served file is not a PDF")
	}
}

func TestUploadRejectsUnsupportedType(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	_, token := app.registerPatient(t)

	resp := app.uploadImage(t, token, "notes.txt", "text/plain", []byte("hello"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for text upload, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUploadClassifierFailureIs500(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{err: fmt.Errorf("model down")})

	_, token := app.registerPatient(t)

	resp := app.uploadImage(t, token, "smile.jpg", "image/jpeg", []byte("fake-jpeg-bytes"))
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 when classifier is down, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The stored file stays behind even though the analysis failed.
	entries, err := os.ReadDir(app.cfg.UploadDir)
	if err != nil || len(entries) == 0 {
		t.Fatalf("expected orphaned upload directory, err=%v entries=%d", err, len(entries))
	}

	// No image rows were committed.
	resp = app.doJSON(t, http.MethodGet, "/patients/images", token, nil)
	var images []imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&images); err != nil {
		t.Fatalf("decode images: %v", err)
	}
	resp.Body.Close()
	if len(images) != 0 {
		t.Fatalf("expected no image rows after classifier failure, got %d", len(images))
	}
}

func TestOwnershipIs404(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	_, ownerToken := app.registerPatient(t)
	_, otherToken := app.registerPatient(t)

	resp := app.uploadImage(t, ownerToken, "smile.jpg", "image/jpeg", []byte("fake-jpeg-bytes"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", resp.StatusCode)
	}
	var upload uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&upload); err != nil {
		t.Fatalf("decode upload: %v", err)
	}
	resp.Body.Close()

	paths := []string{
		"/patients/images/" + upload.Image.ID,
		"/patients/images/" + upload.Image.ID + "/analysis",
		"/patients/reports/" + upload.ReportID,
		"/patients/reports/" + upload.ReportID + "/pdf",
	}
	for _, path := range paths {
		resp := app.doJSON(t, http.MethodGet, path, otherToken, nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("expected 404 for %s as other patient, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestAdminEndpoints(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	username, patientToken := app.registerPatient(t)
	adminTok := app.adminToken(t)

	// Patient tokens do not open admin routes.
	resp := app.doJSON(t, http.MethodGet, "/admin/patients", patientToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for patient token on admin route, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.doJSON(t, http.MethodGet, "/admin/patients?skip=0&limit=1000", adminTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list patients: expected 200, got %d", resp.StatusCode)
	}
	var patients []patientResponse
	if err := json.NewDecoder(resp.Body).Decode(&patients); err != nil {
		t.Fatalf("decode patients: %v", err)
	}
	resp.Body.Close()

	var patientID int64
	for _, p := range patients {
		if p.Username == username {
			patientID = p.ID
		}
	}
	if patientID == 0 {
		t.Fatalf("registered patient missing from admin list")
	}

	// Upload so the delete has rows to cascade over.
	resp = app.uploadImage(t, patientToken, "smile.jpg", "image/jpeg", []byte("fake-jpeg-bytes"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.doJSON(t, http.MethodGet, fmt.Sprintf("/admin/patients/%d/images", patientID), adminTok, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin patient images: expected 200, got %d", resp.StatusCode)
	}
	var images []imageResponse
	if err := json.NewDecoder(resp.Body).Decode(&images); err != nil {
		t.Fatalf("decode images: %v", err)
	}
	resp.Body.Close()
	if len(images) != 1 {
		t.Fatalf("expected 1 image, got %d", len(images))
	}

	resp = app.doJSON(t, http.MethodDelete, fmt.Sprintf("/admin/patients/%d", patientID), adminTok, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = app.doJSON(t, http.MethodDelete, fmt.Sprintf("/admin/patients/%d", patientID), adminTok, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The deleted patient's token no longer works.
	resp = app.doJSON(t, http.MethodGet, "/patients/me", patientToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealth(t *testing.T) {
	pool := openTestDB(t)
	if pool == nil {
		return
	}
	defer pool.Close()
	app := newTestApp(t, pool, fakeClassifier{})

	resp, err := http.Get(app.server.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
