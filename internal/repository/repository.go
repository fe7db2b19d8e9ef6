package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"teledent/server/internal/model"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// WithTx runs fn inside a single transaction; the upload pipeline uses it to
// group the image, analysis and report inserts.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// IsUniqueViolation reports whether err is a unique-constraint violation,
// used to map duplicate registrations to a client error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Patients

func (s *Store) CreatePatient(ctx context.Context, email, username, passwordHash string) (model.Patient, error) {
	patient := model.Patient{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO patients (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, is_active, created_at
	`, email, username, passwordHash)
	err := row.Scan(&patient.ID, &patient.IsActive, &patient.CreatedAt)
	return patient, err
}

func (s *Store) GetPatientByUsername(ctx context.Context, username string) (model.Patient, error) {
	var patient model.Patient
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, is_active, created_at
		FROM patients
		WHERE username = $1
	`, username)
	err := row.Scan(&patient.ID, &patient.Email, &patient.Username, &patient.PasswordHash, &patient.IsActive, &patient.CreatedAt)
	return patient, err
}

func (s *Store) GetPatientByID(ctx context.Context, patientID int64) (model.Patient, error) {
	var patient model.Patient
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, is_active, created_at
		FROM patients
		WHERE id = $1
	`, patientID)
	err := row.Scan(&patient.ID, &patient.Email, &patient.Username, &patient.PasswordHash, &patient.IsActive, &patient.CreatedAt)
	return patient, err
}

func (s *Store) ListPatients(ctx context.Context, skip, limit int) ([]model.Patient, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, email, username, password_hash, is_active, created_at
		FROM patients
		ORDER BY id
		OFFSET $1 LIMIT $2
	`, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var patients []model.Patient
	for rows.Next() {
		var patient model.Patient
		if err := rows.Scan(&patient.ID, &patient.Email, &patient.Username, &patient.PasswordHash, &patient.IsActive, &patient.CreatedAt); err != nil {
			return nil, err
		}
		patients = append(patients, patient)
	}
	return patients, rows.Err()
}

// DeletePatient removes the patient row; images, analyses and reports go
// with it through the schema's ON DELETE CASCADE.
func (s *Store) DeletePatient(ctx context.Context, patientID int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM patients WHERE id = $1`, patientID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Admins

func (s *Store) CreateAdmin(ctx context.Context, email, username, passwordHash string) (model.Admin, error) {
	admin := model.Admin{
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO admins (email, username, password_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, email, username, passwordHash)
	err := row.Scan(&admin.ID, &admin.CreatedAt)
	return admin, err
}

func (s *Store) GetAdminByUsername(ctx context.Context, username string) (model.Admin, error) {
	var admin model.Admin
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, username, password_hash, created_at
		FROM admins
		WHERE username = $1
	`, username)
	err := row.Scan(&admin.ID, &admin.Email, &admin.Username, &admin.PasswordHash, &admin.CreatedAt)
	return admin, err
}

// Images

func (s *Store) CreateImageTx(ctx context.Context, tx pgx.Tx, image *model.PatientImage) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO patient_images (uuid, patient_id, filename, original_name, path, size_bytes, mime_type, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, image.UUID, image.PatientID, image.Filename, image.OriginalName, image.Path, image.SizeBytes, image.MimeType, image.UploadedAt)
	return row.Scan(&image.ID)
}

func (s *Store) GetImageByUUID(ctx context.Context, patientID int64, imageUUID string) (model.PatientImage, error) {
	var image model.PatientImage
	row := s.pool.QueryRow(ctx, `
		SELECT id, uuid, patient_id, filename, original_name, path, size_bytes, mime_type, uploaded_at
		FROM patient_images
		WHERE uuid = $1 AND patient_id = $2
	`, imageUUID, patientID)
	err := row.Scan(&image.ID, &image.UUID, &image.PatientID, &image.Filename, &image.OriginalName, &image.Path, &image.SizeBytes, &image.MimeType, &image.UploadedAt)
	return image, err
}

func (s *Store) ListImagesByPatient(ctx context.Context, patientID int64) ([]model.PatientImage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, uuid, patient_id, filename, original_name, path, size_bytes, mime_type, uploaded_at
		FROM patient_images
		WHERE patient_id = $1
		ORDER BY uploaded_at DESC, id DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []model.PatientImage
	for rows.Next() {
		var image model.PatientImage
		if err := rows.Scan(&image.ID, &image.UUID, &image.PatientID, &image.Filename, &image.OriginalName, &image.Path, &image.SizeBytes, &image.MimeType, &image.UploadedAt); err != nil {
			return nil, err
		}
		images = append(images, image)
	}
	return images, rows.Err()
}

// Analyses

func (s *Store) CreateAnalysisTx(ctx context.Context, tx pgx.Tx, analysis *model.ImageAnalysis) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO image_analyses (uuid, image_id, prediction, confidence, probabilities, processing_time_ms, explanation, pdf_path, analyzed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, analysis.UUID, analysis.ImageID, analysis.Prediction, analysis.Confidence, analysis.Probabilities, analysis.ProcessingTimeMS, analysis.Explanation, analysis.PDFPath, analysis.AnalyzedAt)
	return row.Scan(&analysis.ID)
}

// GetAnalysisByImageUUID resolves ownership by joining through the image's
// patient foreign key rather than trusting a caller-supplied patient id.
func (s *Store) GetAnalysisByImageUUID(ctx context.Context, patientID int64, imageUUID string) (model.ImageAnalysis, error) {
	var analysis model.ImageAnalysis
	row := s.pool.QueryRow(ctx, `
		SELECT a.id, a.uuid, a.image_id, a.prediction, a.confidence, a.probabilities, a.processing_time_ms, a.explanation, a.pdf_path, a.analyzed_at
		FROM image_analyses a
		JOIN patient_images i ON i.id = a.image_id
		WHERE i.uuid = $1 AND i.patient_id = $2
	`, imageUUID, patientID)
	err := row.Scan(&analysis.ID, &analysis.UUID, &analysis.ImageID, &analysis.Prediction, &analysis.Confidence, &analysis.Probabilities, &analysis.ProcessingTimeMS, &analysis.Explanation, &analysis.PDFPath, &analysis.AnalyzedAt)
	return analysis, err
}

// Reports

func (s *Store) CreateReportTx(ctx context.Context, tx pgx.Tx, report *model.PatientReport) error {
	row := tx.QueryRow(ctx, `
		INSERT INTO patient_reports (uuid, patient_id, analysis_id, pdf_path, prediction, confidence, risk_level, recommendations, explanation, generated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, report.UUID, report.PatientID, report.AnalysisID, report.PDFPath, report.Prediction, report.Confidence, report.RiskLevel, report.Recommendations, report.Explanation, report.GeneratedAt)
	return row.Scan(&report.ID)
}

func (s *Store) GetReportByUUID(ctx context.Context, patientID int64, reportUUID string) (model.PatientReport, error) {
	var report model.PatientReport
	row := s.pool.QueryRow(ctx, `
		SELECT id, uuid, patient_id, analysis_id, pdf_path, prediction, confidence, risk_level, recommendations, explanation, generated_at
		FROM patient_reports
		WHERE uuid = $1 AND patient_id = $2
	`, reportUUID, patientID)
	err := row.Scan(&report.ID, &report.UUID, &report.PatientID, &report.AnalysisID, &report.PDFPath, &report.Prediction, &report.Confidence, &report.RiskLevel, &report.Recommendations, &report.Explanation, &report.GeneratedAt)
	return report, err
}

func (s *Store) ListReportsByPatient(ctx context.Context, patientID int64) ([]model.PatientReport, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, uuid, patient_id, analysis_id, pdf_path, prediction, confidence, risk_level, recommendations, explanation, generated_at
		FROM patient_reports
		WHERE patient_id = $1
		ORDER BY generated_at DESC, id DESC
	`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reports []model.PatientReport
	for rows.Next() {
		var report model.PatientReport
		if err := rows.Scan(&report.ID, &report.UUID, &report.PatientID, &report.AnalysisID, &report.PDFPath, &report.Prediction, &report.Confidence, &report.RiskLevel, &report.Recommendations, &report.Explanation, &report.GeneratedAt); err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}
