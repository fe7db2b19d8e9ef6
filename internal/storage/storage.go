package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local persists uploaded images under uploadDir/patient_{id}/ and rendered
// PDFs under reportDir/. Stored paths are persisted verbatim in the
// database and later used to serve the files back.
type Local struct {
	uploadDir string
	reportDir string
}

func NewLocal(uploadDir, reportDir string) (*Local, error) {
	for _, dir := range []string{uploadDir, reportDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
	}
	return &Local{uploadDir: uploadDir, reportDir: reportDir}, nil
}

// SaveUpload writes the image into the patient's directory, named by the
// image's external identifier, and returns the stored filename and path.
func (l *Local) SaveUpload(patientID int64, imageUUID, originalName string, r io.Reader) (string, string, int64, error) {
	ext := strings.ToLower(filepath.Ext(originalName))
	filename := imageUUID + ext

	dir := filepath.Join(l.uploadDir, fmt.Sprintf("patient_%d", patientID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", "", 0, fmt.Errorf("create patient directory: %w", err)
	}

	path := filepath.Join(dir, filename)
	dst, err := os.Create(path)
	if err != nil {
		return "", "", 0, fmt.Errorf("create file: %w", err)
	}
	defer dst.Close()

	size, err := io.Copy(dst, r)
	if err != nil {
		os.Remove(path)
		return "", "", 0, fmt.Errorf("save file: %w", err)
	}

	return filename, path, size, nil
}

// ReadFile reads a stored file back into memory; the upload pipeline does
// this to hand the raw bytes to the classifier.
func (l *Local) ReadFile(path string) ([]byte, error) {
	if err := l.validate(path); err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// Open returns the stored file for serving.
func (l *Local) Open(path string) (*os.File, error) {
	if err := l.validate(path); err != nil {
		return nil, err
	}
	return os.Open(path)
}

// ReportPath builds the destination path for a rendered PDF.
func (l *Local) ReportPath(reportUUID string, generatedAt time.Time) string {
	return filepath.Join(l.reportDir, fmt.Sprintf("report_%s_%d.pdf", reportUUID, generatedAt.Unix()))
}

func (l *Local) validate(path string) error {
	clean := filepath.Clean(path)
	if strings.Contains(clean, "..") {
		return fmt.Errorf("invalid path")
	}
	if !strings.HasPrefix(clean, filepath.Clean(l.uploadDir)+string(os.PathSeparator)) &&
		!strings.HasPrefix(clean, filepath.Clean(l.reportDir)+string(os.PathSeparator)) {
		return fmt.Errorf("path outside storage directories")
	}
	return nil
}
