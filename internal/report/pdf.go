package report

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"teledent/server/internal/model"
)

// Renderer writes patient analysis reports as A4 PDFs.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// ReportData carries everything a report needs; findings are expected to be
// sorted by confidence descending.
type ReportData struct {
	PatientName string
	GeneratedAt time.Time
	Findings    []FindingRow
	Explanation model.Explanation
}

type FindingRow struct {
	Condition            string
	ConfidencePercentage float64
	RiskLevel            string
}

var boldRe = regexp.MustCompile(`\*\*(.+?)\*\*`)
var numberedRe = regexp.MustCompile(`^\d+\.`)

// Render writes the report to path.
func (r *Renderer) Render(data ReportData, path string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()

	// Title
	pdf.SetFont("Helvetica", "B", 24)
	pdf.SetTextColor(44, 62, 80)
	pdf.CellFormat(0, 12, "Welcome to Teledent AI", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 6, fmt.Sprintf("Patient: %s", data.PatientName), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Date: %s", data.GeneratedAt.Format("2006-01-02 15:04")), "", 1, "L", false, 0, "")
	pdf.Ln(10)

	r.heading(pdf, "Analysis Results")
	if len(data.Findings) > 0 {
		primary := data.Findings[0]
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, fmt.Sprintf("Primary Finding: %s (Confidence: %.1f%% - %s)",
			primary.Condition, primary.ConfidencePercentage, primary.RiskLevel), "", "L", false)
		pdf.Ln(6)
	}

	r.heading(pdf, "Detailed Analysis")
	r.findingsTable(pdf, data.Findings)
	pdf.Ln(10)

	r.heading(pdf, "Recommendations")
	recommendations := data.Explanation.Recommendations
	if len(recommendations) == 0 {
		recommendations = model.FallbackRecommendations(data.Explanation.RiskLevel)
	}
	pdf.SetFont("Helvetica", "", 11)
	for _, rec := range recommendations {
		pdf.MultiCell(0, 6, "- "+rec, "", "L", false)
		pdf.Ln(1)
	}
	pdf.Ln(8)

	if data.Explanation.Explanation != "" {
		r.heading(pdf, "AI Analysis Summary")
		r.renderExplanation(pdf, data.Explanation.Explanation)
		pdf.Ln(6)

		pdf.SetFont("Helvetica", "I", 10)
		pdf.MultiCell(0, 5, "Thank you for choosing Teledent AI for your dental health analysis.", "", "L", false)
	}
	pdf.Ln(4)
	pdf.SetFont("Helvetica", "I", 10)
	pdf.MultiCell(0, 5, "This report is AI-generated and should be reviewed by a dental professional.", "", "L", false)

	return pdf.OutputFileAndClose(path)
}

func (r *Renderer) heading(pdf *gofpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "B", 14)
	pdf.SetTextColor(52, 73, 94)
	pdf.CellFormat(0, 8, text, "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
	pdf.Ln(2)
}

func (r *Renderer) findingsTable(pdf *gofpdf.Fpdf, findings []FindingRow) {
	const (
		condWidth = 70.0
		confWidth = 45.0
		riskWidth = 45.0
	)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(52, 152, 219)
	pdf.SetTextColor(255, 255, 255)
	pdf.CellFormat(condWidth, 9, "Disease", "1", 0, "C", true, 0, "")
	pdf.CellFormat(confWidth, 9, "Confidence", "1", 0, "C", true, 0, "")
	pdf.CellFormat(riskWidth, 9, "Risk Level", "1", 1, "C", true, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetFillColor(245, 245, 220)
	pdf.SetTextColor(0, 0, 0)
	for _, f := range findings {
		pdf.CellFormat(condWidth, 8, f.Condition, "1", 0, "C", true, 0, "")
		pdf.CellFormat(confWidth, 8, fmt.Sprintf("%.1f%%", f.ConfidencePercentage), "1", 0, "C", true, 0, "")
		pdf.CellFormat(riskWidth, 8, f.RiskLevel, "1", 1, "C", true, 0, "")
	}
}

// renderExplanation lays out markdown-ish LLM output: blank lines become
// spacing, "* " lines become bullets, numbered lines get their own block,
// and **bold** spans switch to the bold face.
func (r *Renderer) renderExplanation(pdf *gofpdf.Fpdf, text string) {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			pdf.Ln(3)
		case strings.HasPrefix(line, "* "):
			pdf.SetX(pdf.GetX() + 6)
			r.styledLine(pdf, "- "+line[2:])
		case numberedRe.MatchString(line):
			pdf.Ln(2)
			r.styledLine(pdf, line)
		default:
			r.styledLine(pdf, line)
			pdf.Ln(1)
		}
	}
}

// styledLine writes one line, toggling bold for **spans**.
func (r *Renderer) styledLine(pdf *gofpdf.Fpdf, line string) {
	pdf.SetFont("Helvetica", "", 11)
	rest := line
	for {
		loc := boldRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		if loc[0] > 0 {
			pdf.Write(5, rest[:loc[0]])
		}
		pdf.SetFont("Helvetica", "B", 11)
		pdf.Write(5, rest[loc[2]:loc[3]])
		pdf.SetFont("Helvetica", "", 11)
		rest = rest[loc[1]:]
	}
	if rest != "" {
		pdf.Write(5, rest)
	}
	pdf.Ln(5)
}
