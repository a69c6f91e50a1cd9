package interfaces

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
	"github.com/xuri/excelize/v2"

	fiscal "verifactu-bridge/internal/fiscal/domain"
	"verifactu-bridge/internal/observability/metrics"
)

// BuildAttemptsXLSX renders an invoice's submission audit trail.
func BuildAttemptsXLSX(state *fiscal.State, attempts []fiscal.Attempt) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()
	summarySheet := "summary"
	attemptsSheet := "attempts"
	f.SetSheetName("Sheet1", summarySheet)
	f.NewSheet(attemptsSheet)

	_ = f.SetCellValue(summarySheet, "A1", "Fiscal Submission Log")
	_ = f.SetCellValue(summarySheet, "A3", "Invoice")
	_ = f.SetCellValue(summarySheet, "B3", state.InvoiceNumber)
	_ = f.SetCellValue(summarySheet, "A4", "Issuer")
	_ = f.SetCellValue(summarySheet, "B4", state.IssuerID)
	_ = f.SetCellValue(summarySheet, "A5", "Status")
	_ = f.SetCellValue(summarySheet, "B5", string(state.Status))
	_ = f.SetCellValue(summarySheet, "A6", "Incident")
	_ = f.SetCellValue(summarySheet, "B6", state.HasIncident)
	_ = f.SetCellValue(summarySheet, "A7", "Confirmation Code")
	_ = f.SetCellValue(summarySheet, "B7", state.ConfirmationCode)
	if !state.GeneratedAt.IsZero() {
		_ = f.SetCellValue(summarySheet, "A8", "Generated")
		_ = f.SetCellValue(summarySheet, "B8", state.GeneratedAt.Format(time.RFC3339))
	}

	_ = f.SetCellValue(attemptsSheet, "A1", "Attempted At")
	_ = f.SetCellValue(attemptsSheet, "B1", "Outcome")
	_ = f.SetCellValue(attemptsSheet, "C1", "Error Code")
	_ = f.SetCellValue(attemptsSheet, "D1", "Detail")
	_ = f.SetCellValue(attemptsSheet, "E1", "Confirmation Code")
	for i, attempt := range attempts {
		row := i + 2
		_ = f.SetCellValue(attemptsSheet, fmt.Sprintf("A%d", row), attempt.AttemptedAt.Format(time.RFC3339))
		_ = f.SetCellValue(attemptsSheet, fmt.Sprintf("B%d", row), attempt.Outcome)
		_ = f.SetCellValue(attemptsSheet, fmt.Sprintf("C%d", row), attempt.ErrorCode)
		_ = f.SetCellValue(attemptsSheet, fmt.Sprintf("D%d", row), attempt.ErrorDetail)
		_ = f.SetCellValue(attemptsSheet, fmt.Sprintf("E%d", row), attempt.ConfirmationCode)
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		metrics.ObserveExport("xlsx", metrics.ResultError, time.Since(start))
		return nil, err
	}
	metrics.ObserveExport("xlsx", metrics.ResultSuccess, time.Since(start))
	return buf.Bytes(), nil
}

// BuildVerificationPDF renders a verification sheet for an accepted record:
// the chained fingerprint, the authority confirmation and the QR payload the
// host prints on the invoice document.
func BuildVerificationPDF(record *fiscal.Record, state *fiscal.State, verificationBaseURL string) ([]byte, error) {
	start := time.Now()
	verifyURL := fiscal.VerificationURL(verificationBaseURL, *record)
	qr, err := qrcode.Encode(verifyURL, qrcode.Medium, 256)
	if err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "VeriFactu Verification")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Invoice: %s", record.InvoiceNumber))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Issuer: %s", record.IssuerID))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Issue Date: %s", record.IssueDate.Format("02-01-2006")))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Total: %.2f", record.TotalAmount))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Fingerprint: %s", record.Fingerprint))
	pdf.Ln(5)
	if state != nil && state.ConfirmationCode != "" {
		pdf.Cell(0, 6, fmt.Sprintf("Confirmation: %s", state.ConfirmationCode))
		pdf.Ln(5)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Generated: %s", record.GeneratedAt.Format(time.RFC3339)))
	pdf.Ln(8)

	options := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("verification-qr", options, bytes.NewReader(qr))
	pdf.ImageOptions("verification-qr", 20, pdf.GetY(), 40, 40, false, options, 0, "")
	pdf.SetY(pdf.GetY() + 44)
	pdf.SetFont("Arial", "", 8)
	pdf.Cell(0, 4, verifyURL)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		metrics.ObserveExport("pdf", metrics.ResultError, time.Since(start))
		return nil, err
	}
	metrics.ObserveExport("pdf", metrics.ResultSuccess, time.Since(start))
	return buf.Bytes(), nil
}
