// Package export writes the intake sidecar records to an xlsx workbook for review.
package export

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"payproof/models"
	"payproof/pkg/intake"
)

const sheet = "Screenshots"

var headers = []string{
	"Uploaded At",
	"File",
	"Original Name",
	"User ID",
	"User Email",
	"Size (bytes)",
	"MIME Type",
	"Package",
	"Transaction ID",
	"Scan Status",
}

// Workbook builds the sheet. scans may be nil; when present the OCR outcome of
// each file is added.
func Workbook(records []intake.Record, scans map[string]models.ScreenshotScan) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	last, _ := excelize.CoordinatesToCellName(len(headers), 1)
	_ = f.SetCellStyle(sheet, "A1", last, bold)

	for i, r := range records {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		uploaded := r.UploadedAt
		if t := r.UploadTime(); !t.IsZero() {
			uploaded = t.UTC().Format(time.DateTime)
		}
		write(1, uploaded)
		write(2, r.FileName)
		write(3, r.OriginalName)
		write(4, r.UserID)
		write(5, r.UserEmail)
		write(6, r.Size)
		write(7, r.MIMEType)
		if len(r.PackageDetails) > 0 && string(r.PackageDetails) != "null" {
			write(8, string(r.PackageDetails))
		}
		if s, ok := scans[r.FileName]; ok {
			write(9, s.TransactionID)
			write(10, s.Status)
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 20)
	_ = f.SetColWidth(sheet, "B", "C", 36)
	_ = f.SetColWidth(sheet, "D", "E", 24)
	_ = f.SetColWidth(sheet, "F", "G", 12)
	_ = f.SetColWidth(sheet, "H", "H", 48)
	_ = f.SetColWidth(sheet, "I", "J", 20)
	return f, nil
}

// Write renders the workbook to w.
func Write(w io.Writer, records []intake.Record, scans map[string]models.ScreenshotScan) error {
	f, err := Workbook(records, scans)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

// WriteFile saves the workbook at path.
func WriteFile(path string, records []intake.Record, scans map[string]models.ScreenshotScan) error {
	f, err := Workbook(records, scans)
	if err != nil {
		return fmt.Errorf("build workbook: %w", err)
	}
	defer f.Close()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
