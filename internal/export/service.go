// Package export produces downloadable renditions of stored extraction
// results in JSON, CSV and XLSX form.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
	"github.com/egtimer/invoice-ai-processor/internal/repository"
)

// Format selects the export rendition.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// ContentType maps a format to its response content type.
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/json"
	}
}

// Service is a small façade over the invoice repository that renders exports.
type Service struct {
	invoices repository.InvoiceRepository
	logger   *slog.Logger
}

func NewService(invoices repository.InvoiceRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{invoices: invoices, logger: logger}
}

// Export renders all invoices matching the filter in the given format.
func (s *Service) Export(ctx context.Context, format Format, filter repository.InvoiceFilter) ([]byte, error) {
	start := time.Now()

	recs, err := s.invoices.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	// Explicitly requested documents must all have a stored result.
	if n := len(filter.DocumentIDs); n > 0 && len(recs) < n {
		return nil, common.WrapError(common.ErrUnknownDocument, fmt.Sprintf("%d of %d requested documents have no stored result", n-len(recs), n))
	}

	var out []byte
	switch format {
	case FormatJSON:
		out, err = json.MarshalIndent(recs, "", "  ")
	case FormatCSV:
		out, err = renderCSV(recs)
	case FormatXLSX:
		out, err = renderXLSX(recs)
	default:
		return nil, common.WrapError(common.ErrInvalidInput, fmt.Sprintf("unsupported export format %q", format))
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("export.ok",
		"format", string(format),
		"rows", len(recs),
		"bytes", len(out),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

var exportHeaders = []string{
	"Invoice Number",
	"Invoice Date",
	"Due Date",
	"Supplier",
	"Supplier Tax ID",
	"Client",
	"Subtotal",
	"Tax",
	"Total",
	"Currency",
	"Confidence",
	"Requires Review",
	"Method",
}

func exportRow(r entity.InvoiceJSON) []string {
	due := ""
	if r.DueDate != nil {
		due = *r.DueDate
	}
	supplierTaxID := ""
	if r.Supplier.TaxID != nil {
		supplierTaxID = *r.Supplier.TaxID
	}
	return []string{
		r.InvoiceNumber,
		r.InvoiceDate,
		due,
		r.Supplier.Name,
		supplierTaxID,
		r.Client.Name,
		strconv.FormatFloat(r.Subtotal, 'f', 2, 64),
		strconv.FormatFloat(r.TaxAmount, 'f', 2, 64),
		strconv.FormatFloat(r.Total, 'f', 2, 64),
		r.Currency,
		strconv.FormatFloat(r.ConfidenceScore, 'f', 2, 64),
		strconv.FormatBool(r.RequiresReview),
		r.ExtractionMethod,
	}
}

func renderCSV(recs []entity.InvoiceJSON) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(exportHeaders); err != nil {
		return nil, err
	}
	for _, r := range recs {
		if err := w.Write(exportRow(r)); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func renderXLSX(recs []entity.InvoiceJSON) ([]byte, error) {
	f := excelize.NewFile()
	const sheet = "Invoices"
	if index, _ := f.GetSheetIndex(sheet); index == -1 {
		if _, err := f.NewSheet(sheet); err != nil {
			return nil, err
		}
	}
	activeIndex, _ := f.GetSheetIndex(sheet)
	f.SetActiveSheet(activeIndex)

	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	row := 2
	for _, r := range recs {
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.InvoiceNumber)
		write(2, r.InvoiceDate)
		if r.DueDate != nil {
			write(3, *r.DueDate)
		}
		write(4, r.Supplier.Name)
		if r.Supplier.TaxID != nil {
			write(5, *r.Supplier.TaxID)
		}
		write(6, r.Client.Name)
		write(7, r.Subtotal)
		write(8, r.TaxAmount)
		write(9, r.Total)
		write(10, r.Currency)
		write(11, r.ConfidenceScore)
		write(12, r.RequiresReview)
		write(13, r.ExtractionMethod)
		row++
	}

	_ = f.SetColWidth(sheet, "A", "A", 18) // invoice number
	_ = f.SetColWidth(sheet, "B", "C", 12) // dates
	_ = f.SetColWidth(sheet, "D", "F", 28) // parties
	_ = f.SetColWidth(sheet, "G", "I", 12) // amounts

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}
