package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/egtimer/invoice-ai-processor/constants"
)

// UnknownCompany is the placeholder name for a company that could not be
// identified. Kept stable because extraction heuristics key off it.
const UnknownCompany = "UNKNOWN"

// Document describes an uploaded invoice file. Created on upload, read-only
// thereafter; the raw bytes live in the storage collaborator under StorageKey.
type Document struct {
	ID         uuid.UUID
	Filename   string
	MIMEType   string
	Size       int64
	StorageKey string
	UploadedAt time.Time
}

// CompanyInfo holds the extracted identity of a supplier or client. Each
// constituent is a confidence-scored field.
type CompanyInfo struct {
	Name       Field[string]
	TaxID      Field[string]
	Address    Field[string]
	City       Field[string]
	PostalCode Field[string]
}

// Confidence aggregates the company fields into one score. The rule is a
// fixed weighted average: name 0.50, tax identifier 0.25, and the mean of
// the three address fields 0.25.
func (c CompanyInfo) Confidence() float64 {
	addr := (c.Address.Confidence + c.City.Confidence + c.PostalCode.Confidence) / 3
	return 0.50*c.Name.Confidence + 0.25*c.TaxID.Confidence + 0.25*addr
}

// Known reports whether a usable company name was extracted.
func (c CompanyInfo) Known() bool {
	return c.Name.Present() && c.Name.Value != UnknownCompany
}

// LineItem is one product or service row on the invoice.
type LineItem struct {
	Description Field[string]
	Quantity    Field[float64]
	UnitPrice   Field[float64]
	LineTotal   Field[float64]
}

// Confidence is the mean of the line's constituent field confidences.
func (l LineItem) Confidence() float64 {
	return (l.Description.Confidence + l.Quantity.Confidence +
		l.UnitPrice.Confidence + l.LineTotal.Confidence) / 4
}

// InvoiceRecord is the structured extraction result for one document.
type InvoiceRecord struct {
	InvoiceNumber Field[string]
	InvoiceDate   Field[time.Time]
	DueDate       *Field[time.Time]

	Supplier CompanyInfo
	Client   CompanyInfo

	Lines []LineItem

	Subtotal  Field[float64]
	TaxAmount Field[float64]
	Total     Field[float64]
	Currency  Field[string]

	ConfidenceScore float64
	RequiresReview  bool
	Method          constants.ExtractionMethod
	ExtractedAt     time.Time
}

// ProcessingJob tracks one processing attempt for a document. The coordinator
// owns the job for the lifetime of its run; readers only ever see snapshots.
type ProcessingJob struct {
	DocumentID uuid.UUID
	Status     constants.JobStatus
	Progress   float64 // 0..100
	Message    string
	Error      string
	Record     *InvoiceJSON
	Method     constants.ExtractionMethod
	StartedAt  time.Time
	UpdatedAt  time.Time
}
