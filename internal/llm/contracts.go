package llm

import (
	"context"

	"github.com/egtimer/invoice-ai-processor/internal/docparse"
)

// InvoiceFields is the normalized shape we want from the LLM.
type InvoiceFields struct {
	InvoiceNumber string         `json:"invoice_number"`
	InvoiceDate   string         `json:"invoice_date"`        // YYYY-MM-DD
	DueDate       string         `json:"due_date,omitempty"`  // YYYY-MM-DD
	Supplier      CompanyFields  `json:"supplier"`
	Client        CompanyFields  `json:"client"`
	Lines         []LineFields   `json:"line_items,omitempty"`
	Subtotal      string         `json:"subtotal,omitempty"` // decimal
	TaxAmount     string         `json:"tax_amount,omitempty"`
	Total         string         `json:"total"` // decimal
	CurrencyCode  string         `json:"currency_code"`
	Confidence    float64        `json:"confidence,omitempty"` // optional (0..1)
}

type CompanyFields struct {
	Name       string `json:"name"`
	TaxID      string `json:"tax_id,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type LineFields struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity,omitempty"`
	UnitPrice   string `json:"unit_price,omitempty"`
	LineTotal   string `json:"line_total"`
}

type ExtractRequest struct {
	Text         string
	Tables       []docparse.Table
	FilenameHint string
}

// FieldExtractor is the interface the pipeline depends on for escalation.
type FieldExtractor interface {
	ExtractFields(ctx context.Context, req ExtractRequest) (InvoiceFields, []byte /*rawJSON*/, error)
	Configured() bool
}
