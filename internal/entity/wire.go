package entity

import (
	"time"
)

// InvoiceJSON is the persisted and API-facing shape of an InvoiceRecord.
// Monetary fields are decimal numbers in the invoice's stated currency;
// confidence_score is in [0,1]; extraction_method is local|llm|hybrid.
type InvoiceJSON struct {
	InvoiceNumber    string      `json:"invoice_number"`
	InvoiceDate      string      `json:"invoice_date"` // YYYY-MM-DD
	DueDate          *string     `json:"due_date,omitempty"`
	Supplier         CompanyJSON `json:"supplier"`
	Client           CompanyJSON `json:"client"`
	Lines            []LineJSON  `json:"lines"`
	Subtotal         float64     `json:"subtotal"`
	TaxAmount        float64     `json:"tax_amount"`
	Total            float64     `json:"total"`
	Currency         string      `json:"currency"`
	ConfidenceScore  float64     `json:"confidence_score"`
	RequiresReview   bool        `json:"requires_review"`
	ExtractionMethod string      `json:"extraction_method"`
	ExtractedAt      time.Time   `json:"extracted_at"`
}

// CompanyJSON is the wire form of CompanyInfo with a single company-level
// confidence.
type CompanyJSON struct {
	Name       string  `json:"name"`
	TaxID      *string `json:"tax_id,omitempty"`
	Address    *string `json:"address,omitempty"`
	City       *string `json:"city,omitempty"`
	PostalCode *string `json:"postal_code,omitempty"`
	Confidence float64 `json:"confidence"`
}

// LineJSON is the wire form of a LineItem.
type LineJSON struct {
	Description string  `json:"description"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
	Confidence  float64 `json:"confidence"`
}

// ToJSON flattens the record into its wire shape.
func (r *InvoiceRecord) ToJSON() *InvoiceJSON {
	out := &InvoiceJSON{
		InvoiceNumber:    r.InvoiceNumber.Value,
		InvoiceDate:      r.InvoiceDate.Value.Format("2006-01-02"),
		Supplier:         companyJSON(r.Supplier),
		Client:           companyJSON(r.Client),
		Lines:            make([]LineJSON, 0, len(r.Lines)),
		Subtotal:         r.Subtotal.Value,
		TaxAmount:        r.TaxAmount.Value,
		Total:            r.Total.Value,
		Currency:         r.Currency.Value,
		ConfidenceScore:  r.ConfidenceScore,
		RequiresReview:   r.RequiresReview,
		ExtractionMethod: string(r.Method),
		ExtractedAt:      r.ExtractedAt,
	}
	if r.DueDate != nil && r.DueDate.Present() {
		d := r.DueDate.Value.Format("2006-01-02")
		out.DueDate = &d
	}
	for _, l := range r.Lines {
		out.Lines = append(out.Lines, LineJSON{
			Description: l.Description.Value,
			Quantity:    l.Quantity.Value,
			UnitPrice:   l.UnitPrice.Value,
			LineTotal:   l.LineTotal.Value,
			Confidence:  l.Confidence(),
		})
	}
	return out
}

func companyJSON(c CompanyInfo) CompanyJSON {
	out := CompanyJSON{
		Name:       c.Name.Value,
		Confidence: c.Confidence(),
	}
	if out.Name == "" {
		out.Name = UnknownCompany
	}
	if c.TaxID.Present() {
		v := c.TaxID.Value
		out.TaxID = &v
	}
	if c.Address.Present() {
		v := c.Address.Value
		out.Address = &v
	}
	if c.City.Present() {
		v := c.City.Value
		out.City = &v
	}
	if c.PostalCode.Present() {
		v := c.PostalCode.Value
		out.PostalCode = &v
	}
	return out
}
