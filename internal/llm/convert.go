package llm

import (
	"strconv"
	"strings"
	"time"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

// ToRecord maps validated completion fields onto the internal invoice model.
// Every populated field carries the model's reported confidence and the LLM
// provenance marker.
func (f InvoiceFields) ToRecord(now time.Time) *entity.InvoiceRecord {
	conf := f.Confidence

	rec := &entity.InvoiceRecord{
		Method:      constants.MethodLLM,
		ExtractedAt: now,
	}

	if f.InvoiceNumber != "" {
		rec.InvoiceNumber = entity.NewField(f.InvoiceNumber, conf, constants.ProvenanceLLM)
	}
	if d, ok := parseISODate(f.InvoiceDate); ok {
		rec.InvoiceDate = entity.NewField(d, conf, constants.ProvenanceLLM)
	}
	if d, ok := parseISODate(f.DueDate); ok {
		due := entity.NewField(d, conf, constants.ProvenanceLLM)
		rec.DueDate = &due
	}

	rec.Supplier = f.Supplier.toCompany(conf)
	rec.Client = f.Client.toCompany(conf)

	for _, l := range f.Lines {
		item := entity.LineItem{}
		if l.Description != "" {
			item.Description = entity.NewField(l.Description, conf, constants.ProvenanceLLM)
		}
		item.Quantity = decimalField(l.Quantity, conf)
		item.UnitPrice = decimalField(l.UnitPrice, conf)
		item.LineTotal = decimalField(l.LineTotal, conf)
		if item.LineTotal.Present() || item.Description.Present() {
			rec.Lines = append(rec.Lines, item)
		}
	}

	rec.Subtotal = decimalField(f.Subtotal, conf)
	rec.TaxAmount = decimalField(f.TaxAmount, conf)
	rec.Total = decimalField(f.Total, conf)

	if cur := strings.ToUpper(strings.TrimSpace(f.CurrencyCode)); len(cur) == 3 {
		rec.Currency = entity.NewField(cur, conf, constants.ProvenanceLLM)
	}
	return rec
}

func (c CompanyFields) toCompany(conf float64) entity.CompanyInfo {
	info := entity.CompanyInfo{
		Name: entity.Field[string]{Value: entity.UnknownCompany, Source: constants.ProvenanceLLM},
	}
	if c.Name != "" {
		info.Name = entity.NewField(c.Name, conf, constants.ProvenanceLLM)
	}
	if c.TaxID != "" {
		info.TaxID = entity.NewField(c.TaxID, conf, constants.ProvenanceLLM)
	}
	if c.Address != "" {
		info.Address = entity.NewField(c.Address, conf, constants.ProvenanceLLM)
	}
	if c.City != "" {
		info.City = entity.NewField(c.City, conf, constants.ProvenanceLLM)
	}
	if c.PostalCode != "" {
		info.PostalCode = entity.NewField(c.PostalCode, conf, constants.ProvenanceLLM)
	}
	return info
}

func decimalField(s string, conf float64) entity.Field[float64] {
	s = strings.TrimSpace(s)
	if s == "" {
		return entity.Missing[float64](constants.ProvenanceLLM)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return entity.Missing[float64](constants.ProvenanceLLM)
	}
	return entity.NewField(v, conf, constants.ProvenanceLLM)
}

func parseISODate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}
