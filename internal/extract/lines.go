package extract

import (
	"regexp"
	"strings"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/docparse"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

var (
	descHeaders  = []string{"descripción", "descripcion", "concepto", "description", "detalle", "item"}
	qtyHeaders   = []string{"cantidad", "qty", "quantity", "uds", "unidades", "units"}
	priceHeaders = []string{"precio", "price", "p.unit", "unitario", "unit price"}
	totalHeaders = []string{"importe", "total", "subtotal", "amount"}

	// "Consulting services   10   100,00   1.000,00"
	textLinePattern = regexp.MustCompile(`(?m)^\s*([\p{L}][\p{L}\d\s.,/-]{2,60}?)\s{2,}(\d{1,5}(?:[.,]\d{1,2})?)\s{2,}(\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{1,2})?)\s{2,}(\d{1,3}(?:[.,]\d{3})*(?:[.,]\d{1,2})?)\s*$`)
)

// extractLineItems reads line items from parsed tables when present, falling
// back to columnar text patterns otherwise.
func extractLineItems(tables []docparse.Table, content string) []entity.LineItem {
	for _, t := range tables {
		if items := tableLineItems(t); len(items) > 0 {
			return items
		}
	}
	return textLineItems(content)
}

func tableLineItems(t docparse.Table) []entity.LineItem {
	descCol := headerIndex(t.Headers, descHeaders)
	qtyCol := headerIndex(t.Headers, qtyHeaders)
	priceCol := headerIndex(t.Headers, priceHeaders)
	totalCol := headerIndex(t.Headers, totalHeaders)
	if descCol < 0 || (priceCol < 0 && totalCol < 0) {
		return nil
	}

	var items []entity.LineItem
	for _, row := range t.Rows {
		if descCol >= len(row) {
			continue
		}
		desc := strings.TrimSpace(row[descCol])
		if desc == "" {
			continue
		}

		var item entity.LineItem
		item.Description = entity.NewField(desc, 0.8, constants.ProvenanceLocal)
		item.Quantity = cellAmount(row, qtyCol)
		item.UnitPrice = cellAmount(row, priceCol)
		item.LineTotal = cellAmount(row, totalCol)

		if item.UnitPrice.Value <= 0 && item.LineTotal.Value <= 0 {
			continue
		}
		if item.LineTotal.Value <= 0 && item.Quantity.Value > 0 && item.UnitPrice.Value > 0 {
			item.LineTotal = entity.NewField(round2(item.Quantity.Value*item.UnitPrice.Value), 0.7, constants.ProvenanceLocal)
		}
		items = append(items, item)
	}
	return items
}

func cellAmount(row []string, col int) entity.Field[float64] {
	if col < 0 || col >= len(row) {
		return entity.Missing[float64](constants.ProvenanceLocal)
	}
	v, ok := parseDecimal(strings.TrimSpace(row[col]))
	if !ok {
		return entity.Missing[float64](constants.ProvenanceLocal)
	}
	return entity.NewField(v, 0.8, constants.ProvenanceLocal)
}

func headerIndex(headers []string, candidates []string) int {
	for i, h := range headers {
		hl := strings.ToLower(strings.TrimSpace(h))
		for _, c := range candidates {
			if strings.Contains(hl, c) {
				return i
			}
		}
	}
	return -1
}

func textLineItems(content string) []entity.LineItem {
	var items []entity.LineItem
	for _, m := range textLinePattern.FindAllStringSubmatch(content, 30) {
		desc := strings.TrimSpace(m[1])
		if looksLikeTotalRow(desc) {
			continue
		}
		qty, okQ := parseDecimal(m[2])
		price, okP := parseDecimal(m[3])
		total, okT := parseDecimal(m[4])
		if !okT || total <= 0 {
			continue
		}

		item := entity.LineItem{
			Description: entity.NewField(desc, 0.6, constants.ProvenanceLocal),
			LineTotal:   entity.NewField(total, 0.6, constants.ProvenanceLocal),
		}
		if okQ {
			item.Quantity = entity.NewField(qty, 0.6, constants.ProvenanceLocal)
		}
		if okP {
			item.UnitPrice = entity.NewField(price, 0.6, constants.ProvenanceLocal)
		}
		items = append(items, item)
	}
	return items
}

func looksLikeTotalRow(desc string) bool {
	dl := strings.ToLower(desc)
	for _, kw := range []string{"total", "subtotal", "iva", "vat", "impuesto", "tax", "base imponible"} {
		if strings.Contains(dl, kw) {
			return true
		}
	}
	return false
}
