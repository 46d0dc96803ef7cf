package llm

// BuildInvoiceJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// We pass this to the completion service as a structured output constraint and
// also use it locally to validate what comes back.
func BuildInvoiceJSONSchema() map[string]any {
	companyProps := map[string]any{
		"name":        map[string]any{"type": "string", "minLength": 1},
		"tax_id":      map[string]any{"type": "string"},
		"address":     map[string]any{"type": "string"},
		"city":        map[string]any{"type": "string"},
		"postal_code": map[string]any{"type": "string"},
	}
	company := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           companyProps,
		"required":             []string{"name"},
	}

	lineItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"description": map[string]any{"type": "string", "minLength": 1},
			"quantity":    decimalProp(),
			"unit_price":  decimalProp(),
			"line_total":  decimalProp(),
		},
		"required": []string{"description", "line_total"},
	}

	props := map[string]any{
		"invoice_number": map[string]any{"type": "string", "minLength": 1},
		"invoice_date":   map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"due_date":       map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
		"supplier":       company,
		"client":         company,
		"line_items":     map[string]any{"type": "array", "items": lineItem},
		"subtotal":       decimalProp(),
		"tax_amount":     decimalProp(),
		"total":          decimalProp(),
		"currency_code":  map[string]any{"type": "string", "minLength": 3, "maxLength": 3},
		"confidence":     map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
	}
	required := []string{"invoice_number", "invoice_date", "total", "currency_code", "supplier", "client"}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"required":             required,
	}
}

func decimalProp() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `^-?\d+(\.\d{1,4})?$`,
	}
}
