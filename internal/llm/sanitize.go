package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	reDecimal   = regexp.MustCompile(`^-?\d+(\.\d{1,4})?$`)
	reCodeFence = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

	optMoney = []string{"subtotal", "tax_amount"}
)

// StripCodeFences removes a surrounding markdown code fence if the model
// wrapped its JSON in one.
func StripCodeFences(content string) string {
	trimmed := strings.TrimSpace(content)
	if m := reCodeFence.FindStringSubmatch(trimmed); m != nil {
		return m[1]
	}
	return trimmed
}

// SanitizeOptionalFields removes or normalizes optional fields that don't meet
// the stricter schema, so the overall document can still validate. Required
// fields are left alone.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, err
	}

	var dropped []string

	if v, ok := m["currency_code"].(string); ok {
		m["currency_code"] = strings.ToUpper(strings.TrimSpace(v))
	}
	if v, ok := m["due_date"].(string); ok {
		if strings.TrimSpace(v) == "" {
			delete(m, "due_date")
			dropped = append(dropped, "due_date")
		}
	}

	for _, k := range optMoney {
		if v, ok := m[k]; ok {
			nv, keep := coerceDecimal(v)
			if !keep {
				delete(m, k)
				dropped = append(dropped, k)
			} else {
				m[k] = nv
			}
		}
	}

	// line items: coerce numeric cells, drop malformed entries rather than
	// failing the whole document
	if raw, ok := m["line_items"].([]any); ok {
		cleaned := make([]any, 0, len(raw))
		for i, e := range raw {
			item, ok := e.(map[string]any)
			if !ok {
				dropped = append(dropped, fmt.Sprintf("line_items[%d]", i))
				continue
			}
			for _, k := range []string{"quantity", "unit_price", "line_total"} {
				if v, ok := item[k]; ok {
					nv, keep := coerceDecimal(v)
					if !keep {
						delete(item, k)
					} else {
						item[k] = nv
					}
				}
			}
			if _, ok := item["line_total"]; !ok {
				dropped = append(dropped, fmt.Sprintf("line_items[%d]", i))
				continue
			}
			cleaned = append(cleaned, item)
		}
		if len(cleaned) == 0 {
			delete(m, "line_items")
		} else {
			m["line_items"] = cleaned
		}
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}
	return b, dropped, nil
}

func coerceDecimal(v any) (any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case float64:
		return strconv.FormatFloat(t, 'f', 2, 64), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" || strings.EqualFold(s, "null") {
			return nil, false
		}
		if reDecimal.MatchString(s) {
			return s, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 2, 64), true
		}
		return nil, false
	default:
		return nil, false
	}
}
