package extract

import (
	"regexp"
	"strconv"
	"strings"
)

// amountPattern matches monetary amounts in European ("1.234,56") and
// plain ("1234.56") notation.
var amountPattern = regexp.MustCompile(`\d{1,3}(?:\.\d{3})+,\d{2}|\d{1,3}(?:,\d{3})+\.\d{2}|\d+[.,]\d{2}|\d+`)

// parseDecimal parses an amount string, handling European thousands/decimal
// separators. Returns 0 and false when the value is not a number.
func parseDecimal(s string) (float64, bool) {
	cleaned := strings.TrimSpace(s)
	cleaned = strings.NewReplacer("€", "", "$", "", "£", "", " ", "", " ", "").Replace(cleaned)
	if cleaned == "" {
		return 0, false
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		if strings.LastIndex(cleaned, ",") > strings.LastIndex(cleaned, ".") {
			// European: 1.234,56
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			// American: 1,234.56
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case hasComma:
		if strings.Count(cleaned, ",") == 1 && len(cleaned)-strings.LastIndex(cleaned, ",") <= 3 {
			// decimal comma: 123,45
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			// thousands commas: 1,234,567
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return round2(v), true
}

func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

// amountNearKeywords finds the first keyword occurrence (at a word boundary)
// and returns the last amount within the following window. Keywords are
// tried in order, so more specific labels go first.
func amountNearKeywords(content string, keywords []string) (float64, bool) {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		from := 0
		for {
			idx := strings.Index(lower[from:], kw)
			if idx < 0 {
				break
			}
			pos := from + idx
			from = pos + len(kw)
			if !atWordBoundary(lower, pos) {
				continue
			}
			end := pos + len(kw) + 50
			if end > len(content) {
				end = len(content)
			}
			window := content[pos+len(kw) : end]
			matches := amountPattern.FindAllString(window, -1)
			if len(matches) == 0 {
				continue
			}
			if v, ok := parseDecimal(matches[len(matches)-1]); ok && v > 0 {
				return v, true
			}
		}
	}
	return 0, false
}

// atWordBoundary reports whether the byte before pos is not a letter,
// keeping "total" from matching inside "subtotal".
func atWordBoundary(s string, pos int) bool {
	if pos == 0 {
		return true
	}
	c := s[pos-1]
	return !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z')
}
