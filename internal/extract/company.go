package extract

import (
	"regexp"
	"strings"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

type companyRole int

const (
	roleSupplier companyRole = iota
	roleClient
)

var (
	// label-style markers go first so "Para:" wins over a bare "cliente"
	// appearing inside the company name line
	supplierKeywords = []string{"emisor", "proveedor", "vendedor", "de:", "from:", "supplier"}
	clientKeywords   = []string{"para:", "to:", "bill to", "destinatario", "cliente", "comprador"}

	supplierStops = []string{"cliente", "comprador", "destinatario", "para:", "to:"}
	clientStops   = []string{"concepto", "descripción", "detalle", "subtotal", "total"}

	taxIDPattern      = regexp.MustCompile(`\b([A-Z]\d{8}|\d{8}[A-Z]|[A-Z]\d{7}[A-Z0-9])\b`)
	postalCityPattern = regexp.MustCompile(`\b(\d{5})[ \t]+(\p{L}[\p{L} .'-]{1,40})`)
	addressPattern    = regexp.MustCompile(`(?i)\b(?:calle|avda\.?|avenida|plaza|paseo|c/|street|st\.|ave\.?)\s+[^\n|]{3,60}`)

	cifPattern = regexp.MustCompile(`^[ABCDEFGHJNPQRSUVW]\d{7}[A-J0-9]$`)
	nifPattern = regexp.MustCompile(`^\d{8}[A-Z]$`)
	niePattern = regexp.MustCompile(`^[XYZ]\d{7}[A-Z]$`)
)

// extractCompany scans the section following a role keyword (bounded by the
// opposite role's keywords) for a name, tax identifier and address parts.
func extractCompany(content string, role companyRole) entity.CompanyInfo {
	keywords, stops := supplierKeywords, supplierStops
	if role == roleClient {
		keywords, stops = clientKeywords, clientStops
	}

	section := companySection(content, keywords, stops)
	if section == "" {
		return entity.CompanyInfo{
			Name: entity.Field[string]{Value: entity.UnknownCompany, Source: constants.ProvenanceLocal},
		}
	}

	info := entity.CompanyInfo{
		Name: entity.Field[string]{Value: entity.UnknownCompany, Source: constants.ProvenanceLocal},
	}

	if m := taxIDPattern.FindStringSubmatch(section); m != nil && ValidTaxID(m[1]) {
		info.TaxID = entity.NewField(m[1], 0.85, constants.ProvenanceLocal)
	}

	if name := firstSubstantialLine(section); name != "" {
		info.Name = entity.NewField(name, 0.7, constants.ProvenanceLocal)
	}

	if m := addressPattern.FindString(section); m != "" {
		info.Address = entity.NewField(strings.TrimSpace(m), 0.6, constants.ProvenanceLocal)
	}
	if m := postalCityPattern.FindStringSubmatch(section); m != nil {
		info.PostalCode = entity.NewField(m[1], 0.6, constants.ProvenanceLocal)
		info.City = entity.NewField(strings.TrimSpace(m[2]), 0.6, constants.ProvenanceLocal)
	}
	return info
}

func companySection(content string, keywords, stops []string) string {
	lower := strings.ToLower(content)
	for _, kw := range keywords {
		pos := strings.Index(lower, kw)
		if pos < 0 {
			continue
		}
		end := pos + 300
		if end > len(content) {
			end = len(content)
		}
		for _, stop := range stops {
			if sp := strings.Index(lower[pos+len(kw):], stop); sp >= 0 && pos+len(kw)+sp < end {
				end = pos + len(kw) + sp
			}
		}
		return content[pos:end]
	}
	return ""
}

var (
	numericLine = regexp.MustCompile(`^[\d\-/.,\s]+$`)
	taxIDLine   = regexp.MustCompile(`(?i)^(?:c\.?i\.?f\.?|n\.?i\.?f\.?|n\.?i\.?e\.?|vat)\b`)
)

// firstSubstantialLine returns the first line that looks like a name rather
// than an identifier, an address fragment or a bare number. The same-line
// form "De: Empresa S.L." takes precedence.
func firstSubstantialLine(section string) string {
	lines := strings.Split(section, "\n")

	first := strings.TrimSpace(lines[0])
	if idx := strings.Index(first, ":"); idx >= 0 && idx+1 < len(first) {
		rest := strings.TrimSpace(first[idx+1:])
		if len(rest) > 3 && !numericLine.MatchString(rest) {
			return rest
		}
	}

	for i := 1; i < len(lines) && i < 5; i++ {
		clean := strings.Trim(strings.TrimSpace(lines[i]), "*#|")
		clean = strings.TrimSpace(clean)
		if len(clean) <= 3 {
			continue
		}
		if numericLine.MatchString(clean) || taxIDLine.MatchString(clean) {
			continue
		}
		if taxIDPattern.MatchString(clean) && len(clean) <= 12 {
			continue
		}
		if len(clean) > 100 {
			clean = clean[:100]
		}
		return clean
	}

	// the keyword line itself may hold the name, e.g. "Cliente Ejemplo S.A."
	if len(first) > 3 && !strings.HasSuffix(first, ":") && !numericLine.MatchString(first) {
		if len(first) > 100 {
			first = first[:100]
		}
		return first
	}
	return ""
}

// ValidTaxID validates Spanish CIF/NIF/NIE formats.
func ValidTaxID(id string) bool {
	if len(id) != 9 {
		return false
	}
	return cifPattern.MatchString(id) || nifPattern.MatchString(id) || niePattern.MatchString(id)
}
