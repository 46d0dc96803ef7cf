package extract

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/docparse"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

// numberPattern pairs a compiled pattern with the confidence it earns on a
// match. Labeled patterns score higher than positional guesses.
type numberPattern struct {
	re         *regexp.Regexp
	confidence float64
}

// LocalExtractor applies deterministic pattern rules against the canonical
// representation. Absent fields come back with confidence 0 rather than
// failing the run.
type LocalExtractor struct {
	logger *slog.Logger

	invoiceNumberPatterns []numberPattern
}

// invoiceLabelKeywords anchor the tie-break rule: when several candidates match the
// same field, the one closest to a recognized label wins over the first
// occurrence in document order.
var invoiceLabelKeywords = []string{"factura", "invoice", "número", "numero", "number", "nº"}

func NewLocalExtractor(logger *slog.Logger) *LocalExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalExtractor{
		logger: logger,
		invoiceNumberPatterns: []numberPattern{
			{regexp.MustCompile(`(?i)N[ºo°]?\s*(?:de\s+)?(?:Factura|Invoice|Fact\.?)\s*[:\-]?\s*([A-Z0-9][\w\-/]+)`), 0.95},
			{regexp.MustCompile(`(?i)(?:Factura|Invoice)\s+(?:N[ºo°]?\.?\s*)?#?\s*([A-Z0-9][\w\-/]+)`), 0.90},
			{regexp.MustCompile(`(?i)(?:Número|Number)\s*[:\-]?\s*([A-Z0-9][\w\-/]+)`), 0.85},
			{regexp.MustCompile(`(?i)\|\s*(?:Factura|Invoice|Número)\s*\|\s*([A-Z0-9][\w\-/]+)\s*\|`), 0.90},
		},
	}
}

// Extract produces a first-pass record with provenance local. The aggregate
// confidence score is left at zero; the evaluator owns that computation.
func (e *LocalExtractor) Extract(doc *docparse.ParsedDocument) *entity.InvoiceRecord {
	content := doc.Content()

	rec := &entity.InvoiceRecord{
		InvoiceNumber: e.extractInvoiceNumber(content),
		InvoiceDate:   extractDate(content, dateLabels, true),
		Supplier:      extractCompany(content, roleSupplier),
		Client:        extractCompany(content, roleClient),
		Lines:         extractLineItems(doc.Tables, content),
		Currency:      extractCurrency(content),
		Method:        constants.MethodLocal,
		ExtractedAt:   time.Now().UTC(),
	}

	if due := extractDate(content, dueDateLabels, false); due.Present() {
		rec.DueDate = &due
	}

	rec.Subtotal, rec.TaxAmount, rec.Total = extractTotals(content)

	e.logger.Info("extract.local.ok",
		"invoice_number", rec.InvoiceNumber.Value,
		"number_confidence", rec.InvoiceNumber.Confidence,
		"lines", len(rec.Lines),
		"total", rec.Total.Value,
	)
	return rec
}

// extractInvoiceNumber collects candidates from every pattern and picks the
// one nearest a label keyword; pattern confidence breaks remaining ties.
func (e *LocalExtractor) extractInvoiceNumber(content string) entity.Field[string] {
	type candidate struct {
		value      string
		confidence float64
		labelDist  int
	}
	var candidates []candidate

	lower := strings.ToLower(content)
	for _, p := range e.invoiceNumberPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(content, -1) {
			value := strings.TrimSpace(content[m[2]:m[3]])
			if !validInvoiceNumber(value) {
				continue
			}
			candidates = append(candidates, candidate{
				value:      value,
				confidence: p.confidence,
				labelDist:  labelDistance(lower, m[2], invoiceLabelKeywords),
			})
		}
	}
	if len(candidates) == 0 {
		return entity.Field[string]{Value: "UNKNOWN", Confidence: 0, Source: constants.ProvenanceLocal}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.labelDist < best.labelDist ||
			(c.labelDist == best.labelDist && c.confidence > best.confidence) {
			best = c
		}
	}
	return entity.NewField(best.value, best.confidence, constants.ProvenanceLocal)
}

var hasDigit = regexp.MustCompile(`\d`)

func validInvoiceNumber(v string) bool {
	return len(v) >= 3 && hasDigit.MatchString(v)
}

// labelDistance returns the distance from pos to the nearest occurrence of
// any label keyword, or a large constant when none appears.
func labelDistance(lower string, pos int, labels []string) int {
	best := 1 << 20
	for _, label := range labels {
		from := 0
		for {
			idx := strings.Index(lower[from:], label)
			if idx < 0 {
				break
			}
			abs := from + idx
			d := pos - abs
			if d < 0 {
				d = -d
			}
			if d < best {
				best = d
			}
			from = abs + len(label)
		}
	}
	return best
}

var (
	dateLabels    = []string{"fecha de emisión", "fecha", "date"}
	dueDateLabels = []string{"vencimiento", "fecha límite", "due date"}

	isoDatePattern      = regexp.MustCompile(`\b(\d{4})[-/](\d{1,2})[-/](\d{1,2})\b`)
	europeanDatePattern = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4})\b`)
	spanishDatePattern  = regexp.MustCompile(`(?i)\b(\d{1,2})\s+de\s+(enero|febrero|marzo|abril|mayo|junio|julio|agosto|septiembre|octubre|noviembre|diciembre)\s+de\s+(\d{4})\b`)
)

var spanishMonths = map[string]time.Month{
	"enero": time.January, "febrero": time.February, "marzo": time.March,
	"abril": time.April, "mayo": time.May, "junio": time.June,
	"julio": time.July, "agosto": time.August, "septiembre": time.September,
	"octubre": time.October, "noviembre": time.November, "diciembre": time.December,
}

// extractDate looks for a date near the given labels. With scanWhole set it
// falls back to the first date anywhere in the document, scored lower.
func extractDate(content string, labels []string, scanWhole bool) entity.Field[time.Time] {
	lower := strings.ToLower(content)
	for _, label := range labels {
		if idx := strings.Index(lower, label); idx >= 0 {
			end := idx + len(label) + 40
			if end > len(content) {
				end = len(content)
			}
			if d, conf, ok := matchDate(content[idx:end]); ok {
				return entity.NewField(d, conf, constants.ProvenanceLocal)
			}
		}
	}
	if scanWhole {
		if d, conf, ok := matchDate(content); ok {
			return entity.NewField(d, conf*0.7, constants.ProvenanceLocal)
		}
	}
	return entity.Missing[time.Time](constants.ProvenanceLocal)
}

func matchDate(s string) (time.Time, float64, bool) {
	if m := isoDatePattern.FindStringSubmatch(s); m != nil {
		if d, ok := makeDate(m[1], m[2], m[3]); ok {
			return d, 0.95, true
		}
	}
	if m := europeanDatePattern.FindStringSubmatch(s); m != nil {
		if d, ok := makeDate(m[3], m[2], m[1]); ok {
			return d, 0.90, true
		}
	}
	if m := spanishDatePattern.FindStringSubmatch(s); m != nil {
		month := spanishMonths[strings.ToLower(m[2])]
		if d, ok := makeDate(m[3], strconv.Itoa(int(month)), m[1]); ok {
			return d, 0.95, true
		}
	}
	return time.Time{}, 0, false
}

func makeDate(year, month, day string) (time.Time, bool) {
	y, _ := strconv.Atoi(year)
	m, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	if y < 1900 || m < 1 || m > 12 || d < 1 || d > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	// reject normalized rollovers like Feb 31
	if t.Day() != d || int(t.Month()) != m {
		return time.Time{}, false
	}
	return t, true
}

var (
	totalKeywords    = []string{"total a pagar", "importe total", "total factura", "total"}
	subtotalKeywords = []string{"base imponible", "subtotal", "base", "suma"}
	taxKeywords      = []string{"iva", "i.v.a.", "impuesto", "vat", "tax"}
)

// extractTotals pulls the three money figures and backfills a missing one
// arithmetically. The 21% VAT split is the last resort for documents that
// only show a grand total.
func extractTotals(content string) (subtotal, tax, total entity.Field[float64]) {
	subtotal = amountField(content, subtotalKeywords)
	tax = amountField(content, taxKeywords)
	total = amountField(content, totalKeywords)

	switch {
	case total.Present() && !subtotal.Present() && tax.Present():
		subtotal = entity.NewField(round2(total.Value-tax.Value), 0.7, constants.ProvenanceLocal)
	case total.Present() && subtotal.Present() && !tax.Present():
		tax = entity.NewField(round2(total.Value-subtotal.Value), 0.7, constants.ProvenanceLocal)
	case subtotal.Present() && tax.Present() && !total.Present():
		total = entity.NewField(round2(subtotal.Value+tax.Value), 0.7, constants.ProvenanceLocal)
	}

	if total.Present() && !subtotal.Present() {
		base := round2(total.Value / 1.21)
		subtotal = entity.NewField(base, 0.5, constants.ProvenanceLocal)
		tax = entity.NewField(round2(total.Value-base), 0.5, constants.ProvenanceLocal)
	}
	return subtotal, tax, total
}

func amountField(content string, keywords []string) entity.Field[float64] {
	if v, ok := amountNearKeywords(content, keywords); ok {
		return entity.NewField(v, 0.85, constants.ProvenanceLocal)
	}
	return entity.Missing[float64](constants.ProvenanceLocal)
}

var currencySymbols = []struct {
	marker string
	code   string
	conf   float64
}{
	{"€", "EUR", 0.9},
	{"EUR", "EUR", 0.9},
	{"$", "USD", 0.9},
	{"USD", "USD", 0.9},
	{"£", "GBP", 0.9},
	{"GBP", "GBP", 0.9},
}

func extractCurrency(content string) entity.Field[string] {
	for _, c := range currencySymbols {
		if strings.Contains(content, c.marker) {
			return entity.NewField(c.code, c.conf, constants.ProvenanceLocal)
		}
	}
	return entity.NewField("EUR", 0.5, constants.ProvenanceLocal)
}
