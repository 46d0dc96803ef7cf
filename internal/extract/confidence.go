package extract

import (
	"strings"

	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

// Evaluator aggregates per-field confidences into a single document score and
// decides whether a record needs LLM escalation.
type Evaluator struct {
	weights   common.ConfidenceWeights
	threshold float64
}

func NewEvaluator(cfg common.ExtractionConfig) *Evaluator {
	return &Evaluator{weights: cfg.Weights, threshold: cfg.EscalationThreshold}
}

// Aggregate computes the weighted confidence score for a record. Missing
// fields contribute zero under their group weight, so sparse extractions
// score low without any special-casing.
func (e *Evaluator) Aggregate(rec *entity.InvoiceRecord) float64 {
	w := e.weights

	score := w.InvoiceNumber*rec.InvoiceNumber.Confidence +
		w.InvoiceDate*rec.InvoiceDate.Confidence +
		w.Total*rec.Total.Confidence

	companies := (rec.Supplier.Name.Confidence + rec.Client.Name.Confidence) / 2
	score += w.CompanyNames * companies

	if n := len(rec.Lines); n > 0 {
		var sum float64
		for _, item := range rec.Lines {
			sum += item.Confidence()
		}
		score += w.LineItems * (sum / float64(n))
	}

	secondary := (rec.Subtotal.Confidence + rec.TaxAmount.Confidence + rec.Currency.Confidence) / 3
	score += w.Secondary * secondary

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// ShouldEscalate reports whether the record should be sent to the LLM
// extractor. A forced reprocess always escalates.
func (e *Evaluator) ShouldEscalate(score float64, force bool) bool {
	return force || score < e.threshold
}

// EscalationReason summarizes which field groups dragged the score down,
// for logging and job status messages.
func (e *Evaluator) EscalationReason(rec *entity.InvoiceRecord) string {
	var weak []string
	if !rec.InvoiceNumber.Present() {
		weak = append(weak, "invoice number")
	}
	if !rec.InvoiceDate.Present() {
		weak = append(weak, "invoice date")
	}
	if !rec.Total.Present() {
		weak = append(weak, "total")
	}
	if !rec.Supplier.Known() {
		weak = append(weak, "supplier")
	}
	if !rec.Client.Known() {
		weak = append(weak, "client")
	}
	if len(rec.Lines) == 0 {
		weak = append(weak, "line items")
	}
	if len(weak) == 0 {
		return "low aggregate confidence"
	}
	return "missing or uncertain: " + strings.Join(weak, ", ")
}
