// Package validate applies arithmetic consistency checks to an extracted
// invoice and flags records that need human review.
package validate

import (
	"log/slog"
	"math"
	"strconv"

	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

// Confidence caps applied when a check fails. Caps instead of subtractions
// keep validation idempotent: running it twice yields the same record.
const (
	capTotalsMismatch  = 0.70
	capLineMismatch    = 0.65
	capLineSumMismatch = 0.75
)

// Issue describes one failed consistency check.
type Issue struct {
	Check    string  `json:"check"`
	Detail   string  `json:"detail"`
	Expected float64 `json:"expected"`
	Actual   float64 `json:"actual"`
}

type Validator struct {
	reviewThreshold float64
	log             *slog.Logger
}

func NewValidator(reviewThreshold float64, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{reviewThreshold: reviewThreshold, log: logger}
}

// Validate checks subtotal+tax against total, each line's quantity*unit_price
// against its line total, and the line sum against the subtotal. Failures cap
// the record's confidence score and set the review flag. The input score is
// the aggregated extraction confidence.
func (v *Validator) Validate(rec *entity.InvoiceRecord, score float64) []Issue {
	var issues []Issue
	adjusted := score

	if rec.Subtotal.Present() && rec.TaxAmount.Present() && rec.Total.Present() {
		expected := rec.Subtotal.Value + rec.TaxAmount.Value
		if !withinTolerance(expected, rec.Total.Value) {
			issues = append(issues, Issue{
				Check:    "totals",
				Detail:   "subtotal plus tax does not match total",
				Expected: expected,
				Actual:   rec.Total.Value,
			})
			adjusted = math.Min(adjusted, capTotalsMismatch)
		}
	}

	for i, item := range rec.Lines {
		if !item.Quantity.Present() || !item.UnitPrice.Present() || !item.LineTotal.Present() {
			continue
		}
		expected := item.Quantity.Value * item.UnitPrice.Value
		if !withinTolerance(expected, item.LineTotal.Value) {
			issues = append(issues, Issue{
				Check:    "line",
				Detail:   "quantity times unit price does not match line total for line " + strconv.Itoa(i+1),
				Expected: expected,
				Actual:   item.LineTotal.Value,
			})
			adjusted = math.Min(adjusted, capLineMismatch)
		}
	}

	if len(rec.Lines) > 0 && rec.Subtotal.Present() {
		var sum float64
		counted := 0
		for _, item := range rec.Lines {
			if item.LineTotal.Present() {
				sum += item.LineTotal.Value
				counted++
			}
		}
		if counted == len(rec.Lines) && !withinTolerance(sum, rec.Subtotal.Value) {
			issues = append(issues, Issue{
				Check:    "line_sum",
				Detail:   "sum of line totals does not match subtotal",
				Expected: sum,
				Actual:   rec.Subtotal.Value,
			})
			adjusted = math.Min(adjusted, capLineSumMismatch)
		}
	}

	rec.ConfidenceScore = adjusted
	rec.RequiresReview = len(issues) > 0 || adjusted < v.reviewThreshold

	if len(issues) > 0 {
		v.log.Warn("validate.issues",
			"count", len(issues),
			"score", adjusted,
			"requires_review", rec.RequiresReview,
		)
	}
	return issues
}

// withinTolerance allows the larger of two cents absolute or one percent
// relative difference, absorbing rounding in parsed amounts.
func withinTolerance(a, b float64) bool {
	diff := math.Abs(a - b)
	tol := math.Max(0.02, 0.01*math.Max(math.Abs(a), math.Abs(b)))
	return diff <= tol
}

