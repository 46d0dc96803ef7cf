package main

import (
	"testing"
	"time"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
	"github.com/egtimer/invoice-ai-processor/internal/validate"
)

func consistentRecord() *entity.InvoiceRecord {
	amount := func(v float64) entity.Field[float64] {
		return entity.NewField(v, 0.9, constants.ProvenanceLocal)
	}
	rec := &entity.InvoiceRecord{
		InvoiceNumber: entity.NewField("FAC-2024-001", 0.95, constants.ProvenanceLocal),
		InvoiceDate:   entity.NewField(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), 0.95, constants.ProvenanceLocal),
		Subtotal:      amount(1000),
		TaxAmount:     amount(210),
		Total:         amount(1210),
		Currency:      entity.NewField("EUR", 0.9, constants.ProvenanceLocal),
		Method:        constants.MethodLocal,
		ExtractedAt:   time.Now().UTC(),
	}
	rec.Supplier.Name = entity.NewField("Proveedor", 0.7, constants.ProvenanceLocal)
	rec.Client.Name = entity.NewField("Cliente", 0.7, constants.ProvenanceLocal)
	return rec
}

func TestFinishRecordKeepsReviewFlagOnDegradedRun(t *testing.T) {
	v := validate.NewValidator(0.7, nil)

	rec := consistentRecord()
	finishRecord(v, rec, 0.9, true)
	if !rec.RequiresReview {
		t.Error("degraded run must keep requires_review after validation")
	}

	rec = consistentRecord()
	finishRecord(v, rec, 0.9, false)
	if rec.RequiresReview {
		t.Error("clean run should not require review")
	}
}
