package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

func testDB(t *testing.T) *sqlx.DB {
	t.Helper()
	cfg := common.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := Migrate(db, "sqlite"); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return db
}

func testDocument() *entity.Document {
	return &entity.Document{
		ID:         uuid.New(),
		Filename:   "factura.pdf",
		MIMEType:   "application/pdf",
		Size:       2048,
		StorageKey: "abc/factura.pdf",
		UploadedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func testRecord(supplier string, review bool, extractedAt time.Time) *entity.InvoiceJSON {
	return &entity.InvoiceJSON{
		InvoiceNumber:    "FAC-2024-001",
		InvoiceDate:      "2024-03-15",
		Supplier:         entity.CompanyJSON{Name: supplier, Confidence: 0.8},
		Client:           entity.CompanyJSON{Name: "Cliente Ejemplo S.A.", Confidence: 0.7},
		Lines:            []entity.LineJSON{{Description: "Consultoría", Quantity: 10, UnitPrice: 100, LineTotal: 1000, Confidence: 0.8}},
		Subtotal:         1000,
		TaxAmount:        210,
		Total:            1210,
		Currency:         "EUR",
		ConfidenceScore:  0.84,
		ExtractionMethod: "local",
		RequiresReview:   review,
		ExtractedAt:      extractedAt,
	}
}

func TestDocumentCreateAndGet(t *testing.T) {
	db := testDB(t)
	repo := NewDocumentRepository(db)
	ctx := context.Background()

	doc := testDocument()
	if err := repo.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Filename != doc.Filename || got.StorageKey != doc.StorageKey || got.Size != doc.Size {
		t.Errorf("got = %+v", got)
	}

	docs, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("len = %d", len(docs))
	}
}

func TestDocumentGetUnknown(t *testing.T) {
	db := testDB(t)
	repo := NewDocumentRepository(db)

	_, err := repo.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, common.ErrUnknownDocument) {
		t.Errorf("err = %v, want ErrUnknownDocument", err)
	}
}

func TestInvoiceUpsertAndGet(t *testing.T) {
	db := testDB(t)
	docs := NewDocumentRepository(db)
	invoices := NewInvoiceRepository(db)
	ctx := context.Background()

	doc := testDocument()
	if err := docs.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	if _, err := invoices.GetByDocumentID(ctx, doc.ID); !errors.Is(err, common.ErrNotCompleted) {
		t.Errorf("err before upsert = %v, want ErrNotCompleted", err)
	}

	rec := testRecord("Tecnología Avanzada S.L.", false, time.Now().UTC())
	if err := invoices.Upsert(ctx, doc.ID, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := invoices.GetByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetByDocumentID: %v", err)
	}
	if got.InvoiceNumber != "FAC-2024-001" || got.Total != 1210 {
		t.Errorf("got = %+v", got)
	}
	if len(got.Lines) != 1 || got.Lines[0].Description != "Consultoría" {
		t.Errorf("lines = %+v", got.Lines)
	}
}

func TestInvoiceUpsertOverwrites(t *testing.T) {
	db := testDB(t)
	docs := NewDocumentRepository(db)
	invoices := NewInvoiceRepository(db)
	ctx := context.Background()

	doc := testDocument()
	if err := docs.Create(ctx, doc); err != nil {
		t.Fatal(err)
	}

	first := testRecord("Proveedor Uno", true, time.Now().UTC())
	if err := invoices.Upsert(ctx, doc.ID, first); err != nil {
		t.Fatal(err)
	}
	second := testRecord("Proveedor Dos", false, time.Now().UTC())
	second.ExtractionMethod = "llm"
	if err := invoices.Upsert(ctx, doc.ID, second); err != nil {
		t.Fatal(err)
	}

	got, err := invoices.GetByDocumentID(ctx, doc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Supplier.Name != "Proveedor Dos" || got.ExtractionMethod != "llm" || got.RequiresReview {
		t.Errorf("got = %+v", got)
	}

	all, err := invoices.List(ctx, InvoiceFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 {
		t.Errorf("len = %d, reprocessing must not duplicate rows", len(all))
	}
}

func TestInvoiceListFilters(t *testing.T) {
	db := testDB(t)
	docs := NewDocumentRepository(db)
	invoices := NewInvoiceRepository(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	seed := []struct {
		supplier    string
		review      bool
		extractedAt time.Time
	}{
		{"Proveedor Uno", false, now.Add(-48 * time.Hour)},
		{"Proveedor Uno", true, now.Add(-1 * time.Hour)},
		{"Proveedor Dos", false, now},
	}
	for _, s := range seed {
		doc := testDocument()
		if err := docs.Create(ctx, doc); err != nil {
			t.Fatal(err)
		}
		if err := invoices.Upsert(ctx, doc.ID, testRecord(s.supplier, s.review, s.extractedAt)); err != nil {
			t.Fatal(err)
		}
	}

	bySupplier, err := invoices.List(ctx, InvoiceFilter{SupplierName: "Proveedor Uno"})
	if err != nil {
		t.Fatal(err)
	}
	if len(bySupplier) != 2 {
		t.Errorf("by supplier = %d, want 2", len(bySupplier))
	}

	review := true
	flagged, err := invoices.List(ctx, InvoiceFilter{RequiresReview: &review})
	if err != nil {
		t.Fatal(err)
	}
	if len(flagged) != 1 || !flagged[0].RequiresReview {
		t.Errorf("flagged = %+v", flagged)
	}

	recent, err := invoices.List(ctx, InvoiceFilter{From: now.Add(-2 * time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("recent = %d, want 2", len(recent))
	}

	combined, err := invoices.List(ctx, InvoiceFilter{
		SupplierName: "Proveedor Uno",
		From:         now.Add(-2 * time.Hour),
		To:           now,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(combined) != 1 {
		t.Errorf("combined = %d, want 1", len(combined))
	}
}

func TestInvoiceListByDocumentIDs(t *testing.T) {
	db := testDB(t)
	docs := NewDocumentRepository(db)
	invoices := NewInvoiceRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()

	var ids []uuid.UUID
	for i, number := range []string{"FAC-2024-001", "FAC-2024-002", "FAC-2024-003"} {
		doc := testDocument()
		if err := docs.Create(ctx, doc); err != nil {
			t.Fatal(err)
		}
		rec := testRecord("Proveedor Uno", false, now.Add(time.Duration(i)*time.Minute))
		rec.InvoiceNumber = number
		if err := invoices.Upsert(ctx, doc.ID, rec); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, doc.ID)
	}

	selected, err := invoices.List(ctx, InvoiceFilter{DocumentIDs: ids[:2]})
	if err != nil {
		t.Fatal(err)
	}
	if len(selected) != 2 {
		t.Fatalf("selected = %d, want 2", len(selected))
	}
	for _, rec := range selected {
		if rec.InvoiceNumber == "FAC-2024-003" {
			t.Errorf("record %q was not requested", rec.InvoiceNumber)
		}
	}

	none, err := invoices.List(ctx, InvoiceFilter{DocumentIDs: []uuid.UUID{uuid.New()}})
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("unknown id matched %d records", len(none))
	}
}
