package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

// InvoiceFilter narrows List results for export. A non-empty DocumentIDs
// restricts the result to exactly those documents.
type InvoiceFilter struct {
	DocumentIDs    []uuid.UUID
	SupplierName   string
	RequiresReview *bool
	From           time.Time
	To             time.Time
}

// InvoiceRepository persists extraction results. One record per document;
// reprocessing overwrites the previous result.
type InvoiceRepository interface {
	Upsert(ctx context.Context, documentID uuid.UUID, rec *entity.InvoiceJSON) error
	GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.InvoiceJSON, error)
	List(ctx context.Context, filter InvoiceFilter) ([]entity.InvoiceJSON, error)
}

type invoiceRepository struct {
	db *sqlx.DB
}

func NewInvoiceRepository(db *sqlx.DB) InvoiceRepository {
	return &invoiceRepository{db: db}
}

func (r *invoiceRepository) Upsert(ctx context.Context, documentID uuid.UUID, rec *entity.InvoiceJSON) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO invoices (
			document_id, invoice_number, invoice_date, supplier_name, client_name,
			total, currency, confidence_score, requires_review, extraction_method,
			record, extracted_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id) DO UPDATE SET
			invoice_number = excluded.invoice_number,
			invoice_date = excluded.invoice_date,
			supplier_name = excluded.supplier_name,
			client_name = excluded.client_name,
			total = excluded.total,
			currency = excluded.currency,
			confidence_score = excluded.confidence_score,
			requires_review = excluded.requires_review,
			extraction_method = excluded.extraction_method,
			record = excluded.record,
			extracted_at = excluded.extracted_at
	`
	_, err = r.db.ExecContext(ctx, query,
		documentID.String(),
		rec.InvoiceNumber,
		rec.InvoiceDate,
		rec.Supplier.Name,
		rec.Client.Name,
		rec.Total,
		rec.Currency,
		rec.ConfidenceScore,
		rec.RequiresReview,
		rec.ExtractionMethod,
		string(blob),
		rec.ExtractedAt,
	)
	return err
}

func (r *invoiceRepository) GetByDocumentID(ctx context.Context, documentID uuid.UUID) (*entity.InvoiceJSON, error) {
	var blob string
	query := `SELECT record FROM invoices WHERE document_id = $1`
	if err := r.db.GetContext(ctx, &blob, query, documentID.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotCompleted
		}
		return nil, err
	}
	var rec entity.InvoiceJSON
	if err := json.Unmarshal([]byte(blob), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *invoiceRepository) List(ctx context.Context, filter InvoiceFilter) ([]entity.InvoiceJSON, error) {
	query := `SELECT record FROM invoices WHERE 1 = 1`
	var args []any
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return "$" + strconv.Itoa(n)
	}

	if len(filter.DocumentIDs) > 0 {
		placeholders := make([]string, 0, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			placeholders = append(placeholders, arg(id.String()))
		}
		query += ` AND document_id IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if filter.SupplierName != "" {
		query += ` AND supplier_name = ` + arg(filter.SupplierName)
	}
	if filter.RequiresReview != nil {
		query += ` AND requires_review = ` + arg(*filter.RequiresReview)
	}
	if !filter.From.IsZero() {
		query += ` AND extracted_at >= ` + arg(filter.From)
	}
	if !filter.To.IsZero() {
		query += ` AND extracted_at <= ` + arg(filter.To)
	}
	query += ` ORDER BY extracted_at DESC`

	var blobs []string
	if err := r.db.SelectContext(ctx, &blobs, query, args...); err != nil {
		return nil, err
	}
	out := make([]entity.InvoiceJSON, 0, len(blobs))
	for _, blob := range blobs {
		var rec entity.InvoiceJSON
		if err := json.Unmarshal([]byte(blob), &rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
