package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
)

// DocumentRepository records uploaded documents.
type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	List(ctx context.Context) ([]entity.Document, error)
}

type documentRepository struct {
	db *sqlx.DB
}

func NewDocumentRepository(db *sqlx.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(ctx context.Context, doc *entity.Document) error {
	query := `
		INSERT INTO documents (id, filename, mime_type, file_size, storage_key, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		doc.ID.String(),
		doc.Filename,
		doc.MIMEType,
		doc.Size,
		doc.StorageKey,
		doc.UploadedAt,
	)
	return err
}

func (r *documentRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	var row documentRow
	query := `
		SELECT id, filename, mime_type, file_size, storage_key, uploaded_at
		FROM documents
		WHERE id = $1
	`
	if err := r.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrUnknownDocument
		}
		return nil, err
	}
	return row.toEntity()
}

func (r *documentRepository) List(ctx context.Context) ([]entity.Document, error) {
	var rows []documentRow
	query := `
		SELECT id, filename, mime_type, file_size, storage_key, uploaded_at
		FROM documents
		ORDER BY uploaded_at DESC
	`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	out := make([]entity.Document, 0, len(rows))
	for _, row := range rows {
		doc, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, *doc)
	}
	return out, nil
}

type documentRow struct {
	ID         string       `db:"id"`
	Filename   string       `db:"filename"`
	MIMEType   string       `db:"mime_type"`
	Size       int64        `db:"file_size"`
	StorageKey string       `db:"storage_key"`
	UploadedAt sql.NullTime `db:"uploaded_at"`
}

func (row documentRow) toEntity() (*entity.Document, error) {
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, err
	}
	return &entity.Document{
		ID:         id,
		Filename:   row.Filename,
		MIMEType:   row.MIMEType,
		Size:       row.Size,
		StorageKey: row.StorageKey,
		UploadedAt: row.UploadedAt.Time,
	}, nil
}
