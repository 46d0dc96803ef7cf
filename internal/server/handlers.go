package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/docparse"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
	"github.com/egtimer/invoice-ai-processor/internal/export"
	"github.com/egtimer/invoice-ai-processor/internal/pipeline"
	"github.com/egtimer/invoice-ai-processor/internal/repository"
	"github.com/egtimer/invoice-ai-processor/internal/storage"
)

// InvoiceHandler serves the invoice processing endpoints.
type InvoiceHandler struct {
	coordinator *pipeline.Coordinator
	normalizer  *docparse.Normalizer
	docs        repository.DocumentRepository
	invoices    repository.InvoiceRepository
	files       storage.Storage
	exporter    *export.Service
	maxFileSize int64
	llmReady    bool
	logger      *slog.Logger
}

func NewInvoiceHandler(
	coordinator *pipeline.Coordinator,
	normalizer *docparse.Normalizer,
	docs repository.DocumentRepository,
	invoices repository.InvoiceRepository,
	files storage.Storage,
	exporter *export.Service,
	maxFileSize int64,
	llmReady bool,
	logger *slog.Logger,
) *InvoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceHandler{
		coordinator: coordinator,
		normalizer:  normalizer,
		docs:        docs,
		invoices:    invoices,
		files:       files,
		exporter:    exporter,
		maxFileSize: maxFileSize,
		llmReady:    llmReady,
		logger:      logger,
	}
}

type uploadResponse struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
	MIMEType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	Status     string `json:"status"`
}

// UploadDocument accepts one multipart file and registers it as pending.
func (h *InvoiceHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.maxFileSize {
		respondError(w, h.logger, common.WrapError(common.ErrUnsupportedFormat, "file exceeds size limit"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize)
	if err := r.ParseMultipartForm(h.maxFileSize); err != nil {
		if strings.Contains(err.Error(), "request body too large") {
			respondError(w, h.logger, common.WrapError(common.ErrUnsupportedFormat, "file exceeds size limit"))
			return
		}
		respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, "invalid form data"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, "no file provided"))
		return
	}
	defer file.Close()

	resp, err := h.ingestOne(r, file, header)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// UploadBatch accepts several files in one request; per-file failures are
// reported in the response without failing the whole batch.
func (h *InvoiceHandler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize*10)
	if err := r.ParseMultipartForm(h.maxFileSize * 10); err != nil {
		respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, "invalid form data"))
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files"]) == 0 {
		respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, "no files provided"))
		return
	}

	type batchItem struct {
		Filename string          `json:"filename"`
		Result   *uploadResponse `json:"result,omitempty"`
		Error    string          `json:"error,omitempty"`
	}
	var items []batchItem

	for _, header := range r.MultipartForm.File["files"] {
		file, err := header.Open()
		if err != nil {
			items = append(items, batchItem{Filename: header.Filename, Error: "could not open file part"})
			continue
		}
		resp, err := h.ingestOne(r, file, header)
		file.Close()
		if err != nil {
			items = append(items, batchItem{Filename: header.Filename, Error: err.Error()})
			continue
		}
		items = append(items, batchItem{Filename: header.Filename, Result: resp})
	}
	respondJSON(w, http.StatusCreated, map[string]any{"documents": items})
}

func (h *InvoiceHandler) ingestOne(r *http.Request, file multipart.File, header *multipart.FileHeader) (*uploadResponse, error) {
	mimeType := header.Header.Get("Content-Type")
	if !constants.MIMEAllowed(mimeType) {
		mimeType = constants.MIMEForExt(filepath.Ext(header.Filename))
	}
	if !constants.MIMEAllowed(mimeType) {
		return nil, common.WrapError(common.ErrUnsupportedFormat, fmt.Sprintf("file %q has an unsupported format", header.Filename))
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxFileSize+1))
	if err != nil {
		return nil, common.WrapError(common.ErrInternal, "read uploaded file")
	}
	if int64(len(data)) > h.maxFileSize {
		return nil, common.WrapError(common.ErrUnsupportedFormat, "file exceeds size limit")
	}
	if len(data) == 0 {
		return nil, common.WrapError(common.ErrUnsupportedFormat, "uploaded file is empty")
	}

	id := uuid.New()
	key := id.String() + "/" + filepath.Base(header.Filename)
	if err := h.files.Upload(r.Context(), key, data, mimeType); err != nil {
		return nil, common.WrapError(common.ErrInternal, "store uploaded file")
	}

	doc := &entity.Document{
		ID:         id,
		Filename:   header.Filename,
		MIMEType:   mimeType,
		Size:       int64(len(data)),
		StorageKey: key,
		UploadedAt: time.Now().UTC(),
	}
	if err := h.docs.Create(r.Context(), doc); err != nil {
		return nil, common.WrapError(common.ErrInternal, "record uploaded document")
	}
	h.coordinator.Register(id)

	h.logger.Info("upload.ok",
		"req_id", common.RequestIDFromContext(r.Context()),
		"document_id", id,
		"filename", doc.Filename,
		"mime_type", mimeType,
		"size", doc.Size,
	)
	return &uploadResponse{
		DocumentID: id.String(),
		Filename:   doc.Filename,
		MIMEType:   mimeType,
		Size:       doc.Size,
		Status:     string(constants.JobStatusPending),
	}, nil
}

// StartProcessing queues an extraction run for the document.
func (h *InvoiceHandler) StartProcessing(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	job, err := h.coordinator.Start(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusAccepted, jobResponse(job))
}

// Reprocess queues a run that always escalates to the LLM.
func (h *InvoiceHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	job, err := h.coordinator.Reprocess(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusAccepted, jobResponse(job))
}

// GetStatus reports the current job snapshot for the document.
func (h *InvoiceHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	job, err := h.coordinator.Status(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, jobResponse(job))
}

// GetResults returns the stored extraction result for a completed document.
func (h *InvoiceHandler) GetResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	if _, err := h.docs.GetByID(r.Context(), id); err != nil {
		respondError(w, h.logger, err)
		return
	}
	rec, err := h.invoices.GetByDocumentID(r.Context(), id)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type exportRequest struct {
	InvoiceIDs     []string `json:"invoice_ids,omitempty"`
	Format         string   `json:"format"`
	SupplierName   string   `json:"supplier_name,omitempty"`
	RequiresReview *bool    `json:"requires_review,omitempty"`
	From           string   `json:"from,omitempty"` // YYYY-MM-DD
	To             string   `json:"to,omitempty"`   // YYYY-MM-DD
}

// Export renders stored results as JSON, CSV or XLSX.
func (h *InvoiceHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, "invalid export request"))
		return
	}
	format := export.Format(strings.ToLower(req.Format))
	if format == "" {
		format = export.FormatJSON
	}

	filter := repository.InvoiceFilter{
		SupplierName:   req.SupplierName,
		RequiresReview: req.RequiresReview,
	}
	seen := make(map[uuid.UUID]struct{}, len(req.InvoiceIDs))
	for _, raw := range req.InvoiceIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, fmt.Sprintf("invalid invoice id %q", raw)))
			return
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		filter.DocumentIDs = append(filter.DocumentIDs, id)
	}
	if req.From != "" {
		t, err := time.Parse("2006-01-02", req.From)
		if err != nil {
			respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, "invalid from date"))
			return
		}
		filter.From = t
	}
	if req.To != "" {
		t, err := time.Parse("2006-01-02", req.To)
		if err != nil {
			respondError(w, h.logger, common.WrapError(common.ErrInvalidInput, "invalid to date"))
			return
		}
		filter.To = t.Add(24*time.Hour - time.Nanosecond)
	}

	out, err := h.exporter.Export(r.Context(), format, filter)
	if err != nil {
		respondError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="invoices.`+string(format)+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// Health reports component readiness.
func (h *InvoiceHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "healthy",
		"parser_available": h.normalizer.ParserAvailable(r.Context()),
		"llm_configured":   h.llmReady,
	})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := mux.Vars(r)["id"]
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, common.WrapError(common.ErrInvalidInput, "invalid document identifier")
	}
	return id, nil
}

type jobStatusResponse struct {
	DocumentID string              `json:"document_id"`
	Status     string              `json:"status"`
	Progress   float64             `json:"progress"`
	Message    string              `json:"message,omitempty"`
	Error      string              `json:"error,omitempty"`
	Method     string              `json:"extraction_method,omitempty"`
	Record     *entity.InvoiceJSON `json:"record,omitempty"`
	StartedAt  time.Time           `json:"started_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func jobResponse(job entity.ProcessingJob) jobStatusResponse {
	return jobStatusResponse{
		DocumentID: job.DocumentID.String(),
		Status:     string(job.Status),
		Progress:   job.Progress,
		Message:    job.Message,
		Error:      job.Error,
		Method:     string(job.Method),
		Record:     job.Record,
		StartedAt:  job.StartedAt,
		UpdatedAt:  job.UpdatedAt,
	}
}
