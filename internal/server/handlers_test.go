package server

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/egtimer/invoice-ai-processor/constants"
	"github.com/egtimer/invoice-ai-processor/internal/common"
	"github.com/egtimer/invoice-ai-processor/internal/docparse"
	"github.com/egtimer/invoice-ai-processor/internal/entity"
	"github.com/egtimer/invoice-ai-processor/internal/export"
	"github.com/egtimer/invoice-ai-processor/internal/extract"
	"github.com/egtimer/invoice-ai-processor/internal/jobs"
	"github.com/egtimer/invoice-ai-processor/internal/llm"
	"github.com/egtimer/invoice-ai-processor/internal/pipeline"
	"github.com/egtimer/invoice-ai-processor/internal/repository"
	"github.com/egtimer/invoice-ai-processor/internal/storage"
	"github.com/egtimer/invoice-ai-processor/internal/validate"
)

const docxMIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const invoiceText = `FACTURA

Nº Factura: FAC-2024-001
Fecha: 15/03/2024

De:
Tecnología Avanzada S.L.
CIF: B12345678

Para:
Cliente Ejemplo S.A.

Base Imponible: 1.000,00 EUR
IVA (21%): 210,00
Total a Pagar: 1.210,00
`

type memDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]*entity.Document
}

func (m *memDocs) Create(_ context.Context, doc *entity.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = doc
	return nil
}

func (m *memDocs) GetByID(_ context.Context, id uuid.UUID) (*entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, common.ErrUnknownDocument
	}
	return doc, nil
}

func (m *memDocs) List(context.Context) ([]entity.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entity.Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, *d)
	}
	return out, nil
}

type memInvoices struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*entity.InvoiceJSON
}

func (m *memInvoices) Upsert(_ context.Context, documentID uuid.UUID, rec *entity.InvoiceJSON) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[documentID] = rec
	return nil
}

func (m *memInvoices) GetByDocumentID(_ context.Context, documentID uuid.UUID) (*entity.InvoiceJSON, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[documentID]
	if !ok {
		return nil, common.ErrNotCompleted
	}
	return rec, nil
}

func (m *memInvoices) List(_ context.Context, filter repository.InvoiceFilter) ([]entity.InvoiceJSON, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(filter.DocumentIDs) > 0 {
		out := make([]entity.InvoiceJSON, 0, len(filter.DocumentIDs))
		for _, id := range filter.DocumentIDs {
			if r, ok := m.recs[id]; ok {
				out = append(out, *r)
			}
		}
		return out, nil
	}
	out := make([]entity.InvoiceJSON, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, *r)
	}
	return out, nil
}

type noLLM struct{}

func (noLLM) ExtractFields(context.Context, llm.ExtractRequest) (llm.InvoiceFields, []byte, error) {
	return llm.InvoiceFields{}, nil, common.ErrEscalationUnavailable
}
func (noLLM) Configured() bool { return false }

type apiTest struct {
	srv      *httptest.Server
	docs     *memDocs
	invoices *memInvoices
	jobs     *jobs.Store
}

func newAPITest(t *testing.T) *apiTest {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	files, err := storage.NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	docs := &memDocs{docs: map[uuid.UUID]*entity.Document{}}
	invoices := &memInvoices{recs: map[uuid.UUID]*entity.InvoiceJSON{}}
	jobStore := jobs.NewStore()

	parser := docparse.NewNativeParser(logger)
	normalizer := docparse.NewNormalizer(parser, 1<<20, logger)
	pipe := &pipeline.Pipeline{
		Logger:     logger,
		Normalizer: normalizer,
		Local:      extract.NewLocalExtractor(logger),
		Evaluator: extract.NewEvaluator(common.ExtractionConfig{
			EscalationThreshold: 0.7,
			ReviewThreshold:     0.7,
			Weights:             common.DefaultWeights(),
		}),
		LLM:       noLLM{},
		Validator: validate.NewValidator(0.7, logger),
		Invoices:  invoices,
		Files:     files,
		Jobs:      jobStore,
	}
	coord := pipeline.NewCoordinator(pipe, docs, jobStore, logger, common.ProcessingConfig{
		Workers:    2,
		QueueSize:  8,
		RunTimeout: 10 * time.Second,
	})
	t.Cleanup(func() { coord.Shutdown(context.Background()) })

	handler := NewInvoiceHandler(
		coord,
		normalizer,
		docs,
		invoices,
		files,
		export.NewService(invoices, logger),
		1<<20,
		false,
		logger,
	)
	srv := httptest.NewServer(NewRouter(handler, logger))
	t.Cleanup(srv.Close)

	return &apiTest{srv: srv, docs: docs, invoices: invoices, jobs: jobStore}
}

func docxPayload(t *testing.T, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	esc := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	var body strings.Builder
	body.WriteString(`<?xml version="1.0"?><w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	for _, line := range strings.Split(content, "\n") {
		body.WriteString("<w:p><w:r><w:t>")
		body.WriteString(esc.Replace(line))
		body.WriteString("</w:t></w:r></w:p>")
	}
	body.WriteString("</w:body></w:document>")

	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte(body.String())); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, fieldName, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, filename))
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func (a *apiTest) post(t *testing.T, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	resp, err := http.Post(a.srv.URL+path, contentType, body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestUploadProcessAndFetchResult(t *testing.T) {
	api := newAPITest(t)

	body, contentType := multipartBody(t, "file", "factura.docx", docxMIME, docxPayload(t, invoiceText))
	resp := api.post(t, "/api/v1/invoices/upload", body, contentType)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("upload status = %d", resp.StatusCode)
	}
	var up struct {
		DocumentID string `json:"document_id"`
		Status     string `json:"status"`
	}
	decodeBody(t, resp, &up)
	if up.Status != string(constants.JobStatusPending) {
		t.Errorf("status = %q", up.Status)
	}
	id, err := uuid.Parse(up.DocumentID)
	if err != nil {
		t.Fatalf("document_id = %q", up.DocumentID)
	}

	resp = api.post(t, "/api/v1/invoices/"+id.String()+"/process", nil, "application/json")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("process status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for {
		if job, ok := api.jobs.Get(id); ok && job.Status.Terminal() {
			if job.Status != constants.JobStatusCompleted {
				t.Fatalf("job = %+v", job)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("processing did not finish")
		}
		time.Sleep(10 * time.Millisecond)
	}

	res, err := http.Get(api.srv.URL + "/api/v1/invoices/" + id.String())
	if err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != http.StatusOK {
		t.Fatalf("results status = %d", res.StatusCode)
	}
	var rec entity.InvoiceJSON
	decodeBody(t, res, &rec)
	if rec.InvoiceNumber != "FAC-2024-001" || rec.Total != 1210 {
		t.Errorf("record = %+v", rec)
	}
}

func TestUploadRejectsUnsupportedFormat(t *testing.T) {
	api := newAPITest(t)

	body, contentType := multipartBody(t, "file", "virus.exe", "application/x-msdownload", []byte("MZ"))
	resp := api.post(t, "/api/v1/invoices/upload", body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	api := newAPITest(t)

	body, contentType := multipartBody(t, "file", "empty.pdf", "application/pdf", nil)
	resp := api.post(t, "/api/v1/invoices/upload", body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnsupportedMediaType {
		t.Errorf("status = %d, want 415", resp.StatusCode)
	}
}

func TestUploadInfersMIMEFromExtension(t *testing.T) {
	api := newAPITest(t)

	body, contentType := multipartBody(t, "file", "factura.docx", "application/octet-stream", docxPayload(t, invoiceText))
	resp := api.post(t, "/api/v1/invoices/upload", body, contentType)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var up struct {
		MIMEType string `json:"mime_type"`
	}
	decodeBody(t, resp, &up)
	if up.MIMEType != docxMIME {
		t.Errorf("mime = %q", up.MIMEType)
	}
}

func TestBatchUploadReportsPerFileErrors(t *testing.T) {
	api := newAPITest(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range []struct {
		name, contentType string
		data              []byte
	}{
		{"factura.docx", docxMIME, docxPayload(t, invoiceText)},
		{"notas.exe", "application/x-msdownload", []byte("MZ")},
	} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, f.name))
		h.Set("Content-Type", f.contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(f.data); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	resp := api.post(t, "/api/v1/invoices/upload/batch", &buf, w.FormDataContentType())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Documents []struct {
			Filename string `json:"filename"`
			Error    string `json:"error"`
		} `json:"documents"`
	}
	decodeBody(t, resp, &out)
	if len(out.Documents) != 2 {
		t.Fatalf("documents = %+v", out.Documents)
	}
	if out.Documents[0].Error != "" {
		t.Errorf("docx upload failed: %q", out.Documents[0].Error)
	}
	if out.Documents[1].Error == "" {
		t.Error("exe upload should report an error")
	}
}

func TestStatusUnknownDocument(t *testing.T) {
	api := newAPITest(t)

	resp, err := http.Get(api.srv.URL + "/api/v1/invoices/" + uuid.NewString() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStatusInvalidID(t *testing.T) {
	api := newAPITest(t)

	resp, err := http.Get(api.srv.URL + "/api/v1/invoices/not-a-uuid/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestResultsBeforeProcessingNotFound(t *testing.T) {
	api := newAPITest(t)

	doc := &entity.Document{ID: uuid.New(), Filename: "f.pdf", MIMEType: "application/pdf", UploadedAt: time.Now().UTC()}
	if err := api.docs.Create(context.Background(), doc); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(api.srv.URL + "/api/v1/invoices/" + doc.ID.String())
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExportEndpoint(t *testing.T) {
	api := newAPITest(t)
	id := uuid.New()
	err := api.invoices.Upsert(context.Background(), id, &entity.InvoiceJSON{
		InvoiceNumber:    "FAC-2024-001",
		Supplier:         entity.CompanyJSON{Name: "Proveedor"},
		Client:           entity.CompanyJSON{Name: "Cliente"},
		Total:            1210,
		Currency:         "EUR",
		ExtractionMethod: "local",
		ExtractedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	resp := api.post(t, "/api/v1/export", strings.NewReader(`{"format":"csv"}`), "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("content type = %q", ct)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "invoices.csv") {
		t.Errorf("disposition = %q", cd)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "FAC-2024-001") {
		t.Errorf("csv = %q", data)
	}
}

func TestExportSelectsRequestedDocuments(t *testing.T) {
	api := newAPITest(t)
	wanted := uuid.New()
	other := uuid.New()
	for id, number := range map[uuid.UUID]string{wanted: "FAC-2024-100", other: "FAC-2024-200"} {
		err := api.invoices.Upsert(context.Background(), id, &entity.InvoiceJSON{
			InvoiceNumber:    number,
			Supplier:         entity.CompanyJSON{Name: "Proveedor"},
			Client:           entity.CompanyJSON{Name: "Cliente"},
			Total:            100,
			Currency:         "EUR",
			ExtractionMethod: "local",
			ExtractedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	body := fmt.Sprintf(`{"invoice_ids":[%q],"format":"json"}`, wanted)
	resp := api.post(t, "/api/v1/export", strings.NewReader(body), "application/json")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var recs []entity.InvoiceJSON
	decodeBody(t, resp, &recs)
	if len(recs) != 1 || recs[0].InvoiceNumber != "FAC-2024-100" {
		t.Errorf("recs = %+v", recs)
	}
}

func TestExportUnknownDocumentID(t *testing.T) {
	api := newAPITest(t)

	body := fmt.Sprintf(`{"invoice_ids":[%q],"format":"json"}`, uuid.New())
	resp := api.post(t, "/api/v1/export", strings.NewReader(body), "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestExportRejectsMalformedDocumentID(t *testing.T) {
	api := newAPITest(t)

	resp := api.post(t, "/api/v1/export", strings.NewReader(`{"invoice_ids":["not-a-uuid"],"format":"json"}`), "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestExportRejectsUnknownFormat(t *testing.T) {
	api := newAPITest(t)

	resp := api.post(t, "/api/v1/export", strings.NewReader(`{"format":"pdf"}`), "application/json")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	api := newAPITest(t)

	resp, err := http.Get(api.srv.URL + "/api/v1/health")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Status          string `json:"status"`
		ParserAvailable bool   `json:"parser_available"`
		LLMConfigured   bool   `json:"llm_configured"`
	}
	decodeBody(t, resp, &out)
	if out.Status != "healthy" || !out.ParserAvailable || out.LLMConfigured {
		t.Errorf("health = %+v", out)
	}
}
