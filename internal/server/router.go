package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
)

// NewRouter wires the API routes and middleware.
func NewRouter(h *InvoiceHandler, logger *slog.Logger) http.Handler {
	r := mux.NewRouter()

	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))

	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	api.HandleFunc("/invoices/upload", h.UploadDocument).Methods(http.MethodPost)
	api.HandleFunc("/invoices/upload/batch", h.UploadBatch).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/process", h.StartProcessing).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}/status", h.GetStatus).Methods(http.MethodGet)
	api.HandleFunc("/invoices/{id}/reprocess", h.Reprocess).Methods(http.MethodPost)
	api.HandleFunc("/invoices/{id}", h.GetResults).Methods(http.MethodGet)

	api.HandleFunc("/export", h.Export).Methods(http.MethodPost)

	return r
}
