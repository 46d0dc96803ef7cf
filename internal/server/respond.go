package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/egtimer/invoice-ai-processor/internal/common"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Default().Error("http.encode_response_failed", "error", err)
	}
}

// respondError maps domain sentinels onto HTTP statuses.
func respondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrUnknownDocument):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrUnsupportedFormat):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, common.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrNotCompleted):
		// results do not exist until the run completes
		status = http.StatusNotFound
	case errors.Is(err, common.ErrParseFailure):
		status = http.StatusUnprocessableEntity
	}

	if status >= 500 {
		logger.Error("http.request_failed", "status", status, "error", err)
	} else {
		logger.Warn("http.request_rejected", "status", status, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
