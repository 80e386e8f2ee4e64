package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"sitealert/internal/domain"
)

// HTTPHandler decodes JSON snapshot envelopes and forwards them to sink.
// Params: sink evaluates snapshots, max body limits payload size.
// Returns: HTTP handler for ingest endpoint.
type HTTPHandler struct {
	sink        SnapshotSink
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates ingest HTTP handler.
// Params: sink, max request body size in bytes, and optional logger.
// Returns: configured handler.
func NewHTTPHandler(sink SnapshotSink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, logger: logger}
}

type ingestResponse struct {
	Accepted int    `json:"accepted"`
	Alerts   int    `json:"alerts"`
	Error    string `json:"error,omitempty"`
}

// ServeHTTP handles one snapshot or batch of snapshots.
// 202 on success, 400 on bad payload, 409 for uninitialized sites, 503 on other failures.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.Header().Set("Allow", http.MethodPost)
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(writer, http.StatusRequestEntityTooLarge, ingestResponse{Error: "payload too large"})
			return
		}
		writeJSON(writer, http.StatusBadRequest, ingestResponse{Error: err.Error()})
		return
	}

	envelopes, err := decodePayload(body)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, ingestResponse{Error: err.Error()})
		return
	}

	result := evaluateEnvelopes(request.Context(), h.sink, envelopes, "http")
	response := ingestResponse{Accepted: result.Accepted, Alerts: result.Alerts}
	if result.Err != nil {
		response.Error = result.Err.Error()
		if h.logger != nil {
			h.logger.Warn("http ingest evaluation failed", "accepted", result.Accepted, "error", result.Err.Error())
		}
		status := http.StatusServiceUnavailable
		if errors.Is(result.Err, domain.ErrNotInitialized) {
			status = http.StatusConflict
		}
		writeJSON(writer, status, response)
		return
	}
	writeJSON(writer, http.StatusAccepted, response)
}

func writeJSON(writer http.ResponseWriter, status int, payload any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	_ = json.NewEncoder(writer).Encode(payload)
}
