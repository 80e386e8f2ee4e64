package ingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"sitealert/internal/domain"
)

func TestHTTPHandlerStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		body   string
		fail   map[string]error
		status int
	}{
		{name: "accepted", method: http.MethodPost, body: singleEnvelope, status: http.StatusAccepted},
		{name: "wrong method", method: http.MethodGet, status: http.StatusMethodNotAllowed},
		{name: "bad payload", method: http.MethodPost, body: `{"org_id":`, status: http.StatusBadRequest},
		{name: "not initialized", method: http.MethodPost, body: singleEnvelope, fail: map[string]error{"site-1": domain.ErrNotInitialized}, status: http.StatusConflict},
		{name: "store failure", method: http.MethodPost, body: singleEnvelope, fail: map[string]error{"site-1": errors.New("disk full")}, status: http.StatusServiceUnavailable},
		{name: "too large", method: http.MethodPost, body: singleEnvelope + strings.Repeat(" ", 4096), status: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			sink := &recordingSink{fail: tt.fail}
			handler := NewHTTPHandler(sink, 2048, nil)
			request := httptest.NewRequest(tt.method, "/ingest", strings.NewReader(tt.body))
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, request)
			if recorder.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %q)", recorder.Code, tt.status, recorder.Body.String())
			}
		})
	}
}

func TestHTTPHandlerReportsCounts(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{alert: 1}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	body := "[" + singleEnvelope + "," + strings.Replace(singleEnvelope, "site-1", "site-2", 1) + "]"
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body)))
	if recorder.Code != http.StatusAccepted {
		t.Fatalf("status = %d", recorder.Code)
	}

	var response ingestResponse
	if err := json.Unmarshal(recorder.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.Accepted != 2 || response.Alerts != 2 || response.Error != "" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if seen := sink.seen(); len(seen) != 2 || seen[1].SiteID != "site-2" {
		t.Fatalf("unexpected evaluated sites: %+v", seen)
	}
}
