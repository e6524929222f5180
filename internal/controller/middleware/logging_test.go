package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"

	"cifleet/internal/logger"
)

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewWithWriter(&buf, "info")

	var seen string
	handler := chimw.RequestID(Logging(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte("busy"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/nodes/vm-1", nil)
	req.Header.Set(chimw.RequestIDHeader, "req-42")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if seen != "req-42" {
		t.Errorf("expected request id in context, got %q", seen)
	}

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q", buf.String())
	}
	if entry["level"] != "WARN" || entry["request_id"] != "req-42" || entry["path"] != "/api/nodes/vm-1" {
		t.Errorf("unexpected log entry %v", entry)
	}
	if entry["status"] != float64(http.StatusConflict) || entry["bytes_written"] != float64(4) {
		t.Errorf("unexpected status or size in %v", entry)
	}
}
