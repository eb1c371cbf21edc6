package observability

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestTraceMiddlewareGeneratesID(t *testing.T) {
	var captured string
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chat", nil))

	if captured == "" {
		t.Fatal("trace id missing from context")
	}
	if got := rec.Header().Get("X-Trace-ID"); got != captured {
		t.Fatalf("response header %q does not match context id %q", got, captured)
	}
}

func TestTraceMiddlewareHonorsIncomingID(t *testing.T) {
	handler := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/chat", nil)
	req.Header.Set("X-Trace-ID", "trace-123")
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Trace-ID"); got != "trace-123" {
		t.Fatalf("expected incoming trace id kept, got %q", got)
	}
}

func TestLoggingMiddlewareRecordsStatusAndSize(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	logged := buf.String()
	if !strings.Contains(logged, "status=418") {
		t.Fatalf("status missing from log: %s", logged)
	}
	if !strings.Contains(logged, "bytes=15") {
		t.Fatalf("byte count missing from log: %s", logged)
	}
}

func TestResponseRecorderForwardsFlush(t *testing.T) {
	rec := httptest.NewRecorder()
	wrapped := &responseRecorder{ResponseWriter: rec, status: http.StatusOK}

	var flusher http.Flusher = wrapped
	flusher.Flush()

	if !rec.Flushed {
		t.Fatal("flush not forwarded to underlying writer")
	}
}
