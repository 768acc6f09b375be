package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// =============================================================================
// Request Logging Middleware Tests
// =============================================================================

func TestRequestLoggingMiddleware_LogsBasicInfo(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	wrapped := chimw.RequestID(mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/payment/notification", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	logOutput := buf.String()
	for _, want := range []string{"POST", "/payment/notification", "202", "duration_ms", "192.168.1.1", "request_id"} {
		if !strings.Contains(logOutput, want) {
			t.Errorf("log should contain %q, got: %s", want, logOutput)
		}
	}
}

func TestRequestLoggingMiddleware_ServerErrorsAreWarnings(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/payment/notification", nil))

	if !strings.Contains(buf.String(), "level=WARN") {
		t.Errorf("expected WARN level for 5xx, got: %s", buf.String())
	}
}

func TestRequestLoggingMiddleware_SkipsProbes(t *testing.T) {
	var buf bytes.Buffer
	mw := NewRequestLoggingMiddleware(slog.New(slog.NewTextHandler(&buf, nil)))

	wrapped := mw.Handler(okHandler())
	for _, path := range []string{"/health", "/metrics"} {
		wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if buf.Len() != 0 {
		t.Errorf("expected no log output, got: %s", buf.String())
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		rawQuery string
		expected string
	}{
		{name: "no query", path: "/payment/success", expected: "/payment/success"},
		{
			name:     "gateway redirect",
			path:     "/payment/success",
			rawQuery: "Success=true&PaymentId=13660&TerminalKey=TK&Token=abc",
			expected: "/payment/success?PaymentId=13660&Success=true&TerminalKey=[REDACTED]&Token=[REDACTED]",
		},
		{
			name:     "mixed case password",
			path:     "/x",
			rawQuery: "PassWord=hunter2&a=1",
			expected: "/x?PassWord=[REDACTED]&a=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizePath(tt.path, tt.rawQuery); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
