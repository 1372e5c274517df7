package middleware

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestIPRateLimiterRefillsOverTime(t *testing.T) {
	limiter := NewIPRateLimiter(1, time.Second, 1, time.Minute).(*ipRateLimiter)
	now := time.Unix(1_700_000_000, 0)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow("download:10.0.0.1") {
		t.Fatal("expected first request to pass")
	}
	if limiter.Allow("download:10.0.0.1") {
		t.Fatal("expected second request in the same instant to be limited")
	}
	if !limiter.Allow("download:10.0.0.2") {
		t.Fatal("expected other clients to have their own budget")
	}

	now = now.Add(time.Second)
	if !limiter.Allow("download:10.0.0.1") {
		t.Fatal("expected token to refill after the window")
	}
}

func TestIPRateLimiterForgetsIdleVisitors(t *testing.T) {
	limiter := NewIPRateLimiter(1, time.Hour, 1, time.Minute).(*ipRateLimiter)
	now := time.Unix(1_700_000_000, 0)
	limiter.WithNowFunc(func() time.Time { return now })

	limiter.Allow("a")
	now = now.Add(2 * time.Minute)
	limiter.Allow("b")

	limiter.mu.Lock()
	_, ok := limiter.visitors["a"]
	limiter.mu.Unlock()
	if ok {
		t.Fatal("expected idle visitor to be collected")
	}
}

type denyAll struct{}

func (denyAll) Allow(string) bool { return false }

func TestRateLimitMiddlewareRejects(t *testing.T) {
	called := false
	handler := RateLimit(denyAll{}, "download")(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/download", nil))

	if called {
		t.Fatal("expected handler not to run")
	}
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "too many requests") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := ClientIP(req); got != "192.0.2.1" {
		t.Fatalf("expected socket address, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ClientIP(req); got != "203.0.113.9" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestRequestLoggerRecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/songs", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected request id header")
	}
	out := buf.String()
	if !strings.Contains(out, "panic recovered") || !strings.Contains(out, `"status":500`) {
		t.Fatalf("unexpected log output %s", out)
	}
}

func TestResponseWriterCountsBytes(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := WrapResponseWriter(rec)
	if WrapResponseWriter(rw) != rw {
		t.Fatal("expected wrapping to be idempotent")
	}
	if rw.Written() {
		t.Fatal("expected fresh writer to be unwritten")
	}
	_, _ = io.WriteString(rw, "hello")
	if rw.Status() != http.StatusOK || rw.BytesWritten() != 5 || !rw.Written() {
		t.Fatalf("unexpected writer state status=%d bytes=%d", rw.Status(), rw.BytesWritten())
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/stream/abc", nil)
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("expected allow origin header")
	}
}
