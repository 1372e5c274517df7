package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNewJSONLoggerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "warn", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	logger.Info("hidden")
	logger.Warn("shown", "video_id", "abc123")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected a single record, got %d: %q", len(lines), buf.String())
	}

	var record map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record["msg"] != "shown" || record["video_id"] != "abc123" {
		t.Fatalf("unexpected record %+v", record)
	}
}

func TestNewTextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "debug", Format: "text", Writer: &buf})
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Debug("resolving", "video_id", "xyz")
	if !strings.Contains(buf.String(), "resolving") || !strings.Contains(buf.String(), "xyz") {
		t.Fatalf("expected text output to contain message and attrs, got %q", buf.String())
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
	if _, err := New(Options{Level: "loud"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestStartSpanReusesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithLogger(context.Background(), base)
	ctx = WithRequestID(ctx, "req-1")

	ctx, span := StartSpan(ctx, "resolve", "video_id", "abc")
	if TraceIDFromContext(ctx) != "req-1" {
		t.Fatalf("expected trace id to reuse request id, got %q", TraceIDFromContext(ctx))
	}
	if SpanIDFromContext(ctx) == "" {
		t.Fatal("expected span id on context")
	}
	span.End()

	out := buf.String()
	for _, want := range []string{`"span completed"`, `"trace_id":"req-1"`, `"span_name":"resolve"`, `"video_id":"abc"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in %s", want, out)
		}
	}
}
