package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_LevelParsing(t *testing.T) {
	if !New("debug").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("debug level should enable debug records")
	}
	if New("bogus").Enabled(context.Background(), slog.LevelDebug) {
		t.Fatal("invalid level should fall back to info")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-1")
	if got := RequestID(ctx); got != "req-1" {
		t.Fatalf("expected req-1, got %q", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}

func TestFromContextCarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	ctx := WithRequestID(context.Background(), "req-42")
	FromContext(ctx, base).Info("hello")

	if !strings.Contains(buf.String(), `"request_id":"req-42"`) {
		t.Fatalf("expected request_id in output, got %s", buf.String())
	}
}

func TestFromContextPrefersStoredLogger(t *testing.T) {
	var stored, fallback bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&stored, nil)))

	FromContext(ctx, slog.New(slog.NewJSONHandler(&fallback, nil))).Info("x")

	if stored.Len() == 0 || fallback.Len() != 0 {
		t.Fatalf("expected stored logger to receive the record")
	}
}
