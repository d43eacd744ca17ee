package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_LevelMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name         string
		level        string
		debugEnabled bool
	}{
		{name: "debug level", level: "debug", debugEnabled: true},
		{name: "info level", level: "info", debugEnabled: false},
		{name: "warn level upper case", level: "WARN", debugEnabled: false},
		{name: "empty level defaults to info", level: "", debugEnabled: false},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			logger, err := NewLogger(tc.level)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugEnabled {
				t.Fatalf("debug enabled=%v, want=%v", got, tc.debugEnabled)
			}
		})
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	t.Parallel()

	logger, err := NewLogger("loud")
	if err == nil {
		t.Fatal("expected error for invalid level")
	}
	if logger != nil {
		t.Fatal("expected nil logger for invalid level")
	}
}

func TestContextIDs(t *testing.T) {
	t.Parallel()

	ctx := WithBatchID(WithRequestID(context.Background(), "req-1"), "AAQ004")

	if requestID, ok := RequestIDFromContext(ctx); !ok || requestID != "req-1" {
		t.Fatalf("request id=%q ok=%v, want req-1", requestID, ok)
	}
	if batchID, ok := BatchIDFromContext(ctx); !ok || batchID != "AAQ004" {
		t.Fatalf("batch id=%q ok=%v, want AAQ004", batchID, ok)
	}
	if _, ok := BatchIDFromContext(context.Background()); ok {
		t.Fatal("expected batch id to be missing")
	}
}

func TestWithContextLogger(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	baseLogger := zap.New(core)

	ctx := WithBatchID(WithRequestID(context.Background(), "req-9"), "AAQ010")
	WithContextLogger(baseLogger, ctx).Info("processing")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}

	fields := entries[0].ContextMap()
	if fields["requestId"] != "req-9" {
		t.Fatalf("requestId=%v, want req-9", fields["requestId"])
	}
	if fields["batchId"] != "AAQ010" {
		t.Fatalf("batchId=%v, want AAQ010", fields["batchId"])
	}
}

func TestWithContextLogger_NoIDs(t *testing.T) {
	t.Parallel()

	core, recorded := observer.New(zapcore.InfoLevel)
	WithContextLogger(zap.New(core), context.Background()).Info("plain")

	entries := recorded.All()
	if len(entries) != 1 {
		t.Fatalf("entries=%d, want=1", len(entries))
	}
	if len(entries[0].ContextMap()) != 0 {
		t.Fatalf("unexpected fields: %v", entries[0].ContextMap())
	}
}

func TestWithContextLogger_NilLogger(t *testing.T) {
	t.Parallel()

	if got := WithContextLogger(nil, context.Background()); got != nil {
		t.Fatal("expected nil logger")
	}
}
