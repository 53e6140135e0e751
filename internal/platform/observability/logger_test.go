package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/gamevault/api/internal/platform/requestctx"
)

func TestServiceLoggerLevels(t *testing.T) {
	cases := []struct {
		event string
		want  zapcore.Level
	}{
		{event: "cart.persist_failed", want: zapcore.WarnLevel},
		{event: "cart.rehydrate_corrupt", want: zapcore.WarnLevel},
		{event: "checkout.failed", want: zapcore.WarnLevel},
		{event: "checkout.widget_error", want: zapcore.WarnLevel},
		{event: "checkout.approved", want: zapcore.DebugLevel},
		{event: "payment.intent_created", want: zapcore.DebugLevel},
		{event: "failed.lookup", want: zapcore.DebugLevel},
		{event: "checkout.errors_cleared", want: zapcore.DebugLevel},
	}
	for _, tc := range cases {
		t.Run(tc.event, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			ServiceLogger(zap.New(core))(context.Background(), tc.event, map[string]any{"key": "cart:u1"})

			entries := logs.All()
			if len(entries) != 1 {
				t.Fatalf("expected one entry, got %d", len(entries))
			}
			if entries[0].Level != tc.want {
				t.Fatalf("expected %s for %s, got %s", tc.want, tc.event, entries[0].Level)
			}
			if entries[0].ContextMap()["event"] != tc.event {
				t.Fatalf("expected event field, got %v", entries[0].ContextMap())
			}
		})
	}
}

func TestServiceLoggerCarriesTraceID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-123"})

	ServiceLogger(zap.New(core))(ctx, "cart.rehydrate_corrupt", map[string]any{"error": "unexpected end of JSON input"})

	entry := logs.All()[0]
	fields := entry.ContextMap()
	if fields["trace_id"] != "trace-123" {
		t.Fatalf("expected trace id, got %v", fields)
	}
	if fields["error"] != "unexpected end of JSON input" {
		t.Fatalf("expected error field, got %v", fields)
	}
}

func TestServiceLoggerNilLoggerIsNoop(t *testing.T) {
	ServiceLogger(nil)(context.Background(), "cart.persist_failed", nil)
}
