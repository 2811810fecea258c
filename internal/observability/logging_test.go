package observability

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/halcyonix/playbook/internal/config"
	"github.com/halcyonix/playbook/model"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "debug"})
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Error("debug level should be enabled")
	}
}

func TestNewLogger_badLevelFallsBack(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "chatty"})
	if err != nil {
		t.Fatalf("NewLogger error: %v", err)
	}
	if logger.Core().Enabled(zap.DebugLevel) {
		t.Error("unknown level should fall back to info")
	}
}

func TestLoggerFrom_roundTrip(t *testing.T) {
	logger := zap.NewNop()
	ctx := WithLogger(context.Background(), logger)

	if got := LoggerFrom(ctx, nil); got != logger {
		t.Error("LoggerFrom did not return the stored logger")
	}
	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should return the fallback when nothing is stored")
	}
}

func TestRequestLogger_addsAuthFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	ctx := WithLogger(context.Background(), logger)
	ctx = model.WithAuthContext(ctx, &model.AuthContext{
		UserID:        "user-1",
		CorrelationID: "corr-1",
		TraceID:       "trace-1",
	})

	RequestLogger(ctx, nil).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["user_id"] != "user-1" || fields["correlation_id"] != "corr-1" || fields["trace_id"] != "trace-1" {
		t.Errorf("fields = %v", fields)
	}
}
