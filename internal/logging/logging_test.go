package logging

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewOperationErrorNilPassesThrough(t *testing.T) {
	if err := NewOperationError("controller.submit", "s-1", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestOperationErrorUnwrapsToSentinel(t *testing.T) {
	sentinel := errors.New("prediction failed")
	err := NewOperationError("controller.submit", "s-1", sentinel)

	if !errors.Is(err, sentinel) {
		t.Fatalf("expected errors.Is to match the wrapped sentinel")
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("expected OperationError, got %T", err)
	}
	if got, want := err.Error(), "controller.submit (session_id=s-1): prediction failed"; got != want {
		t.Fatalf("unexpected message: %q want %q", got, want)
	}
}

func TestOperationErrorWithoutSession(t *testing.T) {
	err := NewOperationError("tips.load", "", errors.New("boom"))
	if got, want := err.Error(), "tips.load: boom"; got != want {
		t.Fatalf("unexpected message: %q want %q", got, want)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger("loud", false); err == nil {
		t.Fatal("expected error for unknown level")
	}
	logger, err := NewLogger("debug", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !logger.Core().Enabled(zap.DebugLevel) {
		t.Fatal("expected debug level to be enabled")
	}
}

func TestErrorFieldsLiftsOperationAndSession(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)

	sentinel := errors.New("tips load failed")
	err := fmt.Errorf("handler: %w", NewOperationError("controller.request_tips", "s-9", sentinel))
	logger.Warn("action failed", ErrorFields(err)...)
	logger.Warn("plain failure", ErrorFields(sentinel)...)

	if ErrorFields(nil) != nil {
		t.Fatal("expected no fields for a nil error")
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "controller.request_tips" || fields["session_id"] != "s-9" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["error"] != "tips load failed" {
		t.Fatalf("expected the unwrapped error, got %v", fields["error"])
	}
	plain := entries[1].ContextMap()
	if _, ok := plain["session_id"]; ok || plain["error"] != "tips load failed" {
		t.Fatalf("unexpected fields for plain error: %v", plain)
	}
}
