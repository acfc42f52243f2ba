package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_UnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := NewLogger("verbose")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zap.DebugLevel) {
		t.Error("debug should be disabled at info level")
	}
	if !l.Core().Enabled(zap.InfoLevel) {
		t.Error("info should be enabled")
	}
}

func TestWithComponent(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := (&Logger{Logger: zap.New(core)}).WithComponent("ledger")

	l.Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["component"]; got != "ledger" {
		t.Errorf("component = %v, want ledger", got)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
}
