package logging_test

import (
	"testing"

	"github.com/septivank/irrigation-sync-worker/internal/db"
	"github.com/septivank/irrigation-sync-worker/internal/logging"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger_Level(t *testing.T) {
	logger, err := logging.NewLogger("irrigation-sync-worker", "warn")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info must be disabled at warn level")
	}

	if _, err := logging.NewLogger("irrigation-sync-worker", "loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestWithSystem_AddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := logging.WithSystem(logging.WithRunID(zap.New(core), "run-1"), db.System{ID: 5, Name: "Estufa"})

	logger.Info("processing system")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["run_id"] != "run-1" || fields["system_id"] != int64(5) || fields["system_name"] != "Estufa" {
		t.Errorf("unexpected fields %v", fields)
	}
}
