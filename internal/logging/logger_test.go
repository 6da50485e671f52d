package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Options{Level: "shouting"}); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerWritesFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skincheck.log")
	logger, err := NewLogger(Options{Level: "debug", File: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	logger.Info("file sink check")
	_ = logger.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log file to contain entries")
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("repository.insert_scan", "req-1", base)

	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got, want := err.Error(), "repository.insert_scan (request_id=req-1): boom"; got != want {
		t.Fatalf("unexpected message: %s", got)
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestRetryErrorReportsAttempts(t *testing.T) {
	err := NewRetryError("cache.set", "req-2", 3, errors.New("timeout"))

	if got, want := err.Error(), "cache.set (request_id=req-2, attempts=3): timeout"; got != want {
		t.Fatalf("unexpected message: %s", got)
	}

	fields := ErrorFields(err)
	if len(fields) != 3 {
		t.Fatalf("expected error, operation and attempts fields, got %d", len(fields))
	}
	if fields[1].Key != "failed_operation" || fields[1].String != "cache.set" {
		t.Fatalf("unexpected operation field: %+v", fields[1])
	}
	if fields[2].Key != "attempts" || fields[2].Integer != 3 {
		t.Fatalf("unexpected attempts field: %+v", fields[2])
	}
}

func TestErrorFieldsPlainError(t *testing.T) {
	if fields := ErrorFields(errors.New("plain")); len(fields) != 1 {
		t.Fatalf("expected only the error field, got %d", len(fields))
	}
}
