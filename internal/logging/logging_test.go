package logging

import (
	"errors"
	"testing"
)

func TestOperationErrorFormatsContext(t *testing.T) {
	base := errors.New("shape mismatch")
	err := NewOperationError("classifier.analyze", "req-1", "onnx", base)

	if got, want := err.Error(), "classifier.analyze [onnx] (request_id=req-1): shape mismatch"; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}

	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Backend != "onnx" {
		t.Fatalf("expected OperationError with backend, got %#v", err)
	}
}

func TestNewOperationErrorNil(t *testing.T) {
	if err := NewOperationError("op", "", "", nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(Options{Level: "chatty"}); err == nil {
		t.Fatal("expected invalid level to fail")
	}
	logger, err := NewLogger(Options{Level: "debug", Encoding: "console"})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	_ = logger.Sync()
}
