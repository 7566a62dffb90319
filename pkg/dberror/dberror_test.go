package dberror

import (
	"errors"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := NewLogFull("logengine", 4096, 0)
	if !errors.Is(err, ErrLogFull) {
		t.Fatalf("expected errors.Is(err, ErrLogFull) to be true")
	}
	if errors.Is(err, ErrStaleVersion) {
		t.Fatalf("expected errors.Is(err, ErrStaleVersion) to be false")
	}
}

func TestWithCauseUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := NewIoError("blockdevice", "WriteAt", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to satisfy errors.Is")
	}
}

func TestErrorStringIncludesDetail(t *testing.T) {
	err := NewNotFound("logmanager", "asn=42")
	got := err.Error()
	if got == "" {
		t.Fatalf("expected non-empty error string")
	}
}
