package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNewPrefixesCodeName(t *testing.T) {
	err := New(InvalidQueueSettingsError, "ring queue requires no lvqKey")
	if !strings.HasPrefix(err.Error(), "InvalidQueueSettingsError: ") {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
}

func TestNewWithoutMessage(t *testing.T) {
	err := New(DetachedError)
	if err.Error() != "DetachedError" {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
}

func TestNewUnknownCode(t *testing.T) {
	err := New(999)
	if err.Error() != "UnknownError" {
		t.Fatalf("unexpected error text: %q", err.Error())
	}
}

func TestCodeOfRecoversCode(t *testing.T) {
	err := New(InternalError, "bad frame")
	code, ok := CodeOf(err)
	if !ok || code != InternalError {
		t.Fatalf("expected CodeOf to recover InternalError, got code=%d ok=%v", code, ok)
	}
}

func TestCodeOfWrappedError(t *testing.T) {
	wrapped := fmt.Errorf("connection handler: %w", New(InternalError, "bad frame"))
	code, ok := CodeOf(wrapped)
	if !ok || code != InternalError {
		t.Fatalf("expected CodeOf to see through %%w wrapping, got code=%d ok=%v", code, ok)
	}
}

func TestCodeOfNonErrsError(t *testing.T) {
	if _, ok := CodeOf(errors.New("plain error")); ok {
		t.Fatal("expected CodeOf to report false for a non-errs error")
	}
}
