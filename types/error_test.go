package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestError_ChainingAndHelpers(t *testing.T) {
	t.Parallel()

	root := errors.New("root")
	err := NewError(ErrResumeFailed, "continuation failed").
		WithCause(root).
		WithHTTPStatus(502).
		WithRetryable(true)

	if GetErrorCode(err) != ErrResumeFailed {
		t.Fatalf("expected code %s, got %s", ErrResumeFailed, GetErrorCode(err))
	}
	if !IsRetryable(err) {
		t.Fatalf("expected retryable")
	}
	if !errors.Is(err, root) {
		t.Fatalf("expected errors.Is unwrap to root")
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error string")
	}
}

func TestError_WrappedLookup(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("handler: %w", NewError(ErrNotFound, "event not found"))
	if !IsErrorCode(wrapped, ErrNotFound) {
		t.Fatalf("expected NOT_FOUND through wrap")
	}
	if IsErrorCode(errors.New("plain"), ErrNotFound) {
		t.Fatalf("plain error must not carry a code")
	}
	if GetErrorCode(errors.New("plain")) != "" {
		t.Fatalf("expected empty code")
	}
}
