package application

import (
	"errors"
	"fmt"
	"testing"

	"github.com/example/roomflow/internal/scheduler"
)

func TestValidationError_Error(t *testing.T) {
	t.Parallel()

	var err *ValidationError
	if err.Error() != "" {
		t.Fatalf("expected empty string for nil error, got %q", err.Error())
	}

	empty := &ValidationError{}
	if got := empty.Error(); got != "validation failed" {
		t.Fatalf("expected generic message for empty error, got %q", got)
	}

	withFields := &ValidationError{FieldErrors: map[string]string{"start": "invalid", "end": "too early"}}
	if got := withFields.Error(); got != "validation failed: end: too early; start: invalid" {
		t.Fatalf("expected sorted field messages, got %q", got)
	}
}

func TestValidationError_HasErrors(t *testing.T) {
	t.Parallel()

	if (&ValidationError{}).HasErrors() {
		t.Fatalf("expected HasErrors to report false for empty error")
	}
	if !(&ValidationError{FieldErrors: map[string]string{"field": "bad"}}).HasErrors() {
		t.Fatalf("expected HasErrors to report true when fields are present")
	}
}

func TestValidationError_AddAndMerge(t *testing.T) {
	t.Parallel()

	base := &ValidationError{}
	base.add("first", "value")
	if got := base.Message("first"); got != "value" {
		t.Fatalf("expected add to populate map, got %q", got)
	}

	base.merge(fieldError("second", "another"))
	if got := base.Message("second"); got != "another" {
		t.Fatalf("expected merge to copy field, got %q", got)
	}

	base.merge(nil)
	if len(base.FieldErrors) != 2 {
		t.Fatalf("expected merge with nil to leave fields unchanged")
	}
}

func TestWindowValidation(t *testing.T) {
	t.Parallel()

	_, _, err := scheduler.DefaultRules().ValidateWindow("2024-05-06", "10:00", "09:00")
	converted := windowValidation(err)

	var vErr *ValidationError
	if !errors.As(converted, &vErr) {
		t.Fatalf("expected ValidationError, got %T", converted)
	}
	if vErr.Message("end") == "" {
		t.Fatalf("expected end field error, got %v", vErr.FieldErrors)
	}

	plain := errors.New("disk full")
	if got := windowValidation(plain); got != plain {
		t.Fatalf("expected non-window errors to pass through, got %v", got)
	}
}

func TestErrorsWrapSentinels(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("%w: booking b_0001", ErrNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound")
	}
	if ErrorKind(wrapped) != "not_found" {
		t.Fatalf("expected not_found kind, got %q", ErrorKind(wrapped))
	}
}
