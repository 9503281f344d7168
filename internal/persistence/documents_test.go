package persistence

import (
	"errors"
	"testing"
	"time"
)

func TestValidateKey(t *testing.T) {
	t.Parallel()

	valid := []string{"users/u_0001", "_meta/counters", "bookings/2025-03-10_room_1"}
	for _, key := range valid {
		if err := ValidateKey(key); err != nil {
			t.Fatalf("expected %q to be valid, got %v", key, err)
		}
	}

	invalid := []string{"", "/etc/passwd", "users/../secrets", "users//u_1", "users/", `users\u_1`, "./users"}
	for _, key := range invalid {
		if err := ValidateKey(key); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("expected ErrInvalidKey for %q, got %v", key, err)
		}
	}
}

func TestCollection(t *testing.T) {
	t.Parallel()

	if got := Collection("logs/audit_2025-03"); got != "logs" {
		t.Fatalf("expected logs, got %s", got)
	}
	if got := Collection("standalone"); got != "standalone" {
		t.Fatalf("expected standalone, got %s", got)
	}
}

func TestLockOptions_WithDefaults(t *testing.T) {
	t.Parallel()

	opts := LockOptions{Timeout: time.Second}.WithDefaults()
	if opts.Timeout != time.Second {
		t.Fatalf("expected explicit timeout to be kept, got %v", opts.Timeout)
	}
	if opts.Stale != 20*time.Second || opts.Backoff != 50*time.Millisecond {
		t.Fatalf("expected defaults, got %+v", opts)
	}
}

func TestLockTimeoutError(t *testing.T) {
	t.Parallel()

	err := LockTimeoutError("_meta/counters", 5*time.Second)
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
}
