package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type stubExpirer struct {
	calls   atomic.Int32
	expired int
	err     error
}

func (s *stubExpirer) ExpireDueCheckins(context.Context) (int, error) {
	s.calls.Add(1)
	return s.expired, s.err
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("rejects an invalid schedule", func(t *testing.T) {
		t.Parallel()
		if _, err := New(&stubExpirer{}, Options{Schedule: "whenever"}); err == nil {
			t.Fatalf("expected schedule error")
		}
	})

	t.Run("requires an expirer", func(t *testing.T) {
		t.Parallel()
		if _, err := New(nil, Options{}); err == nil {
			t.Fatalf("expected error for nil expirer")
		}
	})
}

func TestSweeper_RunOnce(t *testing.T) {
	t.Parallel()

	t.Run("returns the expired count", func(t *testing.T) {
		t.Parallel()
		stub := &stubExpirer{expired: 3}
		s, err := New(stub, Options{})
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		expired, err := s.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("RunOnce returned error: %v", err)
		}
		if expired != 3 {
			t.Fatalf("expected 3 expired, got %d", expired)
		}
		if s.Runs() != 1 {
			t.Fatalf("expected 1 run, got %d", s.Runs())
		}
	})

	t.Run("propagates errors", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("lock timeout")
		s, err := New(&stubExpirer{err: boom}, Options{})
		if err != nil {
			t.Fatalf("New returned error: %v", err)
		}
		if _, err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
			t.Fatalf("expected %v, got %v", boom, err)
		}
	})
}

func TestSweeper_StartRunsOnSchedule(t *testing.T) {
	t.Parallel()

	stub := &stubExpirer{}
	s, err := New(stub, Options{Schedule: "@every 1s"})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	if err := s.Start(ctx); err == nil {
		t.Fatalf("expected error when starting twice")
	}

	deadline := time.Now().Add(5 * time.Second)
	for stub.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	s.Stop()
	if stub.calls.Load() == 0 {
		t.Fatalf("expected at least one scheduled sweep")
	}
}
