package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/roomflow/internal/persistence"
	"github.com/example/roomflow/internal/persistence/filedb"
	"github.com/example/roomflow/internal/persistence/sharded"
	"github.com/example/roomflow/internal/persistence/sqlite"
)

// Harness bundles a sharded repository over a throwaway document store with
// the clock and id sources tests inject into services.
type Harness struct {
	Repo     *sharded.Repository
	Docs     persistence.Documents
	Clock    *Clock
	GroupIDs *IDGenerator
	Location *time.Location
}

// HarnessOption configures a Harness.
type HarnessOption func(*Harness)

// WithClock overrides the harness clock.
func WithClock(clock *Clock) HarnessOption {
	return func(h *Harness) { h.Clock = clock }
}

// WithGroupIDs overrides the recurrence group id source.
func WithGroupIDs(gen *IDGenerator) HarnessOption {
	return func(h *Harness) { h.GroupIDs = gen }
}

func newHarness(docs persistence.Documents, opts []HarnessOption) *Harness {
	h := &Harness{
		Docs:     docs,
		Clock:    NewClock(time.Time{}),
		GroupIDs: NewIDGenerator("rec"),
		Location: time.UTC,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.Repo = sharded.New(docs, h.Location)
	return h
}

// NewFileHarness opens a file document store in a temporary directory.
func NewFileHarness(tb testing.TB, opts ...HarnessOption) *Harness {
	tb.Helper()
	store, err := filedb.Open(tb.TempDir(), filedb.Options{
		Lock: persistence.LockOptions{Timeout: 5 * time.Second, Stale: 20 * time.Second, Backoff: 2 * time.Millisecond},
	})
	if err != nil {
		tb.Fatalf("failed to open file store: %v", err)
	}
	tb.Cleanup(func() { _ = store.Close() })
	return newHarness(store, opts)
}

// NewSQLiteHarness opens a SQLite document store backed by a temporary file.
func NewSQLiteHarness(tb testing.TB, opts ...HarnessOption) *Harness {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "roomflow.db")
	storage, err := sqlite.Open(context.Background(), sqlite.TempFileTestConfig(path), nil)
	if err != nil {
		tb.Fatalf("failed to open sqlite storage: %v", err)
	}
	tb.Cleanup(func() { _ = storage.Close() })
	if err := storage.Migrate(context.Background()); err != nil {
		tb.Fatalf("failed to migrate sqlite storage: %v", err)
	}
	return newHarness(storage, opts)
}
