package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/roomflow/internal/persistence"
)

type counterDoc struct {
	Value int `json:"value"`
}

func newTestStorage(t *testing.T, mutate func(*Config)) (*Storage, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "roomflow.db")
	config := TempFileTestConfig(path)
	if mutate != nil {
		mutate(&config)
	}
	storage, err := Open(context.Background(), config, nil)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	t.Cleanup(func() {
		_ = storage.Close()
	})
	if err := storage.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return storage, path
}

func TestStorage_ReadWrite(t *testing.T) {
	ctx := context.Background()
	storage, _ := newTestStorage(t, nil)

	doc := counterDoc{Value: 9}
	found, err := storage.Read(ctx, "_meta/counters", &doc)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if found || doc.Value != 9 {
		t.Fatalf("expected absent document to keep default, got found=%v doc=%+v", found, doc)
	}

	if err := storage.WriteAtomic(ctx, "_meta/counters", counterDoc{Value: 1}); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}
	if err := storage.WriteAtomic(ctx, "_meta/counters", counterDoc{Value: 2}); err != nil {
		t.Fatalf("WriteAtomic overwrite failed: %v", err)
	}
	found, err = storage.Read(ctx, "_meta/counters", &doc)
	if err != nil || !found {
		t.Fatalf("expected document, found=%v err=%v", found, err)
	}
	if doc.Value != 2 {
		t.Fatalf("expected 2, got %d", doc.Value)
	}
}

func TestStorage_MigrateIsIdempotent(t *testing.T) {
	storage, _ := newTestStorage(t, nil)
	if err := storage.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}

func TestStorage_CrashBeforeCommit(t *testing.T) {
	ctx := context.Background()
	storage, path := newTestStorage(t, nil)

	if err := storage.WriteAtomic(ctx, "rooms/room_1", counterDoc{Value: 1}); err != nil {
		t.Fatalf("WriteAtomic failed: %v", err)
	}
	crash := errors.New("simulated crash")
	storage.beforeCommit = func() error { return crash }
	if err := storage.WriteAtomic(ctx, "rooms/room_1", counterDoc{Value: 2}); !errors.Is(err, crash) {
		t.Fatalf("expected simulated crash, got %v", err)
	}
	_ = storage.Close()

	reopened, err := Open(ctx, TempFileTestConfig(path), nil)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	var doc counterDoc
	if _, err := reopened.Read(ctx, "rooms/room_1", &doc); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if doc.Value != 1 {
		t.Fatalf("expected previous version 1, got %d", doc.Value)
	}
}

func TestStorage_WithLock(t *testing.T) {
	ctx := context.Background()

	t.Run("times out while another owner holds the lock", func(t *testing.T) {
		storage, _ := newTestStorage(t, func(c *Config) {
			c.Lock = persistence.LockOptions{Timeout: 100 * time.Millisecond, Stale: time.Minute, Backoff: 10 * time.Millisecond}
		})
		if _, err := storage.pool.DB().ExecContext(ctx, `INSERT INTO locks (key, owner, acquired_at) VALUES (?, ?, ?)`,
			"_meta/counters", "other", time.Now().UnixNano()); err != nil {
			t.Fatalf("seed lock: %v", err)
		}
		err := storage.WithLock(ctx, "_meta/counters", func(context.Context) error { return nil })
		if !errors.Is(err, persistence.ErrLockTimeout) {
			t.Fatalf("expected ErrLockTimeout, got %v", err)
		}
	})

	t.Run("reclaims a stale lock", func(t *testing.T) {
		storage, _ := newTestStorage(t, func(c *Config) {
			c.Lock = persistence.LockOptions{Timeout: time.Second, Stale: time.Second, Backoff: 10 * time.Millisecond}
		})
		if _, err := storage.pool.DB().ExecContext(ctx, `INSERT INTO locks (key, owner, acquired_at) VALUES (?, ?, ?)`,
			"_meta/counters", "crashed", time.Now().Add(-time.Hour).UnixNano()); err != nil {
			t.Fatalf("seed lock: %v", err)
		}
		if err := storage.WithLock(ctx, "_meta/counters", func(context.Context) error { return nil }); err != nil {
			t.Fatalf("expected stale lock to be reclaimed, got %v", err)
		}
	})

	t.Run("serializes read-modify-write", func(t *testing.T) {
		storage, _ := newTestStorage(t, nil)

		var g errgroup.Group
		for i := 0; i < 25; i++ {
			g.Go(func() error {
				return storage.WithLock(ctx, "_meta/counters", func(ctx context.Context) error {
					var doc counterDoc
					if _, err := storage.Read(ctx, "_meta/counters", &doc); err != nil {
						return err
					}
					doc.Value++
					return storage.WriteAtomicUnlocked(ctx, "_meta/counters", doc)
				})
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("concurrent increments failed: %v", err)
		}

		var doc counterDoc
		if _, err := storage.Read(ctx, "_meta/counters", &doc); err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		if doc.Value != 25 {
			t.Fatalf("expected 25 increments, got %d", doc.Value)
		}
	})
}

func TestStorage_ListAndRemove(t *testing.T) {
	ctx := context.Background()
	storage, _ := newTestStorage(t, nil)

	for _, key := range []string{"users/u_0002", "users/u_0001", "rooms/room_1"} {
		if err := storage.WriteAtomic(ctx, key, counterDoc{}); err != nil {
			t.Fatalf("WriteAtomic %s failed: %v", key, err)
		}
	}
	keys, err := storage.List(ctx, "users")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "users/u_0001" || keys[1] != "users/u_0002" {
		t.Fatalf("expected sorted user keys, got %v", keys)
	}

	if err := storage.Remove(ctx, "users/u_0001"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := storage.Remove(ctx, "users/u_0001"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Config)
		wantErr bool
	}{
		"defaults":             {mutate: func(*Config) {}},
		"empty path":           {mutate: func(c *Config) { c.Path = " " }, wantErr: true},
		"bad journal mode":     {mutate: func(c *Config) { c.JournalMode = "FAST" }, wantErr: true},
		"bad synchronous mode": {mutate: func(c *Config) { c.Synchronous = "SOMETIMES" }, wantErr: true},
		"negative busy":        {mutate: func(c *Config) { c.BusyTimeout = -time.Second }, wantErr: true},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			config := DefaultConfig("/tmp/roomflow.db")
			tc.mutate(&config)
			err := config.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
