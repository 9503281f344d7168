// Package sqlite implements persistence.Documents on an embedded SQLite
// database: one row per document and one row per held advisory lock.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/roomflow/internal/persistence"
)

// Storage is the SQLite-backed document store.
type Storage struct {
	pool   *ConnectionPool
	lock   persistence.LockOptions
	retry  RetryConfig
	logger *slog.Logger
	now    func() time.Time

	// beforeCommit runs inside the write transaction just before commit.
	// Tests use it to simulate a crash.
	beforeCommit func() error
}

var _ persistence.Documents = (*Storage)(nil)

// Open connects to the database described by config. Call Migrate before use.
func Open(ctx context.Context, config Config, logger *slog.Logger) (*Storage, error) {
	pool, err := NewConnectionPool(ctx, config)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Storage{
		pool:   pool,
		lock:   config.Lock.WithDefaults(),
		retry:  DefaultRetryConfig(),
		logger: logger.With("component", "sqlite"),
		now:    time.Now,
	}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}

// Read implements persistence.Documents.
func (s *Storage) Read(ctx context.Context, key string, dst any) (bool, error) {
	data, found, err := s.ReadRaw(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("sqlite: decode %s: %w", key, err)
	}
	return true, nil
}

// ReadRaw implements persistence.Documents.
func (s *Storage) ReadRaw(ctx context.Context, key string) ([]byte, bool, error) {
	if err := persistence.ValidateKey(key); err != nil {
		return nil, false, err
	}
	var body []byte
	err := withRetry(ctx, s.retry, func() error {
		return s.pool.DB().QueryRowContext(ctx, `SELECT body FROM documents WHERE key = ?`, key).Scan(&body)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("sqlite: read %s: %w", key, err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false, nil
	}
	return body, true, nil
}

// WriteAtomic implements persistence.Documents.
func (s *Storage) WriteAtomic(ctx context.Context, key string, doc any) error {
	return s.WithLock(ctx, key, func(ctx context.Context) error {
		return s.WriteAtomicUnlocked(ctx, key, doc)
	})
}

// WriteAtomicUnlocked implements persistence.Documents. The upsert runs in a
// single transaction, so readers observe either the old or the new body.
func (s *Storage) WriteAtomicUnlocked(ctx context.Context, key string, doc any) error {
	if err := persistence.ValidateKey(key); err != nil {
		return err
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlite: encode %s: %w", key, err)
	}
	updatedAt := s.now().UTC().Format(time.RFC3339Nano)

	return withRetry(ctx, s.retry, func() error {
		return s.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO documents (key, collection, body, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
				key, persistence.Collection(key), body, updatedAt); err != nil {
				return err
			}
			if s.beforeCommit != nil {
				return s.beforeCommit()
			}
			return nil
		})
	})
}

// WithLock implements persistence.Documents. The primary-key insert into
// the locks table is the exclusive-create primitive.
func (s *Storage) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	if err := persistence.ValidateKey(key); err != nil {
		return err
	}
	owner := uuid.NewString()
	if err := s.acquire(ctx, key, owner); err != nil {
		return err
	}
	defer func() {
		releaseErr := withRetry(context.WithoutCancel(ctx), s.retry, func() error {
			_, err := s.pool.DB().ExecContext(context.WithoutCancel(ctx), `DELETE FROM locks WHERE key = ? AND owner = ?`, key, owner)
			return err
		})
		if releaseErr != nil && err == nil {
			err = fmt.Errorf("sqlite: release lock for %s: %w", key, releaseErr)
		}
	}()
	return fn(ctx)
}

func (s *Storage) acquire(ctx context.Context, key, owner string) error {
	started := time.Now()
	for {
		err := withRetry(ctx, s.retry, func() error {
			_, err := s.pool.DB().ExecContext(ctx,
				`INSERT INTO locks (key, owner, acquired_at) VALUES (?, ?, ?)`,
				key, owner, s.now().UnixNano())
			return err
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, errDuplicate) {
			return fmt.Errorf("sqlite: create lock for %s: %w", key, err)
		}

		threshold := s.now().Add(-s.lock.Stale).UnixNano()
		res, err := s.pool.DB().ExecContext(ctx, `DELETE FROM locks WHERE key = ? AND acquired_at < ?`, key, threshold)
		if err == nil {
			if n, _ := res.RowsAffected(); n > 0 {
				s.logger.WarnContext(ctx, "reclaimed stale lock", "key", key)
				continue
			}
		}

		waited := time.Since(started)
		if waited >= s.lock.Timeout {
			return persistence.LockTimeoutError(key, waited)
		}

		timer := time.NewTimer(s.lock.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// List implements persistence.Documents.
func (s *Storage) List(ctx context.Context, collection string) ([]string, error) {
	if err := persistence.ValidateKey(collection); err != nil {
		return nil, err
	}
	rows, err := s.pool.DB().QueryContext(ctx, `SELECT key FROM documents WHERE collection = ? ORDER BY key`, collection)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list %s: %w", collection, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", collection, err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Remove implements persistence.Documents.
func (s *Storage) Remove(ctx context.Context, key string) error {
	return s.WithLock(ctx, key, func(ctx context.Context) error {
		res, err := s.pool.DB().ExecContext(ctx, `DELETE FROM documents WHERE key = ?`, key)
		if err != nil {
			return fmt.Errorf("sqlite: remove %s: %w", key, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", persistence.ErrNotFound, key)
		}
		return nil
	})
}
