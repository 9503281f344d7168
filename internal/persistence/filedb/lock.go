package filedb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/example/roomflow/internal/persistence"
)

// WithLock implements persistence.Documents. The lock is a marker file
// "<document>.lock" created with O_CREATE|O_EXCL. Markers older than the
// stale threshold are reclaimed. Waiting honours ctx and the lock timeout.
func (s *Store) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) (err error) {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	release, err := s.acquire(ctx, key, path+lockExt)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := release(); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()
	return fn(ctx)
}

func (s *Store) acquire(ctx context.Context, key, lockPath string) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("filedb: create lock directory for %s: %w", key, err)
	}

	started := time.Now()
	for {
		file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			if err := writeOwner(file); err != nil {
				_ = os.Remove(lockPath)
				return nil, fmt.Errorf("filedb: write lock for %s: %w", key, err)
			}
			return func() error {
				if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("filedb: release lock for %s: %w", key, err)
				}
				return nil
			}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("filedb: create lock for %s: %w", key, err)
		}

		if info, statErr := os.Stat(lockPath); statErr == nil {
			if age := time.Since(info.ModTime()); age > s.lock.Stale {
				if rmErr := os.Remove(lockPath); rmErr == nil {
					s.logger.WarnContext(ctx, "reclaimed stale lock", "key", key, "age", age.Round(time.Millisecond).String())
				}
				continue
			}
		}

		waited := time.Since(started)
		if waited >= s.lock.Timeout {
			return nil, persistence.LockTimeoutError(key, waited)
		}

		timer := time.NewTimer(s.lock.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// writeOwner records the holder's pid and acquisition time in the marker and
// closes it.
func writeOwner(file *os.File) error {
	_, err := file.WriteString(strconv.Itoa(os.Getpid()) + " " + time.Now().UTC().Format(time.RFC3339Nano))
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	return err
}
