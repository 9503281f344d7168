// Package filedb implements persistence.Documents on a directory tree of
// JSON files, one file per key, with lock-marker files for mutual exclusion.
package filedb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/example/roomflow/internal/persistence"
)

const (
	documentExt = ".json"
	lockExt     = ".lock"
	tempPattern = ".*.tmp"
)

// Options configures a Store.
type Options struct {
	Lock   persistence.LockOptions
	Logger *slog.Logger
}

// Store is a file-backed document store rooted at a data directory.
type Store struct {
	root   string
	lock   persistence.LockOptions
	logger *slog.Logger

	// beforeRename runs after the temporary file is durable and before it
	// replaces the target. Tests use it to simulate a crash.
	beforeRename func(tempPath, targetPath string) error
}

var _ persistence.Documents = (*Store)(nil)

// Open prepares a store rooted at dir, creating the directory if needed.
func Open(dir string, opts Options) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("filedb: data directory is required")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("filedb: resolve data directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("filedb: create data directory: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		root:   abs,
		lock:   opts.Lock.WithDefaults(),
		logger: logger.With("component", "filedb"),
	}, nil
}

// Root returns the absolute data directory.
func (s *Store) Root() string {
	return s.root
}

// Close is a no-op; files are not held open between calls.
func (s *Store) Close() error {
	return nil
}

func (s *Store) pathFor(key string) (string, error) {
	if err := persistence.ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)+documentExt), nil
}

// Read implements persistence.Documents.
func (s *Store) Read(ctx context.Context, key string, dst any) (bool, error) {
	data, found, err := s.ReadRaw(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("filedb: decode %s: %w", key, err)
	}
	return true, nil
}

// ReadRaw implements persistence.Documents.
func (s *Store) ReadRaw(_ context.Context, key string) ([]byte, bool, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("filedb: read %s: %w", key, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, nil
	}
	return data, true, nil
}

// WriteAtomic implements persistence.Documents.
func (s *Store) WriteAtomic(ctx context.Context, key string, doc any) error {
	return s.WithLock(ctx, key, func(ctx context.Context) error {
		return s.WriteAtomicUnlocked(ctx, key, doc)
	})
}

// WriteAtomicUnlocked implements persistence.Documents. The document is
// written to a temporary file in the target directory, fsynced, and renamed
// into place; the parent directory is synced afterwards.
func (s *Store) WriteAtomicUnlocked(_ context.Context, key string, doc any) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("filedb: encode %s: %w", key, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filedb: create %s: %w", dir, err)
	}

	file, err := os.CreateTemp(dir, filepath.Base(path)+tempPattern)
	if err != nil {
		return fmt.Errorf("filedb: create temporary file for %s: %w", key, err)
	}
	tempPath := file.Name()

	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("filedb: write temporary file for %s: %w", key, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("filedb: sync temporary file for %s: %w", key, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("filedb: close temporary file for %s: %w", key, err)
	}

	if s.beforeRename != nil {
		if err := s.beforeRename(tempPath, path); err != nil {
			return err
		}
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("filedb: replace %s: %w", key, err)
	}

	if parent, err := os.Open(dir); err == nil {
		parent.Sync()
		parent.Close()
	}
	return nil
}

// List implements persistence.Documents.
func (s *Store) List(_ context.Context, collection string) ([]string, error) {
	if err := persistence.ValidateKey(collection); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.root, filepath.FromSlash(collection))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("filedb: list %s: %w", collection, err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, documentExt) {
			continue
		}
		keys = append(keys, collection+"/"+strings.TrimSuffix(name, documentExt))
	}
	sort.Strings(keys)
	return keys, nil
}

// Remove implements persistence.Documents.
func (s *Store) Remove(ctx context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	return s.WithLock(ctx, key, func(context.Context) error {
		if err := os.Remove(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%w: %s", persistence.ErrNotFound, key)
			}
			return fmt.Errorf("filedb: remove %s: %w", key, err)
		}
		return nil
	})
}
