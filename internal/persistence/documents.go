package persistence

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Documents stores small JSON documents addressed by slash-separated keys
// such as "bookings/2025-03-10_room_1". Every key belongs to the collection
// named by its first segment.
type Documents interface {
	// Read decodes the document at key into dst. An absent or empty document
	// reports false and leaves dst untouched.
	Read(ctx context.Context, key string, dst any) (bool, error)
	// ReadRaw returns the stored bytes of the document at key.
	ReadRaw(ctx context.Context, key string) ([]byte, bool, error)
	// WriteAtomic replaces the document at key while holding its lock.
	WriteAtomic(ctx context.Context, key string, doc any) error
	// WriteAtomicUnlocked replaces the document at key; the caller must
	// already hold the key's lock.
	WriteAtomicUnlocked(ctx context.Context, key string, doc any) error
	// WithLock runs fn while holding the exclusive advisory lock for key.
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
	// List returns the sorted keys stored in collection.
	List(ctx context.Context, collection string) ([]string, error)
	// Remove deletes the document at key, returning ErrNotFound when absent.
	Remove(ctx context.Context, key string) error
	// Close releases backend resources.
	Close() error
}

// LockOptions tunes advisory lock acquisition.
type LockOptions struct {
	// Timeout bounds how long an acquirer waits before ErrLockTimeout.
	Timeout time.Duration
	// Stale is the age after which a lock marker is considered abandoned.
	Stale time.Duration
	// Backoff is the pause between acquisition attempts.
	Backoff time.Duration
}

// DefaultLockOptions returns the lock timings used when none are configured.
func DefaultLockOptions() LockOptions {
	return LockOptions{
		Timeout: 5 * time.Second,
		Stale:   20 * time.Second,
		Backoff: 50 * time.Millisecond,
	}
}

// WithDefaults fills unset timings from DefaultLockOptions.
func (o LockOptions) WithDefaults() LockOptions {
	def := DefaultLockOptions()
	if o.Timeout <= 0 {
		o.Timeout = def.Timeout
	}
	if o.Stale <= 0 {
		o.Stale = def.Stale
	}
	if o.Backoff <= 0 {
		o.Backoff = def.Backoff
	}
	return o
}

// ValidateKey rejects keys that are empty, absolute, or contain dot segments.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	if path.Clean(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// Collection returns the first segment of key.
func Collection(key string) string {
	collection, _, _ := strings.Cut(key, "/")
	return collection
}

// LockTimeoutError builds the error returned when key's lock stayed busy.
func LockTimeoutError(key string, waited time.Duration) error {
	return fmt.Errorf("%w: %s after %s", ErrLockTimeout, key, waited.Round(time.Millisecond))
}
