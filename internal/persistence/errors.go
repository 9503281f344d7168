package persistence

import "errors"

var (
	// ErrNotFound is returned when the requested document does not exist.
	ErrNotFound = errors.New("persistence: not found")
	// ErrLockTimeout is returned when a shard lock cannot be acquired in time.
	ErrLockTimeout = errors.New("persistence: lock acquisition timed out")
	// ErrInvalidKey is returned for keys that are empty or escape the store.
	ErrInvalidKey = errors.New("persistence: invalid document key")
)
