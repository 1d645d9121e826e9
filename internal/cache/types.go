package cache

import (
	"context"
	"time"

	"github.com/jmgilman/go/errors"
)

// CodeStorageFailed marks failures reading or writing entry files.
const CodeStorageFailed errors.ErrorCode = "STORAGE_FAILED"

// DefaultLockTimeout bounds how long a refresh waits for another writer.
const DefaultLockTimeout = 2 * time.Minute

// State is the state of an entry relative to a TTL.
type State int

const (
	// StateAbsent means there is no entry, or it is empty.
	StateAbsent State = iota

	// StateFresh means the entry is no older than the TTL.
	StateFresh

	// StateExpired means the entry is older than the TTL.
	StateExpired
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateFresh:
		return "fresh"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Pipeline produces the artifact for a key. found is false when the key has
// no document.
type Pipeline interface {
	Render(ctx context.Context, key string) (data []byte, found bool, err error)
}

// Locker provides exclusive access per key.
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned
	// function releases the key.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// Config holds configuration for a Manager.
type Config struct {
	// Dir is the directory holding entry files.
	Dir string

	// TTL is the maximum age of an entry that is served without a refresh.
	TTL time.Duration

	// LockTimeout bounds the wait for another writer of the same key.
	// Zero uses DefaultLockTimeout.
	LockTimeout time.Duration
}

// Stats holds cache counters.
type Stats struct {
	Hits        int64     `json:"hits"`        // served fresh entries
	Misses      int64     `json:"misses"`      // absent entries
	Expired     int64     `json:"expired"`     // entries past the TTL
	Refreshes   int64     `json:"refreshes"`   // successful renders written
	Coalesced   int64     `json:"coalesced"`   // refreshes satisfied by another writer
	NotFound    int64     `json:"not_found"`   // keys without a document
	Failures    int64     `json:"failures"`    // render or storage failures
	LastRefresh time.Time `json:"last_refresh"` // time of the last successful refresh
}

// EntryInfo describes an entry file.
type EntryInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}
