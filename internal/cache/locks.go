package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jmgilman/go/errors"
	"golang.org/x/sync/semaphore"
)

// KeyedLocker is an in-process Locker. Each held or awaited key has a
// weight-one semaphore that is dropped once nobody references it.
type KeyedLocker struct {
	timeout time.Duration

	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// NewKeyedLocker returns a locker that waits at most timeout for a key.
// A timeout of zero waits until the context is done.
func NewKeyedLocker(timeout time.Duration) *KeyedLocker {
	return &KeyedLocker{timeout: timeout, keys: make(map[string]*keyLock)}
}

// Lock implements Locker.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	kl := l.ref(key)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	if err := kl.sem.Acquire(ctx, 1); err != nil {
		l.unref(key, kl)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.WithContext(errors.Wrap(err, errors.CodeTimeout, "wait for entry lock"), "key", key)
		}
		return nil, errors.WithContext(errors.Wrap(err, errors.CodeUnavailable, "wait for entry lock"), "key", key)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			kl.sem.Release(1)
			l.unref(key, kl)
		})
	}, nil
}

// Len returns the number of keys currently held or awaited.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}

func (l *KeyedLocker) ref(key string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl, ok := l.keys[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(1)}
		l.keys[key] = kl
	}
	kl.refs++
	return kl
}

func (l *KeyedLocker) unref(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	kl.refs--
	if kl.refs == 0 {
		delete(l.keys, key)
	}
}
