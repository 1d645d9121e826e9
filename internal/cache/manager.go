package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"github.com/jmgilman/go/errors"
)

// Manager serves artifacts from a DiskStore and refreshes absent or expired
// entries through a Pipeline.
type Manager struct {
	store    *DiskStore
	pipeline Pipeline
	locks    Locker
	now      func() time.Time

	ttl atomic.Int64

	mu    sync.Mutex
	stats Stats
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock sets the clock entry ages are measured against.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLocker replaces the in-process per-key locker.
func WithLocker(l Locker) Option {
	return func(m *Manager) { m.locks = l }
}

// NewManager returns a manager for store. Only cfg.TTL and cfg.LockTimeout
// are used; the store is already bound to its directory.
func NewManager(store *DiskStore, pipeline Pipeline, cfg Config, opts ...Option) *Manager {
	timeout := cfg.LockTimeout
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}

	m := &Manager{
		store:    store,
		pipeline: pipeline,
		locks:    NewKeyedLocker(timeout),
		now:      time.Now,
	}
	m.ttl.Store(int64(cfg.TTL))
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the current TTL.
func (m *Manager) TTL() time.Duration {
	return time.Duration(m.ttl.Load())
}

// SetTTL changes the TTL used by Get. It is safe to call concurrently.
func (m *Manager) SetTTL(ttl time.Duration) {
	m.ttl.Store(int64(ttl))
}

// Get returns the artifact for key using the configured TTL.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return m.GetTTL(ctx, key, m.TTL())
}

// GetTTL returns the artifact for key, rendering it when the entry is
// absent or older than ttl. found is false when the key has no document.
func (m *Manager) GetTTL(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	if key == "" {
		return nil, false, errors.New(errors.CodeInvalidInput, "key is empty")
	}
	if ttl < 0 {
		return nil, false, errors.Newf(errors.CodeInvalidInput, "negative ttl %s", ttl)
	}

	data, state, err := m.lookup(key, ttl)
	if err != nil {
		return nil, false, err
	}

	switch state {
	case StateFresh:
		m.count(func(s *Stats) { s.Hits++ })
		log.Debug("Cache hit", "key", key)
		return data, true, nil
	case StateExpired:
		m.count(func(s *Stats) { s.Expired++ })
		log.Info("Cache expired", "key", key)
	default:
		m.count(func(s *Stats) { s.Misses++ })
		log.Debug("Cache miss", "key", key)
	}

	return m.refresh(ctx, key, ttl)
}

// State reports the state of key's entry for ttl.
func (m *Manager) State(key string, ttl time.Duration) (State, error) {
	info, ok, err := m.store.Stat(key)
	if err != nil {
		return StateAbsent, err
	}
	return m.classify(info, ok, ttl), nil
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Prune removes entries last written before cutoff.
func (m *Manager) Prune(cutoff time.Time) (int, error) {
	n, err := m.store.RemoveOlderThan(cutoff)
	if n > 0 {
		log.Info("Pruned cache entries", "count", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, err
}

// lookup returns the entry's content when it is fresh. An empty read is
// treated as absent.
func (m *Manager) lookup(key string, ttl time.Duration) ([]byte, State, error) {
	info, ok, err := m.store.Stat(key)
	if err != nil {
		return nil, StateAbsent, err
	}
	state := m.classify(info, ok, ttl)
	if state != StateFresh {
		return nil, state, nil
	}

	data, err := m.store.Read(key)
	if err != nil {
		return nil, StateAbsent, err
	}
	if len(data) == 0 {
		return nil, StateAbsent, nil
	}
	return data, StateFresh, nil
}

func (m *Manager) classify(info EntryInfo, ok bool, ttl time.Duration) State {
	if !ok || info.Size == 0 {
		return StateAbsent
	}
	if m.now().Sub(info.ModTime) <= ttl {
		return StateFresh
	}
	return StateExpired
}

func (m *Manager) refresh(ctx context.Context, key string, ttl time.Duration) ([]byte, bool, error) {
	unlock, err := m.locks.Lock(ctx, EntryName(key))
	if err != nil {
		m.count(func(s *Stats) { s.Failures++ })
		log.Warn("Cache lock unavailable", "key", key, "err", err)
		return nil, false, err
	}
	defer unlock()

	// Another writer may have refreshed the entry while we waited.
	data, state, err := m.lookup(key, ttl)
	if err != nil {
		return nil, false, err
	}
	if state == StateFresh {
		m.count(func(s *Stats) { s.Coalesced++ })
		log.Debug("Cache refreshed by another request", "key", key)
		return data, true, nil
	}

	// Once started, a render runs to completion even if the caller goes away.
	start := m.now()
	data, found, err := m.pipeline.Render(context.WithoutCancel(ctx), key)
	if err != nil {
		m.count(func(s *Stats) { s.Failures++ })
		log.Error("Render failed", "key", key, "err", err)
		return nil, false, err
	}
	if !found {
		m.count(func(s *Stats) { s.NotFound++ })
		log.Info("Document not found", "key", key, "stale", state == StateExpired)
		return nil, false, nil
	}
	if len(data) == 0 {
		m.count(func(s *Stats) { s.Failures++ })
		return nil, false, errors.WithContext(
			errors.New(errors.CodeExecutionFailed, "pipeline produced an empty artifact"), "key", key)
	}

	if err := m.store.Write(key, data); err != nil {
		m.count(func(s *Stats) { s.Failures++ })
		log.Error("Cache write failed", "key", key, "err", err)
		return nil, false, err
	}

	now := m.now()
	m.count(func(s *Stats) {
		s.Refreshes++
		s.LastRefresh = now
	})
	log.Info("Cache refreshed", "key", key,
		"size", humanize.Bytes(uint64(len(data))),
		"took", now.Sub(start).Round(time.Millisecond))
	return data, true, nil
}

func (m *Manager) count(f func(*Stats)) {
	m.mu.Lock()
	f(&m.stats)
	m.mu.Unlock()
}
