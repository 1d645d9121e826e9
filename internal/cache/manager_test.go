package cache

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/press/internal/document"
	"github.com/charmbracelet/press/internal/pipeline"
	"github.com/charmbracelet/press/internal/render"
	"github.com/jmgilman/go/errors"
)

// fakePipeline renders "<key>@<n>" where n counts calls.
type fakePipeline struct {
	calls    atomic.Int32
	mu       sync.Mutex
	notFound bool
	err      error
	empty    bool
	delay    time.Duration
	block    chan struct{}
	started  chan struct{}
	ctxErr   error
}

func (f *fakePipeline) Render(ctx context.Context, key string) ([]byte, bool, error) {
	n := f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	switch {
	case f.err != nil:
		return nil, false, f.err
	case f.notFound:
		return nil, false, nil
	case f.empty:
		return []byte{}, true, nil
	}
	return []byte(key + "@" + string(rune('0'+n))), true, nil
}

func (f *fakePipeline) set(fn func(*fakePipeline)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func newTestManager(t *testing.T, p Pipeline, ttl time.Duration, opts ...Option) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatalf("NewDiskStore() error = %v", err)
	}
	return NewManager(store, p, Config{Dir: dir, TTL: ttl}, opts...), dir
}

func entryPath(dir, key string) string {
	return filepath.Join(dir, EntryName(key))
}

func age(t *testing.T, dir, key string, d time.Duration) {
	t.Helper()
	ts := time.Now().Add(-d)
	if err := os.Chtimes(entryPath(dir, key), ts, ts); err != nil {
		t.Fatalf("Chtimes() error = %v", err)
	}
}

func TestManager_AbsentRendersAndWrites(t *testing.T) {
	p := &fakePipeline{}
	m, dir := newTestManager(t, p, time.Minute)

	data, found, err := m.Get(context.Background(), "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(data) != "menu-1@1" {
		t.Fatalf("Get() = %q, %v", data, found)
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline calls = %d, want 1", p.calls.Load())
	}

	fi, err := os.Stat(entryPath(dir, "menu-1"))
	if err != nil {
		t.Fatalf("entry not written: %v", err)
	}
	if fi.Size() == 0 {
		t.Error("entry is empty")
	}
	if d := time.Since(fi.ModTime()); d > 5*time.Second {
		t.Errorf("entry age = %s, want about zero", d)
	}
}

func TestManager_FreshServedWithoutRender(t *testing.T) {
	p := &fakePipeline{}
	m, _ := newTestManager(t, p, time.Minute)
	ctx := context.Background()

	first, _, err := m.Get(ctx, "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	second, found, err := m.Get(ctx, "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	if !found || !bytes.Equal(first, second) {
		t.Errorf("fresh entry changed: %q -> %q", first, second)
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline calls = %d, want 1", p.calls.Load())
	}

	st := m.Stats()
	if st.Misses != 1 || st.Hits != 1 || st.Refreshes != 1 {
		t.Errorf("Stats() = %+v", st)
	}
}

func TestManager_MenuScenario(t *testing.T) {
	var resolves atomic.Int32
	res := resolverFunc(func(_ context.Context, key string) (*document.Document, error) {
		resolves.Add(1)
		if key != "menu-1" {
			return nil, nil
		}
		return &document.Document{Key: key, Name: "Lunch", Markdown: "# Special\n- Soup"}, nil
	})
	rnd, err := render.New("pdf", render.Options{})
	if err != nil {
		t.Fatal(err)
	}
	m, dir := newTestManager(t, pipeline.New(res, rnd), 60*time.Second)
	ctx := context.Background()

	data, found, err := m.Get(ctx, "menu-1")
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v", found, err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatal("artifact is not a PDF")
	}
	if resolves.Load() != 1 {
		t.Fatalf("resolves = %d, want 1", resolves.Load())
	}

	// 10s later: served from the entry.
	age(t, dir, "menu-1", 10*time.Second)
	served, _, err := m.Get(ctx, "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(served, data) {
		t.Error("served bytes differ from written bytes")
	}
	if resolves.Load() != 1 {
		t.Errorf("resolves after 10s = %d, want 1", resolves.Load())
	}

	// 61s later: exactly one re-render, and the age resets.
	age(t, dir, "menu-1", 61*time.Second)
	if _, _, err := m.Get(ctx, "menu-1"); err != nil {
		t.Fatal(err)
	}
	if resolves.Load() != 2 {
		t.Errorf("resolves after 61s = %d, want 2", resolves.Load())
	}
	fi, err := os.Stat(entryPath(dir, "menu-1"))
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(fi.ModTime()) > 5*time.Second {
		t.Error("refresh did not reset the entry age")
	}
	if _, _, err := m.Get(ctx, "menu-1"); err != nil {
		t.Fatal(err)
	}
	if resolves.Load() != 2 {
		t.Errorf("resolves after refresh = %d, want 2", resolves.Load())
	}
}

func TestManager_MissingCreatesNoEntry(t *testing.T) {
	p := &fakePipeline{notFound: true}
	m, dir := newTestManager(t, p, time.Minute)

	for range 3 {
		data, found, err := m.Get(context.Background(), "missing")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if found || data != nil {
			t.Errorf("Get() = %q, %v; want not found", data, found)
		}
	}
	if p.calls.Load() != 3 {
		t.Errorf("pipeline calls = %d, want 3", p.calls.Load())
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("cache directory has %d files, want 0", len(entries))
	}
	if m.Stats().NotFound != 3 {
		t.Errorf("NotFound = %d, want 3", m.Stats().NotFound)
	}
}

func TestManager_NotFoundKeepsStaleEntry(t *testing.T) {
	p := &fakePipeline{}
	m, dir := newTestManager(t, p, time.Minute)
	ctx := context.Background()

	if _, _, err := m.Get(ctx, "menu-1"); err != nil {
		t.Fatal(err)
	}
	age(t, dir, "menu-1", time.Hour)
	before, _ := os.ReadFile(entryPath(dir, "menu-1"))
	beforeInfo, _ := os.Stat(entryPath(dir, "menu-1"))

	p.set(func(f *fakePipeline) { f.notFound = true })
	data, found, err := m.Get(ctx, "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	if found || data != nil {
		t.Errorf("Get() = %q, %v; want not found", data, found)
	}

	after, err := os.ReadFile(entryPath(dir, "menu-1"))
	if err != nil {
		t.Fatalf("stale entry removed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Error("stale entry modified")
	}
	afterInfo, _ := os.Stat(entryPath(dir, "menu-1"))
	if !afterInfo.ModTime().Equal(beforeInfo.ModTime()) {
		t.Error("stale entry mtime changed")
	}
}

func TestManager_FailureKeepsEntry(t *testing.T) {
	p := &fakePipeline{}
	m, dir := newTestManager(t, p, time.Minute)
	ctx := context.Background()

	if _, _, err := m.Get(ctx, "menu-1"); err != nil {
		t.Fatal(err)
	}
	age(t, dir, "menu-1", time.Hour)
	before, _ := os.ReadFile(entryPath(dir, "menu-1"))

	want := errors.New(render.CodeRenderFailed, "layout failed")
	p.set(func(f *fakePipeline) { f.err = want })
	_, found, err := m.Get(ctx, "menu-1")
	if !stderrors.Is(err, want) {
		t.Fatalf("Get() error = %v, want %v", err, want)
	}
	if found {
		t.Error("found = true on failure")
	}

	after, _ := os.ReadFile(entryPath(dir, "menu-1"))
	if !bytes.Equal(before, after) {
		t.Error("entry modified by failed render")
	}
	if m.Stats().Failures != 1 {
		t.Errorf("Failures = %d, want 1", m.Stats().Failures)
	}
}

func TestManager_ZeroLengthEntryIsAbsent(t *testing.T) {
	p := &fakePipeline{}
	m, dir := newTestManager(t, p, time.Hour)

	if err := os.WriteFile(entryPath(dir, "menu-1"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	state, err := m.State("menu-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if state != StateAbsent {
		t.Errorf("State() = %s, want absent", state)
	}

	data, found, err := m.Get(context.Background(), "menu-1")
	if err != nil || !found || len(data) == 0 {
		t.Fatalf("Get() = %q, %v, %v", data, found, err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline calls = %d, want 1", p.calls.Load())
	}
}

func TestManager_ConcurrentGetsRenderOnce(t *testing.T) {
	p := &fakePipeline{delay: 50 * time.Millisecond}
	m, dir := newTestManager(t, p, time.Hour)

	const n = 20
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _, errs[i] = m.Get(context.Background(), "menu-1")
		}()
	}
	wg.Wait()

	for i := range n {
		if errs[i] != nil {
			t.Errorf("Get() #%d error = %v", i, errs[i])
			continue
		}
		if string(results[i]) != "menu-1@1" {
			t.Errorf("Get() #%d = %q, want menu-1@1", i, results[i])
		}
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline calls = %d, want 1", p.calls.Load())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 || entries[0].Name() != EntryName("menu-1") {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("cache directory = %v, want one entry", names)
	}
}

func TestManager_DifferentKeysDoNotContend(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{}), started: make(chan struct{}, 2)}
	m, _ := newTestManager(t, p, time.Hour)

	var wg sync.WaitGroup
	for _, key := range []string{"a", "b"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = m.Get(context.Background(), key)
		}()
	}

	// Both renders must start while neither has finished.
	for range 2 {
		select {
		case <-p.started:
		case <-time.After(5 * time.Second):
			t.Fatal("renders for different keys serialized")
		}
	}
	close(p.block)
	wg.Wait()
}

func TestManager_LockTimeout(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{}), started: make(chan struct{}, 1)}
	dir := t.TempDir()
	store, err := NewDiskStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(store, p, Config{TTL: time.Hour, LockTimeout: 50 * time.Millisecond})

	done := make(chan error, 1)
	go func() {
		_, _, err := m.Get(context.Background(), "menu-1")
		done <- err
	}()
	<-p.started

	_, _, err = m.Get(context.Background(), "menu-1")
	if errors.GetCode(err) != errors.CodeTimeout {
		t.Errorf("Get() code = %v, want %v", errors.GetCode(err), errors.CodeTimeout)
	}

	close(p.block)
	if err := <-done; err != nil {
		t.Errorf("first Get() error = %v", err)
	}
}

func TestManager_RenderSurvivesCallerCancel(t *testing.T) {
	p := &fakePipeline{block: make(chan struct{}), started: make(chan struct{}, 1)}
	m, dir := newTestManager(t, p, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := m.Get(ctx, "menu-1")
		done <- err
	}()
	<-p.started
	cancel()
	close(p.block)

	if err := <-done; err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	p.mu.Lock()
	ctxErr := p.ctxErr
	p.mu.Unlock()
	if ctxErr != nil {
		t.Errorf("render context canceled: %v", ctxErr)
	}
	if _, err := os.Stat(entryPath(dir, "menu-1")); err != nil {
		t.Errorf("entry not written: %v", err)
	}
}

func TestManager_EmptyArtifact(t *testing.T) {
	p := &fakePipeline{empty: true}
	m, dir := newTestManager(t, p, time.Hour)

	_, _, err := m.Get(context.Background(), "menu-1")
	if errors.GetCode(err) != errors.CodeExecutionFailed {
		t.Errorf("Get() code = %v, want %v", errors.GetCode(err), errors.CodeExecutionFailed)
	}
	if _, err := os.Stat(entryPath(dir, "menu-1")); !os.IsNotExist(err) {
		t.Error("empty artifact was written")
	}
}

func TestManager_InvalidInput(t *testing.T) {
	p := &fakePipeline{}
	m, _ := newTestManager(t, p, time.Hour)

	if _, _, err := m.Get(context.Background(), ""); errors.GetCode(err) != errors.CodeInvalidInput {
		t.Errorf("empty key code = %v", errors.GetCode(err))
	}
	if _, _, err := m.GetTTL(context.Background(), "k", -time.Second); errors.GetCode(err) != errors.CodeInvalidInput {
		t.Errorf("negative ttl code = %v", errors.GetCode(err))
	}
	if p.calls.Load() != 0 {
		t.Error("pipeline called for invalid input")
	}
}

func TestManager_SetTTL(t *testing.T) {
	p := &fakePipeline{}
	m, dir := newTestManager(t, p, time.Hour)
	ctx := context.Background()

	if _, _, err := m.Get(ctx, "menu-1"); err != nil {
		t.Fatal(err)
	}
	age(t, dir, "menu-1", time.Minute)

	m.SetTTL(30 * time.Second)
	if m.TTL() != 30*time.Second {
		t.Errorf("TTL() = %s", m.TTL())
	}
	data, _, err := m.Get(ctx, "menu-1")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "menu-1@2" {
		t.Errorf("Get() = %q, want a re-render", data)
	}
	if m.Stats().Expired != 1 {
		t.Errorf("Expired = %d, want 1", m.Stats().Expired)
	}
}

func TestManager_StateUsesClock(t *testing.T) {
	p := &fakePipeline{}
	var offset atomic.Int64
	clock := func() time.Time { return time.Now().Add(time.Duration(offset.Load())) }
	m, _ := newTestManager(t, p, time.Minute, WithClock(clock))

	if _, _, err := m.Get(context.Background(), "menu-1"); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		offset time.Duration
		want   State
	}{
		{0, StateFresh},
		{10 * time.Second, StateFresh},
		{61 * time.Second, StateExpired},
	}
	for _, tt := range tests {
		offset.Store(int64(tt.offset))
		got, err := m.State("menu-1", m.TTL())
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("State() at +%s = %s, want %s", tt.offset, got, tt.want)
		}
	}

	if got, _ := m.State("other", time.Minute); got != StateAbsent {
		t.Errorf("State(other) = %s, want absent", got)
	}
}

func TestManager_Prune(t *testing.T) {
	p := &fakePipeline{}
	m, dir := newTestManager(t, p, time.Hour)
	ctx := context.Background()

	for _, key := range []string{"old", "new"} {
		if _, _, err := m.Get(ctx, key); err != nil {
			t.Fatal(err)
		}
	}
	age(t, dir, "old", 48*time.Hour)

	n, err := m.Prune(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if _, err := os.Stat(entryPath(dir, "old")); !os.IsNotExist(err) {
		t.Error("old entry not removed")
	}
	if _, err := os.Stat(entryPath(dir, "new")); err != nil {
		t.Error("new entry removed")
	}
}

type resolverFunc func(ctx context.Context, key string) (*document.Document, error)

func (f resolverFunc) Resolve(ctx context.Context, key string) (*document.Document, error) {
	return f(ctx, key)
}

func (f resolverFunc) Close() error { return nil }

func TestEntryName(t *testing.T) {
	a, b := EntryName("menu-1"), EntryName("menu-1")
	if a != b {
		t.Error("EntryName is not deterministic")
	}
	if a == EntryName("menu-2") {
		t.Error("different keys share an entry")
	}
	if !strings.HasSuffix(a, ".cache") || len(a) != 64+len(".cache") {
		t.Errorf("EntryName() = %q", a)
	}
	if strings.ContainsAny(EntryName("../../etc/passwd"), `/\`) {
		t.Error("EntryName contains a path separator")
	}
}

// recordingLocker wraps a KeyedLocker and records lock traffic.
type recordingLocker struct {
	inner    *KeyedLocker
	mu       sync.Mutex
	locked   []string
	unlocked int
	err      error
}

func (l *recordingLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	l.locked = append(l.locked, key)
	err := l.err
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	unlock, err := l.inner.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	return func() {
		l.mu.Lock()
		l.unlocked++
		l.mu.Unlock()
		unlock()
	}, nil
}

func TestManager_WithLocker(t *testing.T) {
	locker := &recordingLocker{inner: NewKeyedLocker(time.Second)}
	p := &fakePipeline{}
	m, _ := newTestManager(t, p, time.Minute, WithLocker(locker))
	ctx := context.Background()

	if _, _, err := m.Get(ctx, "menu-1"); err != nil {
		t.Fatal(err)
	}
	// fresh entries are served without locking
	if _, _, err := m.Get(ctx, "menu-1"); err != nil {
		t.Fatal(err)
	}
	if len(locker.locked) != 1 || locker.locked[0] != EntryName("menu-1") {
		t.Errorf("locked = %v, want [%s]", locker.locked, EntryName("menu-1"))
	}
	if locker.unlocked != 1 {
		t.Errorf("unlocked = %d, want 1", locker.unlocked)
	}

	locker.err = errors.New(errors.CodeUnavailable, "lock service down")
	_, found, err := m.Get(ctx, "menu-2")
	if errors.GetCode(err) != errors.CodeUnavailable || found {
		t.Errorf("Get() = %v, %v; want %s", found, err, errors.CodeUnavailable)
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline calls = %d, want 1", p.calls.Load())
	}
	if s := m.Stats(); s.Failures != 1 {
		t.Errorf("Failures = %d, want 1", s.Failures)
	}
}
