package cache

import (
	"encoding/hex"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/billy"
	"github.com/jmgilman/go/fs/core"
	"github.com/zeebo/blake3"
)

const (
	entryExt = ".cache"
	tempExt  = ".tmp"
)

// DiskStore keeps one file per key. Writes go through a temp file that is
// renamed over the entry.
type DiskStore struct {
	fs core.FS
}

// NewDiskStore returns a store rooted at dir, creating it if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, errors.New(errors.CodeInvalidConfig, "cache directory is empty")
	}

	local := billy.NewLocal()
	if err := local.MkdirAll(dir, 0o755); err != nil {
		return nil, storageError(err, "create cache directory", dir)
	}
	root, err := local.Chroot(dir)
	if err != nil {
		return nil, storageError(err, "open cache directory", dir)
	}
	return NewDiskStoreFS(root), nil
}

// NewDiskStoreFS returns a store on an existing filesystem.
func NewDiskStoreFS(fsys core.FS) *DiskStore {
	return &DiskStore{fs: fsys}
}

// EntryName returns the file name used for key.
func EntryName(key string) string {
	sum := blake3.Sum256([]byte(key))
	return hex.EncodeToString(sum[:]) + entryExt
}

// Stat returns the entry for key. ok is false when there is none.
func (d *DiskStore) Stat(key string) (info EntryInfo, ok bool, err error) {
	name := EntryName(key)
	fi, err := d.fs.Stat(name)
	if errors.Is(err, fs.ErrNotExist) {
		return EntryInfo{}, false, nil
	}
	if err != nil {
		return EntryInfo{}, false, storageError(err, "stat entry", name)
	}
	return EntryInfo{Name: name, Size: fi.Size(), ModTime: fi.ModTime()}, true, nil
}

// Read returns the entry's content. A missing entry reads as empty.
func (d *DiskStore) Read(key string) ([]byte, error) {
	name := EntryName(key)
	data, err := d.fs.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err, "read entry", name)
	}
	return data, nil
}

// Write replaces the entry for key. The entry is never partially written.
func (d *DiskStore) Write(key string, data []byte) error {
	name := EntryName(key)
	tmp := name + "." + uuid.NewString() + tempExt

	f, err := d.fs.Create(tmp)
	if err != nil {
		return storageError(err, "create temp file", tmp)
	}

	_, err = f.Write(data)
	if err == nil {
		if s, ok := f.(core.Syncer); ok {
			err = s.Sync()
		}
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = d.fs.Remove(tmp)
		return storageError(err, "write temp file", tmp)
	}

	if err := d.fs.Rename(tmp, name); err != nil {
		_ = d.fs.Remove(tmp)
		return storageError(err, "replace entry", name)
	}
	return nil
}

// Entries lists the entry files in the store.
func (d *DiskStore) Entries() ([]EntryInfo, error) {
	dir, err := d.fs.ReadDir(".")
	if err != nil {
		return nil, storageError(err, "list entries", ".")
	}

	var entries []EntryInfo
	for _, e := range dir {
		if e.IsDir() || !strings.HasSuffix(e.Name(), entryExt) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		entries = append(entries, EntryInfo{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()})
	}
	return entries, nil
}

// RemoveOlderThan removes entries and leftover temp files last written
// before cutoff. It returns the number of entries removed.
func (d *DiskStore) RemoveOlderThan(cutoff time.Time) (int, error) {
	dir, err := d.fs.ReadDir(".")
	if err != nil {
		return 0, storageError(err, "list entries", ".")
	}

	removed := 0
	for _, e := range dir {
		name := e.Name()
		isEntry := strings.HasSuffix(name, entryExt)
		if e.IsDir() || (!isEntry && !strings.HasSuffix(name, tempExt)) {
			continue
		}
		fi, err := e.Info()
		if err != nil || !fi.ModTime().Before(cutoff) {
			continue
		}
		if err := d.fs.Remove(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, storageError(err, "remove entry", name)
		}
		if isEntry {
			removed++
		}
	}
	return removed, nil
}

func storageError(err error, msg, path string) error {
	return errors.WithContext(errors.Wrap(err, CodeStorageFailed, msg), "path", path)
}
