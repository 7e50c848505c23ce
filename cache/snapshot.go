package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Snapshot is one generation of the materialized image tree, under
// construction.  Blobs are hardlinked in first; Commit retargets the
// `current` symlink last, so the old generation stays fully linked
// until the new one is complete.
type Snapshot struct {
	storage string
	dir     string
}

// NewSnapshot creates a fresh snapshot directory under storage, with
// an empty links/ tree.
func NewSnapshot(storage string) (*Snapshot, error) {
	name := "snapshot-" + time.Now().UTC().Format("20060102-150405")
	dir := filepath.Join(storage, name)

	// a second snapshot within the same second gets a suffix
	for n := 1; ; n++ {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			break
		}
		dir = filepath.Join(storage, fmt.Sprintf("%s.%d", name, n))
	}

	if err := os.MkdirAll(filepath.Join(dir, LinksDir), 0755); err != nil {
		return nil, err
	}
	return &Snapshot{storage: storage, dir: dir}, nil
}

func (s *Snapshot) Path() string {
	return s.dir
}

// Link hardlinks the cache blob with the given content hash into this
// snapshot's links/ tree, bumping the blob's reference count.
func (s *Snapshot) Link(sha256sum string) error {
	blob := BlobPath(s.storage, sha256sum)
	if _, err := os.Stat(blob); err != nil {
		return fmt.Errorf("cannot link blob %s into snapshot: %s", sha256sum, err)
	}

	for n := 1; ; n++ {
		link := filepath.Join(s.dir, LinksDir, fmt.Sprintf("%s-%d", sha256sum, n))
		err := os.Link(blob, link)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return err
		}
	}
}

// Commit atomically retargets the `current` symlink at this snapshot.
// The swap is symlink-then-rename, so readers always see either the
// old generation or the new one, never a missing link.
func (s *Snapshot) Commit() error {
	tmp := filepath.Join(s.storage, ".current.new")
	os.Remove(tmp)

	if err := os.Symlink(filepath.Base(s.dir), tmp); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(s.storage, CurrentLink))
}
