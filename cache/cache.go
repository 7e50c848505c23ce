package cache

import (
	"crypto/sha256"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"syscall"

	"github.com/jhunt/go-log"
)

// On-disk layout of one storage root:
//
//   storage/cache/<sha256>          content-addressed blobs, shared
//   storage/<snapshot-id>/          one generation of the image tree
//   storage/<snapshot-id>/links/    hardlinks back into cache/
//   storage/current -> <snapshot-id>
//
// A blob's hardlink count is 1 (the cache copy) plus one per snapshot
// that references it.  A count of exactly 1 means no live snapshot
// needs the blob and it can be reclaimed.  The filesystem's own atomic
// link/unlink bookkeeping is the only concurrency control required.
const (
	CacheDir    = "cache"
	LinksDir    = "links"
	CurrentLink = "current"
)

// ListOldSnapshots returns every snapshot directory under storage
// except the one the `current` symlink points at.
func ListOldSnapshots(storage string) ([]string, error) {
	current := ""
	if target, err := os.Readlink(filepath.Join(storage, CurrentLink)); err == nil {
		current = filepath.Base(target)
	}

	entries, err := ioutil.ReadDir(storage)
	if err != nil {
		return nil, err
	}

	var old []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == CacheDir || entry.Name() == current {
			continue
		}
		old = append(old, filepath.Join(storage, entry.Name()))
	}
	return old, nil
}

// CleanupSnapshots removes all non-current snapshot directories.  A
// path that cannot be removed is logged and skipped; one bad path must
// not strand the rest.
func CleanupSnapshots(storage string) error {
	old, err := ListOldSnapshots(storage)
	if err != nil {
		return err
	}

	for _, path := range old {
		log.Debugf("removing old snapshot %s", path)
		if err := os.RemoveAll(path); err != nil {
			log.Errorf("unable to remove old snapshot %s: %s", path, err)
		}
	}
	return nil
}

// ListUnusedCacheFiles returns the cache blobs whose hardlink count
// has dropped to 1, meaning no snapshot references them anymore.
func ListUnusedCacheFiles(storage string) ([]string, error) {
	entries, err := ioutil.ReadDir(filepath.Join(storage, CacheDir))
	if err != nil {
		return nil, err
	}

	var unused []string
	for _, entry := range entries {
		if !entry.Mode().IsRegular() {
			continue
		}
		st, ok := entry.Sys().(*syscall.Stat_t)
		if !ok {
			continue
		}
		if st.Nlink == 1 {
			unused = append(unused, filepath.Join(storage, CacheDir, entry.Name()))
		}
	}
	return unused, nil
}

// CleanupCache removes all unreferenced cache blobs, with the same
// continue-on-error behavior as CleanupSnapshots.
func CleanupCache(storage string) error {
	unused, err := ListUnusedCacheFiles(storage)
	if err != nil {
		return err
	}

	for _, path := range unused {
		log.Debugf("removing unreferenced cache blob %s", path)
		if err := os.Remove(path); err != nil {
			log.Errorf("unable to remove unreferenced cache blob %s: %s", path, err)
		}
	}
	return nil
}

// CleanupSnapshotsAndCache reclaims snapshots first, so that blobs
// only they referenced become unreferenced and are caught by the cache
// pass that follows.
func CleanupSnapshotsAndCache(storage string) error {
	if err := CleanupSnapshots(storage); err != nil {
		return err
	}
	return CleanupCache(storage)
}

// BlobPath returns where the blob with the given content hash lives
// (or would live) under storage.
func BlobPath(storage, sha256sum string) string {
	return filepath.Join(storage, CacheDir, sha256sum)
}

// HaveBlob reports whether a blob with the given content hash is
// already materialized under storage.
func HaveBlob(storage, sha256sum string) bool {
	st, err := os.Stat(BlobPath(storage, sha256sum))
	return err == nil && st.Mode().IsRegular()
}

// Checksum returns the hex SHA-256 digest of data.
func Checksum(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

// WriteBlob stores data as a content-addressed cache blob.  The bytes
// are written to a scratch file first and only renamed into place once
// their digest has been verified against sha256sum, so a torn or
// cancelled write never leaves a partial blob visible.
func WriteBlob(storage, sha256sum string, data []byte) (string, error) {
	dir := filepath.Join(storage, CacheDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	if got := Checksum(data); got != sha256sum {
		return "", fmt.Errorf("refusing to store blob: data has checksum %s, not %s", got, sha256sum)
	}

	tmp, err := ioutil.TempFile(dir, ".partial-")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := BlobPath(storage, sha256sum)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}
