package cache_test

import (
	"io/ioutil"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/anvilproject/anvil/cache"
)

var _ = Describe("Snapshot Cache", func() {
	var storage string

	BeforeEach(func() {
		var err error
		storage, err = ioutil.TempDir("", "anvil-cache-test")
		Ω(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(storage)
	})

	blob := func(contents string) string {
		sum := Checksum([]byte(contents))
		_, err := WriteBlob(storage, sum, []byte(contents))
		Ω(err).ShouldNot(HaveOccurred())
		return sum
	}

	snapshot := func(sums ...string) *Snapshot {
		snap, err := NewSnapshot(storage)
		Ω(err).ShouldNot(HaveOccurred())
		for _, sum := range sums {
			Ω(snap.Link(sum)).Should(Succeed())
		}
		Ω(snap.Commit()).Should(Succeed())
		return snap
	}

	Describe("WriteBlob", func() {
		It("stores content-addressed blobs under cache/", func() {
			sum := blob("hello, world")
			b, err := ioutil.ReadFile(BlobPath(storage, sum))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(string(b)).Should(Equal("hello, world"))
			Ω(HaveBlob(storage, sum)).Should(BeTrue())
		})

		It("refuses to store bytes that do not match their claimed digest", func() {
			_, err := WriteBlob(storage, Checksum([]byte("right")), []byte("wrong"))
			Ω(err).Should(HaveOccurred())

			// and no partial file is left behind
			entries, err := ioutil.ReadDir(filepath.Join(storage, CacheDir))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(entries).Should(BeEmpty())
		})
	})

	Describe("ListOldSnapshots", func() {
		It("lists everything but the current snapshot", func() {
			sum := blob("image data")
			old1 := snapshot(sum)
			old2 := snapshot(sum)
			cur := snapshot(sum)

			l, err := ListOldSnapshots(storage)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(l).Should(ConsistOf(old1.Path(), old2.Path()))
			Ω(l).ShouldNot(ContainElement(cur.Path()))
		})

		It("never lists the cache directory itself", func() {
			blob("image data")
			l, err := ListOldSnapshots(storage)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(l).Should(BeEmpty())
		})
	})

	Describe("ListUnusedCacheFiles", func() {
		It("only lists blobs with no remaining snapshot links", func() {
			used := blob("still wanted")
			orphan := blob("nobody wants this")
			snapshot(used)

			l, err := ListUnusedCacheFiles(storage)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(l).Should(Equal([]string{BlobPath(storage, orphan)}))
		})
	})

	Describe("CleanupSnapshotsAndCache", func() {
		It("keeps a blob alive while any snapshot still links it", func() {
			sum := blob("shared image")
			snapshot(sum)
			snapshot(sum)
			snapshot(sum) // current

			Ω(CleanupSnapshotsAndCache(storage)).Should(Succeed())

			// two old generations removed, current and its blob intact
			l, err := ListOldSnapshots(storage)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(l).Should(BeEmpty())
			Ω(HaveBlob(storage, sum)).Should(BeTrue())
		})

		It("reclaims a blob once every snapshot referencing it is gone", func() {
			sum := blob("doomed image")
			snapshot(sum)
			snapshot(sum)

			// retarget current away from the blob entirely
			snapshot()

			Ω(CleanupSnapshotsAndCache(storage)).Should(Succeed())
			Ω(HaveBlob(storage, sum)).Should(BeFalse())
		})

		It("reclaims every orphan in one pass", func() {
			sum1 := blob("one")
			sum2 := blob("two")
			snapshot() // current, links nothing

			Ω(CleanupSnapshots(storage)).Should(Succeed())

			l, err := ListUnusedCacheFiles(storage)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(l).Should(ConsistOf(BlobPath(storage, sum1), BlobPath(storage, sum2)))

			Ω(CleanupCache(storage)).Should(Succeed())
			Ω(HaveBlob(storage, sum1)).Should(BeFalse())
			Ω(HaveBlob(storage, sum2)).Should(BeFalse())
		})
	})

	Describe("Commit", func() {
		It("retargets the current symlink atomically", func() {
			sum := blob("image data")
			first := snapshot(sum)
			second := snapshot(sum)

			target, err := os.Readlink(filepath.Join(storage, CurrentLink))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(target).Should(Equal(filepath.Base(second.Path())))
			Ω(target).ShouldNot(Equal(filepath.Base(first.Path())))
		})
	})
})
