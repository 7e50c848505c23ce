package db

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/anvilproject/anvil/catalog"
)

var _ = Describe("Image State and Catalogs", func() {
	var db *DB
	var rack string

	jammy := catalog.ImageSpec{
		OS: "ubuntu", Arch: "amd64", SubArch: "generic",
		KFlavor: "generic", Release: "jammy", Label: "stable",
	}

	BeforeEach(func() {
		var err error
		db, err = Database()
		Ω(err).ShouldNot(HaveOccurred())

		r, err := db.RegisterRack("rack-1", "10.0.0.2:22")
		Ω(err).ShouldNot(HaveOccurred())
		rack = r.UUID
	})

	AfterEach(func() {
		db.Disconnect()
	})

	Context("image state", func() {
		It("should record what a rack holds, one row per image spec", func() {
			Ω(db.RecordImageState(rack, jammy, "deadbeef", 100, SyncingImageStatus)).Should(Succeed())
			Ω(db.RecordImageState(rack, jammy, "deadbeef", 100, SyncedImageStatus)).Should(Succeed())

			states, err := db.GetImageStates(rack)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(states).Should(HaveLen(1))
			Ω(states[0].Status).Should(Equal(SyncedImageStatus))
			Ω(states[0].SHA256).Should(Equal("deadbeef"))
		})

		It("should forget state when an image is deleted from a rack", func() {
			Ω(db.RecordImageState(rack, jammy, "deadbeef", 100, SyncedImageStatus)).Should(Succeed())
			Ω(db.DeleteImageState(rack, jammy)).Should(Succeed())

			states, err := db.GetImageStates(rack)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(states).Should(BeEmpty())
		})

		It("should reconstruct a catalog index from recorded state", func() {
			Ω(db.RecordImageState(rack, jammy, "deadbeef", 100, SyncedImageStatus)).Should(Succeed())

			idx, err := db.ImageIndexForRack(rack)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(idx.Len()).Should(Equal(1))

			rsrc, ok := idx.Get(jammy)
			Ω(ok).Should(BeTrue())
			Ω(rsrc["sha256"]).Should(Equal("deadbeef"))
		})
	})

	Context("the catalog of record", func() {
		It("should load an empty catalog before any has been saved", func() {
			idx, err := db.LoadCatalog()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(idx.Len()).Should(Equal(0))
		})

		It("should round-trip the catalog through its serialized form", func() {
			idx := catalog.NewIndex()
			idx.Set(jammy, catalog.Resource{"sha256": "deadbeef", "size": "100"})

			Ω(db.SaveCatalog(idx)).Should(Succeed())

			got, err := db.LoadCatalog()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(got.Len()).Should(Equal(1))

			rsrc, ok := got.Get(jammy)
			Ω(ok).Should(BeTrue())
			Ω(rsrc["sha256"]).Should(Equal("deadbeef"))
		})

		It("should replace the previous catalog wholesale on save", func() {
			idx := catalog.NewIndex()
			idx.Set(jammy, catalog.Resource{"sha256": "deadbeef"})
			Ω(db.SaveCatalog(idx)).Should(Succeed())

			focal := jammy
			focal.Release = "focal"
			next := catalog.NewIndex()
			next.Set(focal, catalog.Resource{"sha256": "cafed00d"})
			Ω(db.SaveCatalog(next)).Should(Succeed())

			got, err := db.LoadCatalog()
			Ω(err).ShouldNot(HaveOccurred())
			Ω(got.Len()).Should(Equal(1))

			_, ok := got.Get(jammy)
			Ω(ok).Should(BeFalse())
			_, ok = got.Get(focal)
			Ω(ok).Should(BeTrue())
		})
	})
})
