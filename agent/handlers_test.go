package agent_test

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/packet"

	. "github.com/anvilproject/anvil/agent"
	"github.com/anvilproject/anvil/cache"
	"github.com/anvilproject/anvil/catalog"
)

var _ = Describe("Agent Command Execution", func() {
	var (
		storage string
		keyring string
		ag      *Agent
	)

	checksum := func(data []byte) string {
		return fmt.Sprintf("%x", sha256.Sum256(data))
	}

	execute := func(c *Command) ([]string, error) {
		out := make(chan string)
		errc := make(chan error, 1)
		go func() { errc <- ag.Execute(c, out) }()

		var lines []string
		for s := range out {
			lines = append(lines, s)
		}
		return lines, <-errc
	}

	command := func(op string, params interface{}) *Command {
		b, err := json.Marshal(struct {
			Op     string      `json:"operation"`
			Params interface{} `json:"params,omitempty"`
		}{Op: op, Params: params})
		Ω(err).ShouldNot(HaveOccurred())

		cmd, err := ParseCommand(b)
		Ω(err).ShouldNot(HaveOccurred())
		return cmd
	}

	syncCommand := func(idx *catalog.Index) *Command {
		dump, err := idx.Dump()
		Ω(err).ShouldNot(HaveOccurred())
		return command("sync", map[string]interface{}{
			"catalog": json.RawMessage(dump),
			"archive": "http://archive.test/ubuntu",
			"release": "jammy",
		})
	}

	spec := func(label string) catalog.ImageSpec {
		return catalog.ImageSpec{
			OS:      "ubuntu",
			Arch:    "amd64",
			SubArch: "generic",
			KFlavor: "generic",
			Release: "jammy",
			Label:   label,
		}
	}

	seedBlob := func(data []byte) string {
		sum := checksum(data)
		_, err := cache.WriteBlob(storage, sum, data)
		Ω(err).ShouldNot(HaveOccurred())
		return sum
	}

	BeforeEach(func() {
		var err error
		storage, err = ioutil.TempDir("", "anvil-agent-storage")
		Ω(err).ShouldNot(HaveOccurred())

		entity, err := openpgp.NewEntity("ANVIL Test Archive", "", "archive@test", &packet.Config{RSABits: 1024})
		Ω(err).ShouldNot(HaveOccurred())
		f, err := ioutil.TempFile("", "anvil-agent-keyring")
		Ω(err).ShouldNot(HaveOccurred())
		keyring = f.Name()
		Ω(entity.Serialize(f)).Should(Succeed())
		Ω(f.Close()).Should(Succeed())

		ag = NewAgent()
		ag.StorageRoot = storage
		ag.Archive.Keyring = keyring
	})

	AfterEach(func() {
		os.RemoveAll(storage)
		os.Remove(keyring)
	})

	Describe("sync", func() {
		It("commits a snapshot without touching the archive when every image is already cached", func() {
			kernel := seedBlob([]byte("kernel bits"))
			initrd := seedBlob([]byte("initrd bits"))

			idx := catalog.NewIndex()
			idx.Set(spec("ga-22.04"), catalog.Resource{"sha256": kernel, "size": 11})
			idx.Set(spec("hwe-22.04"), catalog.Resource{"sha256": initrd, "size": 11})

			_, err := execute(syncCommand(idx))
			Ω(err).ShouldNot(HaveOccurred())

			current, err := os.Readlink(filepath.Join(storage, cache.CurrentLink))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(current).Should(HavePrefix("snapshot-"))

			b, err := ioutil.ReadFile(filepath.Join(storage, cache.CurrentLink, ManifestFile))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(catalog.Load(b).Len()).Should(Equal(2))
		})

		It("fails the run when an image cannot be fetched, but syncs the rest", func() {
			kernel := seedBlob([]byte("kernel bits"))

			idx := catalog.NewIndex()
			idx.Set(spec("ga-22.04"), catalog.Resource{"sha256": kernel, "size": 11})
			idx.Set(spec("hwe-22.04"), catalog.Resource{"sha256": strings.Repeat("0", 64), "size": 4, "package": "linux-hwe"})

			lines, err := execute(syncCommand(idx))
			Ω(err).Should(HaveOccurred())
			Ω(err.Error()).Should(MatchRegexp(`1 of 2 images failed to sync`))
			Ω(strings.Join(lines, "")).Should(ContainSubstring("E:"))

			b, err := ioutil.ReadFile(filepath.Join(storage, cache.CurrentLink, ManifestFile))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(catalog.Load(b).Len()).Should(Equal(1))
		})
	})

	Describe("delete", func() {
		It("builds a new snapshot without the deleted image", func() {
			kernel := seedBlob([]byte("kernel bits"))
			initrd := seedBlob([]byte("initrd bits"))

			idx := catalog.NewIndex()
			idx.Set(spec("ga-22.04"), catalog.Resource{"sha256": kernel, "size": 11})
			idx.Set(spec("hwe-22.04"), catalog.Resource{"sha256": initrd, "size": 11})
			_, err := execute(syncCommand(idx))
			Ω(err).ShouldNot(HaveOccurred())

			_, err = execute(command("delete", map[string]interface{}{
				"spec": spec("hwe-22.04"),
			}))
			Ω(err).ShouldNot(HaveOccurred())

			b, err := ioutil.ReadFile(filepath.Join(storage, cache.CurrentLink, ManifestFile))
			Ω(err).ShouldNot(HaveOccurred())
			have := catalog.Load(b)
			Ω(have.Len()).Should(Equal(1))
			_, ok := have.Get(spec("ga-22.04"))
			Ω(ok).Should(BeTrue())
		})

		It("is a no-op for an image the snapshot does not hold", func() {
			kernel := seedBlob([]byte("kernel bits"))

			idx := catalog.NewIndex()
			idx.Set(spec("ga-22.04"), catalog.Resource{"sha256": kernel, "size": 11})
			_, err := execute(syncCommand(idx))
			Ω(err).ShouldNot(HaveOccurred())

			before, err := os.Readlink(filepath.Join(storage, cache.CurrentLink))
			Ω(err).ShouldNot(HaveOccurred())

			lines, err := execute(command("delete", map[string]interface{}{
				"spec": spec("no-such-label"),
			}))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(strings.Join(lines, "")).Should(ContainSubstring("nothing to do"))

			after, err := os.Readlink(filepath.Join(storage, cache.CurrentLink))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(after).Should(Equal(before))
		})
	})

	Describe("cleanup", func() {
		It("reclaims superseded snapshots and the blobs only they referenced", func() {
			kernel := seedBlob([]byte("kernel bits"))
			initrd := seedBlob([]byte("initrd bits"))

			idx := catalog.NewIndex()
			idx.Set(spec("ga-22.04"), catalog.Resource{"sha256": kernel, "size": 11})
			idx.Set(spec("hwe-22.04"), catalog.Resource{"sha256": initrd, "size": 11})
			_, err := execute(syncCommand(idx))
			Ω(err).ShouldNot(HaveOccurred())

			_, err = execute(command("delete", map[string]interface{}{
				"spec": spec("hwe-22.04"),
			}))
			Ω(err).ShouldNot(HaveOccurred())

			_, err = execute(command("cleanup", nil))
			Ω(err).ShouldNot(HaveOccurred())

			Ω(cache.HaveBlob(storage, kernel)).Should(BeTrue())
			Ω(cache.HaveBlob(storage, initrd)).Should(BeFalse())

			old, err := cache.ListOldSnapshots(storage)
			Ω(err).ShouldNot(HaveOccurred())
			Ω(old).Should(BeEmpty())
		})
	})

	Describe("status", func() {
		It("reports an empty fleet before the first sync", func() {
			lines, err := execute(command("status", nil))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(strings.Join(lines, "")).Should(ContainSubstring("0 image(s)"))
		})

		It("reports every image in the current snapshot", func() {
			kernel := seedBlob([]byte("kernel bits"))

			idx := catalog.NewIndex()
			idx.Set(spec("ga-22.04"), catalog.Resource{"sha256": kernel, "size": 11})
			_, err := execute(syncCommand(idx))
			Ω(err).ShouldNot(HaveOccurred())

			lines, err := execute(command("status", nil))
			Ω(err).ShouldNot(HaveOccurred())
			joined := strings.Join(lines, "")
			Ω(joined).Should(ContainSubstring("1 image(s)"))
			Ω(joined).Should(ContainSubstring(kernel))
		})
	})
})
