package archive_test

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/ulikunitz/xz"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	. "github.com/anvilproject/anvil/archive"
)

var _ = Describe("Content Store", func() {
	var (
		entity      *openpgp.Entity
		keyringFile string

		lock     sync.Mutex
		files    map[string][]byte
		tampered map[string]int // path -> number of bad responses to serve
		server   *httptest.Server
		store    *Store

		debBytes []byte
	)

	xzCompress := func(b []byte) []byte {
		var buf bytes.Buffer
		w, err := xz.NewWriter(&buf)
		Ω(err).ShouldNot(HaveOccurred())
		_, err = w.Write(b)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(w.Close()).Should(Succeed())
		return buf.Bytes()
	}

	sign := func(b []byte) []byte {
		var buf bytes.Buffer
		err := openpgp.ArmoredDetachSign(&buf, entity, bytes.NewReader(b), nil)
		Ω(err).ShouldNot(HaveOccurred())
		return buf.Bytes()
	}

	// lay out a minimal signed archive for one release pocket
	publish := func(release string, pkgs string) {
		pkgxz := xzCompress([]byte(pkgs))
		relData := fmt.Sprintf(
			"Origin: Ubuntu\nSuite: %s\nSHA256:\n %s %d main/binary-amd64/Packages.xz\n",
			release, Checksum(pkgxz), len(pkgxz))

		files["/dists/"+release+"/Release"] = []byte(relData)
		files["/dists/"+release+"/Release.gpg"] = sign([]byte(relData))
		files["/dists/"+release+"/main/binary-amd64/Packages.xz"] = pkgxz
	}

	stanzaFor := func(name, filename string, data []byte) string {
		return fmt.Sprintf(
			"Package: %s\nVersion: 1.187.2\nFilename: %s\nSize: %d\nSHA256: %s\n\n",
			name, filename, len(data), Checksum(data))
	}

	BeforeEach(func() {
		var err error
		entity, err = openpgp.NewEntity("ANVIL Test Archive", "", "archive@test", &packet.Config{RSABits: 1024})
		Ω(err).ShouldNot(HaveOccurred())

		f, err := ioutil.TempFile("", "anvil-keyring")
		Ω(err).ShouldNot(HaveOccurred())
		keyringFile = f.Name()
		enc, err := armor.Encode(f, openpgp.PublicKeyType, nil)
		Ω(err).ShouldNot(HaveOccurred())
		Ω(entity.Serialize(enc)).Should(Succeed())
		Ω(enc.Close()).Should(Succeed())
		Ω(f.Close()).Should(Succeed())

		files = make(map[string][]byte)
		tampered = make(map[string]int)

		debBytes = []byte("not really a debian package, but nobody checks the magic")
		filename := "pool/main/g/grub2/grub-efi-amd64-signed_1.187.2_amd64.deb"
		files["/"+filename] = debBytes

		publish("jammy", stanzaFor("shim-signed", "pool/main/s/shim/shim-signed_1.51_amd64.deb", []byte("shim"))+
			stanzaFor("grub-efi-amd64-signed", filename, debBytes))
		files["/pool/main/s/shim/shim-signed_1.51_amd64.deb"] = []byte("shim")

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lock.Lock()
			body, ok := files[r.URL.Path]
			if tampered[r.URL.Path] > 0 {
				tampered[r.URL.Path]--
				body = append([]byte("garbage"), body...)
			}
			lock.Unlock()

			if !ok {
				w.WriteHeader(404)
				return
			}
			w.Write(body)
		}))

		store, err = New(Config{URL: server.URL, Keyring: keyringFile})
		Ω(err).ShouldNot(HaveOccurred())
	})

	AfterEach(func() {
		server.Close()
		os.Remove(keyringFile)
	})

	Describe("Checksum", func() {
		It("computes hex sha256 digests", func() {
			Ω(Checksum(nil)).Should(Equal("e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"))
		})
	})

	Describe("Fetch", func() {
		It("returns transport errors instead of empty results", func() {
			_, err := store.Fetch(server.URL + "/no/such/path")
			Ω(err).Should(HaveOccurred())
		})
	})

	Describe("FetchPackage", func() {
		It("retrieves and verifies a package", func() {
			data, filename, err := store.FetchPackage("grub-efi-amd64-signed", "main", "amd64", "jammy")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(data).Should(Equal(debBytes))
			Ω(filename).Should(Equal("grub-efi-amd64-signed_1.187.2_amd64.deb"))
		})

		It("returns nothing, without error, for a package the index does not know", func() {
			data, filename, err := store.FetchPackage("no-such-driver", "main", "amd64", "jammy")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(data).Should(BeNil())
			Ω(filename).Should(Equal(""))
		})

		It("refuses artifacts whose bytes do not match the signed index", func() {
			tampered["/pool/main/g/grub2/grub-efi-amd64-signed_1.187.2_amd64.deb"] = 99

			data, _, err := store.FetchPackage("grub-efi-amd64-signed", "main", "amd64", "jammy")
			Ω(err).Should(HaveOccurred())
			Ω(err).Should(BeAssignableToTypeOf(ChecksumMismatchError{}))
			Ω(data).Should(BeNil())
		})

		It("tolerates a single stale-mirror mismatch", func() {
			tampered["/pool/main/g/grub2/grub-efi-amd64-signed_1.187.2_amd64.deb"] = 1

			data, _, err := store.FetchPackage("grub-efi-amd64-signed", "main", "amd64", "jammy")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(data).Should(Equal(debBytes))
		})

		It("rejects a Release file whose signature does not verify", func() {
			files["/dists/jammy/Release"] = append(files["/dists/jammy/Release"], []byte("Tampered: yes\n")...)

			_, _, err := store.FetchPackage("grub-efi-amd64-signed", "main", "amd64", "jammy")
			Ω(err).Should(HaveOccurred())
			Ω(err.Error()).Should(ContainSubstring("signature"))
		})
	})

	Describe("FetchWithFallback", func() {
		It("prefers the -updates pocket", func() {
			newer := []byte("a newer grub")
			filename := "pool/main/g/grub2/grub-efi-amd64-signed_1.190_amd64.deb"
			files["/"+filename] = newer
			publish("jammy-updates", stanzaFor("grub-efi-amd64-signed", filename, newer))

			data, fn, err := store.FetchWithFallback("grub-efi-amd64-signed", "main", "amd64", "jammy")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(data).Should(Equal(newer))
			Ω(fn).Should(Equal("grub-efi-amd64-signed_1.190_amd64.deb"))
		})

		It("falls back to the release pocket when -updates has no copy", func() {
			publish("jammy-updates", stanzaFor("shim-signed", "pool/main/s/shim/shim-signed_1.51_amd64.deb", []byte("shim")))

			data, _, err := store.FetchWithFallback("grub-efi-amd64-signed", "main", "amd64", "jammy")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(data).Should(Equal(debBytes))
		})

		It("falls back when the -updates pocket does not exist at all", func() {
			data, _, err := store.FetchWithFallback("grub-efi-amd64-signed", "main", "amd64", "jammy")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(data).Should(Equal(debBytes))
		})
	})
})
