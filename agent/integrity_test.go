package agent

import (
	"errors"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/anvilproject/anvil/archive"
)

var _ = Describe("Integrity Classification", func() {
	It("treats checksum mismatches and bad signatures as integrity failures", func() {
		Ω(integrityFailure(archive.ChecksumMismatchError{
			URL:  "http://archive.test/pool/g/grub.deb",
			Want: "aaaa",
			Got:  "bbbb",
		})).Should(BeTrue())

		Ω(integrityFailure(archive.SignatureError{
			Err: errors.New("no valid signature found"),
		})).Should(BeTrue())

		Ω(integrityFailure(errors.New("connection refused"))).Should(BeFalse())
	})

	It("reports a distinct exit code for integrity failures", func() {
		Ω(errorExitCode(IntegrityError{Err: errors.New("checksum mismatch")})).Should(Equal(IntegrityExitCode))
		Ω(errorExitCode(errors.New("package not found in jammy"))).Should(Equal(1))
	})
})
