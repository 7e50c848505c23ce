package agent_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/anvilproject/anvil/agent"
)

var _ = Describe("SSH Command Parser", func() {
	It("errors for an empty payload", func() {
		_, err := ParseCommand([]byte(""))
		Ω(err).Should(HaveOccurred())
	})

	It("errors for a non-JSON payload", func() {
		_, err := ParseCommand([]byte("not json"))
		Ω(err).Should(HaveOccurred())
	})

	It("errors for a payload missing required 'operation' field", func() {
		_, err := ParseCommand([]byte(`
			{
				"run_uuid" : "d9b66d82-b016-4e4a-8d7a-800ef9699112",
				"params"   : {}
			}
		`))
		Ω(err).Should(HaveOccurred())
		Ω(err.Error()).Should(MatchRegexp(`missing required 'operation' `))
	})

	It("errors for a payload with unsupported 'operation' field", func() {
		_, err := ParseCommand([]byte(`{"operation":"XYZZY","params":{}}`))
		Ω(err).Should(HaveOccurred())
		Ω(err.Error()).Should(MatchRegexp(`unsupported operation.*XYZZY`))
	})

	It("errors for a download missing its image spec", func() {
		_, err := ParseCommand([]byte(`
			{
				"operation" : "download",
				"params"    : {
					"archive" : "http://archive.ubuntu.com/ubuntu",
					"release" : "jammy"
				}
			}
		`))
		Ω(err).Should(HaveOccurred())
		Ω(err.Error()).Should(MatchRegexp(`missing required image spec fields`))
	})

	It("errors for a download missing its archive", func() {
		_, err := ParseCommand([]byte(`
			{
				"operation" : "download",
				"params"    : {
					"spec"    : {"os":"ubuntu","arch":"amd64","subarch":"generic","kflavor":"generic","release":"jammy","label":"ga-22.04"},
					"release" : "jammy"
				}
			}
		`))
		Ω(err).Should(HaveOccurred())
		Ω(err.Error()).Should(MatchRegexp(`missing required 'archive' `))
	})

	It("returns a Command object for a valid download operation", func() {
		cmd, err := ParseCommand([]byte(`
			{
				"operation" : "download",
				"run_uuid"  : "d9b66d82-b016-4e4a-8d7a-800ef9699112",
				"params"    : {
					"spec"    : {"os":"ubuntu","arch":"amd64","subarch":"generic","kflavor":"generic","release":"jammy","label":"ga-22.04"},
					"package" : "linux-generic",
					"archive" : "http://archive.ubuntu.com/ubuntu",
					"release" : "jammy"
				}
			}
		`))
		Ω(err).ShouldNot(HaveOccurred())
		Ω(cmd).ShouldNot(BeNil())
		Ω(cmd.Op).Should(Equal("download"))

		p, err := cmd.DownloadParams()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(p.Package).Should(Equal("linux-generic"))
		Ω(p.Spec.Arch).Should(Equal("amd64"))
	})

	It("errors for a sync without a catalog", func() {
		_, err := ParseCommand([]byte(`
			{
				"operation" : "sync",
				"params"    : {"archive":"http://archive.ubuntu.com/ubuntu"}
			}
		`))
		Ω(err).Should(HaveOccurred())
		Ω(err.Error()).Should(MatchRegexp(`missing required 'catalog' `))
	})

	It("returns a Command object for a valid sync operation", func() {
		cmd, err := ParseCommand([]byte(`
			{
				"operation" : "sync",
				"params"    : {
					"catalog" : {},
					"archive" : "http://archive.ubuntu.com/ubuntu",
					"release" : "jammy"
				}
			}
		`))
		Ω(err).ShouldNot(HaveOccurred())
		Ω(cmd.Op).Should(Equal("sync"))
	})

	It("errors for a power operation without a BMC address", func() {
		_, err := ParseCommand([]byte(`
			{
				"operation" : "power-on",
				"params"    : {"system_id":"machine-001","action":"power-on"}
			}
		`))
		Ω(err).Should(HaveOccurred())
		Ω(err.Error()).Should(MatchRegexp(`missing required 'bmc_address' `))
	})

	It("returns a Command object for a valid power operation", func() {
		cmd, err := ParseCommand([]byte(`
			{
				"operation" : "power-cycle",
				"params"    : {
					"system_id"   : "machine-001",
					"action"      : "power-cycle",
					"bmc_address" : "10.20.0.14"
				}
			}
		`))
		Ω(err).ShouldNot(HaveOccurred())

		p, err := cmd.PowerParams()
		Ω(err).ShouldNot(HaveOccurred())
		Ω(p.SystemID).Should(Equal("machine-001"))
		Ω(p.BMCAddress).Should(Equal("10.20.0.14"))
	})

	It("accepts cleanup and status operations with no parameters", func() {
		for _, op := range []string{"cleanup", "status"} {
			cmd, err := ParseCommand([]byte(`{"operation":"` + op + `"}`))
			Ω(err).ShouldNot(HaveOccurred())
			Ω(cmd.Op).Should(Equal(op))
		}
	})
})
