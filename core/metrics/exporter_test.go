package metrics

import (
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// New registers collectors with the process-global prometheus
// registry, so the test binary gets exactly one Exporter.
var exporter *Exporter

var _ = BeforeSuite(func() {
	exporter = New(&Exporter{Namespace: "anvil_test"})
})

var _ = Describe("Exporter", func() {
	byStatus := func(status string) float64 {
		return testutil.ToFloat64(exporter.runsByStatus.WithLabelValues(status))
	}

	It("moves per-status run counts between statuses, instead of inflating them", func() {
		exporter.runStatusUpdate(map[string]interface{}{"status": "pending"})
		Ω(byStatus("pending")).Should(BeNumerically("==", 1))

		exporter.runStatusUpdate(map[string]interface{}{"status": "running", "was": "pending"})
		Ω(byStatus("pending")).Should(BeNumerically("==", 0))
		Ω(byStatus("running")).Should(BeNumerically("==", 1))

		exporter.runStatusUpdate(map[string]interface{}{"status": "done", "was": "running"})
		Ω(byStatus("running")).Should(BeNumerically("==", 0))
		Ω(byStatus("done")).Should(BeNumerically("==", 1))

		Ω(testutil.ToFloat64(exporter.runsStarted)).Should(BeNumerically("==", 1))
		Ω(testutil.ToFloat64(exporter.runsDone)).Should(BeNumerically("==", 1))
	})

	It("tracks synced image bytes across sync and delete", func() {
		exporter.imageStateUpdate(map[string]interface{}{"status": "synced", "size": 4096.0})
		Ω(testutil.ToFloat64(exporter.syncedBytes)).Should(BeNumerically("==", 4096))

		exporter.imageStateUpdate(map[string]interface{}{"status": "deleted", "size": 4096.0})
		Ω(testutil.ToFloat64(exporter.syncedBytes)).Should(BeNumerically("==", 0))
	})

	It("counts new racks once, and ignores idempotent re-registrations", func() {
		exporter.rackStatusUpdate(map[string]interface{}{"status": "online", "new": true})
		Ω(testutil.ToFloat64(exporter.racksGauge)).Should(BeNumerically("==", 1))

		exporter.rackStatusUpdate(map[string]interface{}{"status": "online"})
		Ω(testutil.ToFloat64(exporter.racksGauge)).Should(BeNumerically("==", 1))

		exporter.rackStatusUpdate(map[string]interface{}{"status": "deleted"})
		Ω(testutil.ToFloat64(exporter.racksGauge)).Should(BeNumerically("==", 0))
	})
})
