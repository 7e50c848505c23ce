package topology_test

import (
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	. "github.com/anvilproject/anvil/topology"
)

type fakeInventory struct {
	vlans     map[string]int      // system id -> bmc vlan
	connected map[int][]string    // vlan -> racks wired in at layer 2
	routable  map[string][]string // system id -> racks with a layer-3 path
}

func (f *fakeInventory) BMCVLAN(systemID string) (int, error) {
	vlan, ok := f.vlans[systemID]
	if !ok {
		return 0, fmt.Errorf("unknown system %s", systemID)
	}
	return vlan, nil
}

func (f *fakeInventory) ConnectedRacks(vlan int) ([]string, error) {
	return f.connected[vlan], nil
}

func (f *fakeInventory) RoutableRacks(systemID string, liveOnly bool) ([]string, error) {
	return f.routable[systemID], nil
}

var _ = Describe("Topology Router", func() {
	var inv *fakeInventory
	var router *Router

	BeforeEach(func() {
		inv = &fakeInventory{
			vlans:     map[string]int{},
			connected: map[int][]string{},
			routable:  map[string][]string{},
		}
		router = NewRouter(inv)
	})

	Describe("ParseAction", func() {
		It("accepts every supported verb", func() {
			for name, want := range map[string]Action{
				"power-on":    PowerOn,
				"power-off":   PowerOff,
				"power-cycle": PowerCycle,
				"power-query": PowerQuery,
			} {
				action, err := ParseAction(name)
				Ω(err).ShouldNot(HaveOccurred())
				Ω(action).Should(Equal(want))
				Ω(action.String()).Should(Equal(name))
			}
		})

		It("rejects verbs it does not know", func() {
			_, err := ParseAction("power-slam")
			Ω(err).Should(HaveOccurred())
		})
	})

	Describe("SelectQueue", func() {
		It("prefers a rack connected to the BMC's own VLAN", func() {
			inv.vlans["abc123"] = 5002
			inv.connected[5002] = []string{"rack-r1"}
			inv.routable["abc123"] = []string{"rack-r2"}

			queue, err := router.SelectQueue("abc123")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(queue).Should(Equal("vlan:5002"))
		})

		It("falls back to a live routed rack", func() {
			inv.vlans["abc123"] = 5002
			inv.routable["abc123"] = []string{"rack-r2", "rack-r3"}

			queue, err := router.SelectQueue("abc123")
			Ω(err).ShouldNot(HaveOccurred())
			Ω(queue).Should(Equal("agent:rack-r2"))
		})

		It("fails, naming the system, when nothing can reach the BMC", func() {
			inv.vlans["lonely1"] = 5099

			_, err := router.SelectQueue("lonely1")
			Ω(err).Should(HaveOccurred())
			Ω(err).Should(BeAssignableToTypeOf(UnroutableError{}))
			Ω(err.(UnroutableError).SystemID).Should(Equal("lonely1"))
			Ω(err.Error()).Should(ContainSubstring("lonely1"))
		})
	})

	Describe("Dispatch", func() {
		BeforeEach(func() {
			inv.vlans["abc123"] = 5002
			inv.connected[5002] = []string{"rack-r1"}
			inv.vlans["def456"] = 5003
			inv.connected[5003] = []string{"rack-r4"}
			inv.vlans["lonely1"] = 5099
		})

		It("fans a batch out to each target's own queue", func() {
			dispatches, errs := router.Dispatch(PowerCycle, []string{"abc123", "def456"})
			Ω(errs).Should(BeEmpty())
			Ω(dispatches).Should(Equal([]Dispatch{
				{SystemID: "abc123", Queue: "vlan:5002", Action: PowerCycle},
				{SystemID: "def456", Queue: "vlan:5003", Action: PowerCycle},
			}))
		})

		It("produces no queue entry for an unroutable target", func() {
			dispatches, errs := router.Dispatch(PowerOff, []string{"abc123", "lonely1"})
			Ω(dispatches).Should(HaveLen(1))
			Ω(dispatches[0].SystemID).Should(Equal("abc123"))

			Ω(errs).Should(HaveLen(1))
			Ω(errs[0]).Should(BeAssignableToTypeOf(UnroutableError{}))
		})
	})
})
