package bus_test

import (
	"fmt"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/anvilproject/anvil/core/bus"
)

var _ = Describe("Message Bus", func() {
	var b *bus.Bus

	BeforeEach(func() {
		b = bus.New(2, 5)
	})

	Describe("Registration", func() {
		It("hands out distinct client identifiers", func() {
			_, id1, err := b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())
			_, id2, err := b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())
			Ω(id1).ShouldNot(Equal(id2))
		})

		It("refuses registration once all slots are taken", func() {
			_, _, err := b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())
			_, _, err = b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())

			_, _, err = b.Register([]string{"*"})
			Ω(err).Should(HaveOccurred())
		})

		It("frees up the slot when a client unregisters", func() {
			_, id, err := b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())
			_, _, err = b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())

			b.Unregister(id)
			_, _, err = b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())
		})

		It("closes the event channel on unregistration", func() {
			ch, id, err := b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())

			b.Unregister(id)
			_, open := <-ch
			Ω(open).Should(BeFalse())
		})
	})

	Describe("Event Delivery", func() {
		It("delivers events, in wire form, to subscribed clients", func() {
			ch, _, err := b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())

			b.Send(bus.RunStatusUpdateEvent, "run", struct {
				UUID   string `json:"uuid"`
				Status string `json:"status"`
			}{UUID: "thing-1", Status: "running"}, "*")

			var ev bus.Event
			Eventually(ch).Should(Receive(&ev))
			Ω(ev.Event).Should(Equal(bus.RunStatusUpdateEvent))
			Ω(ev.Type).Should(Equal("run"))

			data, ok := ev.Data.(map[string]interface{})
			Ω(ok).Should(BeTrue())
			Ω(data["uuid"]).Should(Equal("thing-1"))
			Ω(data["status"]).Should(Equal("running"))
		})

		It("does not deliver events sent to queues a client did not subscribe to", func() {
			ch, _, err := b.Register([]string{"agent:rack-1"})
			Ω(err).ShouldNot(HaveOccurred())

			b.Send(bus.RackStatusUpdateEvent, "rack", nil, "agent:rack-2")
			Consistently(ch).ShouldNot(Receive())
		})

		It("unregisters a client that stops draining its channel", func() {
			ch, id, err := b.Register([]string{"*"})
			Ω(err).ShouldNot(HaveOccurred())

			// backlog is 5; the sixth undrained send evicts the client
			for i := 0; i < 6; i++ {
				b.Send(bus.RunLogUpdateEvent, "run", fmt.Sprintf("line %d", i), "*")
			}

			drained := 0
			for range ch {
				drained++
			}
			Ω(drained).Should(Equal(5))

			b.Unregister(id) // idempotent; the bus already dropped us
		})
	})
})
