package scheduler_test

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/anvilproject/anvil/core/scheduler"
)

var _ = Describe("Scheduler", func() {
	noop := func(chore scheduler.Chore) {}

	chore := func(id string) scheduler.Chore {
		return scheduler.NewChore(id, noop)
	}

	Describe("Scheduling Chores", func() {
		It("rejects priorities outside of [1, MaxPriority]", func() {
			s := scheduler.New(1)
			Ω(s.Schedule(0, chore("nope"))).ShouldNot(Succeed())
			Ω(s.Schedule(-1, chore("nope"))).ShouldNot(Succeed())
			Ω(s.Schedule(scheduler.MaxPriority+1, chore("nope"))).ShouldNot(Succeed())
		})

		It("accepts priorities in [1, MaxPriority]", func() {
			s := scheduler.New(1)
			Ω(s.Schedule(1, chore("power"))).Should(Succeed())
			Ω(s.Schedule(scheduler.MaxPriority, chore("whenever"))).Should(Succeed())
		})
	})

	Describe("Running Chores", func() {
		It("hands the highest-priority chore to the only available worker", func() {
			ran := make(chan string, 2)
			track := func(id string) scheduler.Chore {
				return scheduler.NewChore(id, func(chore scheduler.Chore) {
					ran <- id
				})
			}

			s := scheduler.New(1)
			Ω(s.Schedule(50, track("cleanup"))).Should(Succeed())
			Ω(s.Schedule(1, track("power"))).Should(Succeed())

			s.Run()
			Eventually(ran).Should(Receive(Equal("power")))

			st := s.Status()
			Ω(len(st.Backlog)).Should(Equal(1))
			Ω(st.Backlog[0].RunUUID).Should(Equal("cleanup"))
		})

		It("runs chores on as many workers as are available", func() {
			ran := make(chan string, 4)
			track := func(id string) scheduler.Chore {
				return scheduler.NewChore(id, func(chore scheduler.Chore) {
					ran <- id
				})
			}

			s := scheduler.New(4)
			for _, id := range []string{"a", "b", "c"} {
				Ω(s.Schedule(10, track(id))).Should(Succeed())
			}

			s.Run()
			for i := 0; i < 3; i++ {
				Eventually(ran).Should(Receive())
			}
			Eventually(func() int { return len(s.Status().Backlog) }).Should(Equal(0))
		})
	})

	Describe("Priority Elevation", func() {
		It("promotes waiting chores toward the front", func() {
			s := scheduler.New(0)
			Ω(s.Schedule(30, chore("sync"))).Should(Succeed())
			Ω(s.Schedule(50, chore("cleanup"))).Should(Succeed())

			s.Elevate()

			st := s.Status()
			Ω(len(st.Backlog)).Should(Equal(2))
			Ω(st.Backlog[0].Priority).Should(BeNumerically("<", 29))
			Ω(st.Backlog[0].RunUUID).Should(Equal("sync"))
		})

		It("moves waiting top-priority chores behind the newly promoted ones", func() {
			s := scheduler.New(0)
			Ω(s.Schedule(1, chore("power"))).Should(Succeed())
			Ω(s.Schedule(30, chore("sync"))).Should(Succeed())

			s.Elevate()

			st := s.Status()
			Ω(len(st.Backlog)).Should(Equal(2))
			Ω(st.Backlog[0].Priority).Should(Equal(0))
			Ω(st.Backlog[0].RunUUID).Should(Equal("sync"))
			Ω(st.Backlog[1].Priority).Should(Equal(0))
			Ω(st.Backlog[1].RunUUID).Should(Equal("power"))
		})
	})

	Describe("Status", func() {
		It("reports every worker, idle or not", func() {
			s := scheduler.New(3)
			st := s.Status()
			Ω(len(st.Workers)).Should(Equal(3))
			for _, w := range st.Workers {
				Ω(w.Idle).Should(BeTrue())
			}
		})
	})
})
