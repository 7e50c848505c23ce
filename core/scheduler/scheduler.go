package scheduler

import (
	"fmt"
	"sync"
)

const MaxPriority = 100

/* prioritization discipline

    1 - ad hoc power actions
   10 - ad hoc image download / delete
   30 - scheduled rack image sync
   50 - scheduled cache cleanup
*/

type Scheduler struct {
	lock    sync.Mutex
	workers []*Worker
	chores  [][]Chore
}

func New(workers int) *Scheduler {
	pool := make([]*Worker, workers)
	for i := range pool {
		pool[i] = NewWorker()
	}

	return &Scheduler{
		workers: pool,
		chores:  make([][]Chore, MaxPriority),
	}
}

func (s *Scheduler) Schedule(priority int, chore Chore) error {
	if priority < 1 || priority > MaxPriority {
		return fmt.Errorf("invalid run priority '%d'; must be between 1 (highest) and %d (lowest)", priority, MaxPriority)
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.chores[priority-1] = append(s.chores[priority-1], chore)
	return nil
}

func (s *Scheduler) Run() {
	prio := 0

	s.lock.Lock()
	defer s.lock.Unlock()

	for _, worker := range s.workers {
		if !worker.Available() {
			continue
		}

		for len(s.chores[prio]) == 0 {
			prio += 1
			if prio == MaxPriority {
				return
			}
		}

		chore := s.chores[prio][0]
		s.chores[prio] = s.chores[prio][1:]

		go worker.Execute(chore)
	}
}
