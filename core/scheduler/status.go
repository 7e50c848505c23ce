package scheduler

type BacklogStatus struct {
	Priority int    `json:"priority"`
	Position int    `json:"position"`
	RunUUID  string `json:"run_uuid"`
	Queue    string `json:"queue"`
}

type WorkerStatus struct {
	ID       int    `json:"id"`
	Idle     bool   `json:"idle"`
	RunUUID  string `json:"run_uuid"`
	LastSeen int64  `json:"last_seen"`
}

type Status struct {
	Backlog []BacklogStatus `json:"backlog"`
	Workers []WorkerStatus  `json:"workers"`
}

func (s *Scheduler) Status() Status {
	status := Status{
		Workers: make([]WorkerStatus, len(s.workers)),
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	for i, w := range s.workers {
		status.Workers[i].ID = w.id
		status.Workers[i].Idle = w.available
		status.Workers[i].RunUUID = w.run
		status.Workers[i].LastSeen = w.last
	}

	for prio, lst := range s.chores {
		for i, chore := range lst {
			status.Backlog = append(status.Backlog, BacklogStatus{
				Priority: prio,
				Position: i,
				RunUUID:  chore.RunUUID,
				Queue:    chore.Queue,
			})
		}
	}

	return status
}
