package scheduler

import (
	"fmt"
)

// A Chore is one unit of work handed to the worker pool: the body of
// a workflow run, bound to the run record that outlives it.  Output
// and exit status flow back over channels so that the core can drain
// them into the run's durable log without the chore body knowing
// anything about the database.
type Chore struct {
	RunUUID string
	Queue   string
	Key     string

	Do func(chore Chore)

	Stdout chan string
	Stderr chan string
	Exit   chan int
	Cancel chan bool
}

func NewChore(id string, do func(Chore)) Chore {
	return Chore{
		RunUUID: id,
		Do:      do,

		Stdout: make(chan string),
		Stderr: make(chan string),
		Exit:   make(chan int),
		Cancel: make(chan bool),
	}
}

func (chore Chore) String() string {
	return fmt.Sprintf("chore %s", chore.RunUUID)
}

func (chore Chore) Infof(msg string, args ...interface{}) {
	chore.Stdout <- fmt.Sprintf(msg+"\n", args...)
}

func (chore Chore) Errorf(msg string, args ...interface{}) {
	chore.Stderr <- fmt.Sprintf(msg+"\n", args...)
}

func (chore Chore) UnixExit(rc int) {
	chore.Exit <- rc
	close(chore.Exit)
}

// Canceled reports, without blocking, whether this chore's run has
// been canceled.  Chore bodies check it between steps; a long-running
// step that already started is allowed to finish.
func (chore Chore) Canceled() bool {
	select {
	case <-chore.Cancel:
		return true
	default:
		return false
	}
}

func (w *Worker) Execute(chore Chore) {
	w.Reserve(chore.RunUUID)
	defer w.Release()

	chore.Do(chore)
}
