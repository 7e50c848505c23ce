package scheduler

import (
	"fmt"
	"time"

	"github.com/jhunt/go-log"
)

var serial = 0

type Worker struct {
	id        int
	available bool
	run       string
	last      int64
}

func NewWorker() *Worker {
	serial += 1
	return &Worker{
		id:        serial,
		available: true,
	}
}

func (w *Worker) String() string {
	return fmt.Sprintf("worker w#%03d", w.id)
}

func (w *Worker) Available() bool {
	return w.available
}

func (w *Worker) Reserve(run string) {
	log.Debugf("reserving %s for run %s...", w, run)
	w.available = false
	w.run = run
	w.last = time.Now().Unix()
}

func (w *Worker) Release() {
	log.Debugf("releasing %s...", w)
	w.available = true
	w.run = ""
	w.last = time.Now().Unix()
}
