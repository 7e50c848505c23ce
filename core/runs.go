package core

import (
	"strings"

	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/core/bus"
	"github.com/anvilproject/anvil/core/fabric"
	"github.com/anvilproject/anvil/core/scheduler"
	"github.com/anvilproject/anvil/db"
)

// RunsToChores claims pending workflow runs and hands them to the
// scheduler.  The idempotency key carries the in-flight accounting:
// a key that is already running stays out of the backlog, so one
// logical operation occupies at most one worker at a time.
func (c *Core) RunsToChores() {
	log.Infof("SCHEDULER: converting runs (database) into chores (scheduler)")

	inflight := make(map[string]bool)
	if active, err := c.db.GetAllRuns(&db.RunFilter{ForStatus: db.RunningStatus}); err != nil {
		log.Errorf("unable to retrieve running runs from database, in order to avoid scheduling conflicts: %s", err)
		return
	} else {
		for _, run := range active {
			inflight[run.Key] = true
		}
	}

	runs, err := c.db.GetAllRuns(&db.RunFilter{ForStatus: db.PendingStatus})
	if err != nil {
		log.Errorf("unable to retrieve pending runs from database, in order to schedule them: %s", err)
		return
	}

	for _, run := range runs {
		if inflight[run.Key] {
			log.Infof("SCHEDULER: SKIPPING [%s] run %s; another run with key '%s' is already in-flight", run.Op, run.UUID, run.Key)
			continue
		}

		log.Infof("SCHEDULER: scheduling [%s] run %s on queue '%s'", run.Op, run.UUID, run.Queue)

		f, err := c.FabricFor(run)
		if err != nil {
			log.Errorf("unable to find a fabric to facilitate execution of [%s] run %s: %s", run.Op, run.UUID, err)
			f = fabric.Error(err)
		}

		var chore scheduler.Chore
		priority := 20

		switch run.Op {
		case db.PowerOnOperation, db.PowerOffOperation, db.PowerCycleOperation, db.PowerQueryOperation:
			chore = f.Power(run)
			priority = 1

		case db.DownloadOperation:
			chore = f.Download(run)
			priority = 10

		case db.DeleteOperation:
			chore = f.Delete(run)
			priority = 10

		case db.SyncOperation:
			chore = f.Sync(run)
			priority = 30

		case db.CleanupOperation:
			chore = f.Cleanup(run)
			priority = 50

		default:
			log.Errorf("unrecognized run type '%s'; failing run %s", run.Op, run.UUID)
			c.db.AppendRunLog(run.UUID, "unrecognized run type '"+run.Op+"'\n")
			c.db.FailRun(run.UUID, "unrecognized run type")
			continue
		}

		chore.Queue = run.Queue
		chore.Key = run.Key

		if err := c.db.StartRun(run.UUID); err != nil {
			log.Errorf("unable to mark run %s as 'running' in the database: %s", run.UUID, err)
			continue
		}
		c.bus.Send(bus.RunStatusUpdateEvent, "run", map[string]interface{}{
			"uuid":   run.UUID,
			"op":     run.Op,
			"status": db.RunningStatus,
			"was":    db.PendingStatus,
		}, "*")

		c.watchChore(run, chore)
		if err := c.scheduler.Schedule(priority, chore); err != nil {
			log.Errorf("unable to schedule [%s] run %s: %s", run.Op, run.UUID, err)
			c.forgetChore(run.UUID)
			c.db.RequeueRun(run.UUID, "scheduler refused the chore")
			continue
		}

		inflight[run.Key] = true
	}
}

// CancelRun cancels a workflow run.  If the run's chore is already on
// a worker, the chore's cancel channel is closed so that the body can
// bail out at its next step boundary; either way the database guards
// keep the late-settling worker from resurrecting the run.
func (c *Core) CancelRun(id string) error {
	if err := c.db.CancelRun(id); err != nil {
		return err
	}

	c.lock.Lock()
	if ch, ok := c.chores[id]; ok {
		close(ch)
		delete(c.chores, id)
	}
	c.lock.Unlock()
	return nil
}

func (c *Core) rememberChore(chore scheduler.Chore) {
	c.lock.Lock()
	if c.chores == nil {
		c.chores = make(map[string]chan bool)
	}
	c.chores[chore.RunUUID] = chore.Cancel
	c.lock.Unlock()
}

func (c *Core) forgetChore(id string) {
	c.lock.Lock()
	delete(c.chores, id)
	c.lock.Unlock()
}

// watchChore drains a chore's output into the run's durable log, and
// settles the run when the chore exits: success completes it, failure
// either re-queues it (attempts remain) or fails it terminally.  An
// integrity exit fails immediately, no matter how many attempts are
// left, and a run canceled mid-flight is left canceled.
func (c *Core) watchChore(run *db.Run, chore scheduler.Chore) {
	c.rememberChore(chore)

	go func() {
		for s := range chore.Stdout {
			c.handleOutput(run, s)
		}
	}()
	go func() {
		for s := range chore.Stderr {
			c.handleOutput(run, s)
		}
	}()
	go func() {
		rc := <-chore.Exit
		c.forgetChore(run.UUID)

		current, err := c.db.GetRun(run.UUID)
		if err != nil || current == nil {
			log.Errorf("  %s: !! failed to re-read run from database: %s", run.UUID, err)
			return
		}
		if current.Status == db.CanceledStatus {
			log.Infof("  %s: run was canceled while in flight; discarding rc=%d", run.UUID, rc)
			return
		}

		if rc == 0 {
			log.Infof("  %s: run completed successfully", run.UUID)
			if err := c.db.CompleteRun(run.UUID); err != nil {
				log.Errorf("  %s: !! failed to update database: %s", run.UUID, err)
			}
			c.bus.Send(bus.RunStatusUpdateEvent, "run", map[string]interface{}{
				"uuid":   run.UUID,
				"op":     run.Op,
				"status": db.DoneStatus,
				"was":    db.RunningStatus,
			}, "*")
			return
		}

		if rc == fabric.IntegrityExit {
			log.Warnf("  %s: run failed an integrity check; not retrying", run.UUID)
			if err := c.db.FailRun(run.UUID, "content failed integrity verification"); err != nil {
				log.Errorf("  %s: !! failed to update database: %s", run.UUID, err)
			}
			c.bus.Send(bus.RunStatusUpdateEvent, "run", map[string]interface{}{
				"uuid":   run.UUID,
				"op":     run.Op,
				"status": db.FailedStatus,
				"was":    db.RunningStatus,
			}, "*")
			return
		}

		if current.Attempts < current.MaxAttempts {
			log.Warnf("  %s: run failed (attempt %d of %d); re-queueing...", run.UUID, current.Attempts, current.MaxAttempts)
			if err := c.db.RequeueRun(run.UUID, "remote execution failed; retrying"); err != nil {
				log.Errorf("  %s: !! failed to update database: %s", run.UUID, err)
			}
			c.bus.Send(bus.RunStatusUpdateEvent, "run", map[string]interface{}{
				"uuid":   run.UUID,
				"op":     run.Op,
				"status": db.PendingStatus,
				"was":    db.RunningStatus,
			}, "*")
			return
		}

		log.Warnf("  %s: run failed terminally after %d attempts", run.UUID, current.Attempts)
		if err := c.db.FailRun(run.UUID, "remote execution failed; out of attempts"); err != nil {
			log.Errorf("  %s: !! failed to update database: %s", run.UUID, err)
		}
		c.bus.Send(bus.RunStatusUpdateEvent, "run", map[string]interface{}{
			"uuid":   run.UUID,
			"op":     run.Op,
			"status": db.FailedStatus,
			"was":    db.RunningStatus,
		}, "*")
	}()
}

func (c *Core) handleOutput(run *db.Run, s string) {
	log.Infof("  %s> %s", run.UUID, strings.Trim(s, "\n"))
	if err := c.db.AppendRunLog(run.UUID, s); err != nil {
		log.Errorf("  %s: !! failed to update database: %s", run.UUID, err)
	}
	c.bus.Send(bus.RunLogUpdateEvent, "run", map[string]interface{}{
		"uuid": run.UUID,
		"tail": s,
	}, "*")
}
