package fabric

import (
	"time"

	"github.com/anvilproject/anvil/core/scheduler"
	"github.com/anvilproject/anvil/db"
)

// Dummy is a test/dev fabric that pretends every operation succeeds
// after an optional delay.  Useful for exercising the scheduler and
// the run lifecycle without any rack agents.
func Dummy(delay int) DummyFabric {
	return DummyFabric{
		delay: delay,
	}
}

type DummyFabric struct {
	delay int
}

func (f DummyFabric) Sleep() {
	if f.delay > 0 {
		time.Sleep(time.Duration(f.delay) * time.Second)
	}
}

func (f DummyFabric) chore(op string, run *db.Run) scheduler.Chore {
	return scheduler.NewChore(
		run.UUID,
		func(chore scheduler.Chore) {
			chore.Errorf("DUMMY> starting a %s operation; delay is %ds", op, f.delay)
			chore.Errorf("DUMMY>")
			chore.Errorf("DUMMY>   queue:  '%s'", run.Queue)
			chore.Errorf("DUMMY>   params: '%s'", run.Params)
			f.Sleep()
			chore.Errorf("DUMMY>")
			chore.Errorf("DUMMY> %s operation complete.", op)
			chore.UnixExit(0)
		})
}

func (f DummyFabric) Download(run *db.Run) scheduler.Chore {
	return f.chore("download", run)
}

func (f DummyFabric) Sync(run *db.Run) scheduler.Chore {
	return f.chore("sync", run)
}

func (f DummyFabric) Cleanup(run *db.Run) scheduler.Chore {
	return f.chore("cleanup", run)
}

func (f DummyFabric) Delete(run *db.Run) scheduler.Chore {
	return f.chore("delete", run)
}

func (f DummyFabric) Power(run *db.Run) scheduler.Chore {
	return f.chore("power", run)
}

func (f DummyFabric) Status(run *db.Run) scheduler.Chore {
	return f.chore("agent-status", run)
}
