package fabric

import (
	"github.com/anvilproject/anvil/core/scheduler"
	"github.com/anvilproject/anvil/db"
)

// Error is the fabric of last resort, handed out when no rack agent
// can be resolved for a run's queue.  Every chore it produces fails
// immediately with the underlying error.
func Error(err error) ErrorFabric {
	return ErrorFabric{e: err}
}

type ErrorFabric struct {
	e error
}

func (f ErrorFabric) Error() string {
	return f.e.Error()
}

func (f ErrorFabric) chore(run *db.Run) scheduler.Chore {
	return scheduler.NewChore(
		run.UUID,
		func(chore scheduler.Chore) {
			chore.Errorf("ERR> %s", f)
			chore.UnixExit(1)
		})
}

func (f ErrorFabric) Download(run *db.Run) scheduler.Chore {
	return f.chore(run)
}

func (f ErrorFabric) Sync(run *db.Run) scheduler.Chore {
	return f.chore(run)
}

func (f ErrorFabric) Cleanup(run *db.Run) scheduler.Chore {
	return f.chore(run)
}

func (f ErrorFabric) Delete(run *db.Run) scheduler.Chore {
	return f.chore(run)
}

func (f ErrorFabric) Power(run *db.Run) scheduler.Chore {
	return f.chore(run)
}

func (f ErrorFabric) Status(run *db.Run) scheduler.Chore {
	return f.chore(run)
}
