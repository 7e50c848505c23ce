package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pborman/uuid"
)

const (
	DownloadOperation = "download"
	SyncOperation     = "sync"
	CleanupOperation  = "cleanup"
	DeleteOperation   = "delete"

	PowerOnOperation    = "power-on"
	PowerOffOperation   = "power-off"
	PowerCycleOperation = "power-cycle"
	PowerQueryOperation = "power-query"

	PendingStatus  = "pending"
	RunningStatus  = "running"
	CanceledStatus = "canceled"
	FailedStatus   = "failed"
	DoneStatus     = "done"
)

// A Run is one durable workflow operation: who asked for what, on
// which queue, how far it has gotten, and why it stopped if it did.
// The idempotency key guarantees at most one active Run per logical
// operation; re-dispatch coalesces onto the Run already in flight.
type Run struct {
	UUID        string `json:"uuid"`
	Op          string `json:"op"`
	Key         string `json:"key"`
	Queue       string `json:"queue"`
	Status      string `json:"status"`
	Params      string `json:"params,omitempty"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	RequestedAt int64  `json:"requested_at"`
	StartedAt   int64  `json:"started_at,omitempty"`
	StoppedAt   int64  `json:"stopped_at,omitempty"`
	Log         string `json:"log,omitempty"`
	Cause       string `json:"cause,omitempty"`
}

func (r *Run) Active() bool {
	return r.Status == PendingStatus || r.Status == RunningStatus
}

type RunFilter struct {
	UUID       string
	Key        string
	Queue      string
	ForOp      string
	ForStatus  string
	OnlyActive bool
	Limit      int
}

func (f *RunFilter) Query() (string, []interface{}) {
	wheres := []string{"r.uuid = r.uuid"}
	var args []interface{}

	if f.UUID != "" {
		wheres = append(wheres, "r.uuid = ?")
		args = append(args, f.UUID)
	}
	if f.Key != "" {
		wheres = append(wheres, "r.idem_key = ?")
		args = append(args, f.Key)
	}
	if f.Queue != "" {
		wheres = append(wheres, "r.queue = ?")
		args = append(args, f.Queue)
	}
	if f.ForOp != "" {
		wheres = append(wheres, "r.op = ?")
		args = append(args, f.ForOp)
	}
	if f.ForStatus != "" {
		wheres = append(wheres, "r.status = ?")
		args = append(args, f.ForStatus)
	} else if f.OnlyActive {
		wheres = append(wheres, "r.status IN ('pending', 'running')")
	}

	limit := ""
	if f.Limit > 0 {
		limit = " LIMIT ?"
		args = append(args, f.Limit)
	}

	return `
	   SELECT r.uuid, r.op, r.idem_key, r.queue, r.status, r.params,
	          r.attempts, r.max_attempts,
	          r.requested_at, r.started_at, r.stopped_at,
	          r.log, r.cause

	     FROM runs r

	    WHERE ` + strings.Join(wheres, " AND ") + `
	 ORDER BY r.requested_at DESC, r.uuid ASC
	` + limit, args
}

func (db *DB) GetAllRuns(filter *RunFilter) ([]*Run, error) {
	if filter == nil {
		filter = &RunFilter{}
	}

	l := []*Run{}
	query, args := filter.Query()
	r, err := db.Query(query, args...)
	if err != nil {
		return l, err
	}
	defer r.Close()

	for r.Next() {
		run := &Run{}
		var started, stopped sql.NullInt64
		if err = r.Scan(
			&run.UUID, &run.Op, &run.Key, &run.Queue, &run.Status, &run.Params,
			&run.Attempts, &run.MaxAttempts,
			&run.RequestedAt, &started, &stopped,
			&run.Log, &run.Cause); err != nil {
			return l, err
		}
		if started.Valid {
			run.StartedAt = started.Int64
		}
		if stopped.Valid {
			run.StoppedAt = stopped.Int64
		}

		l = append(l, run)
	}

	return l, nil
}

func (db *DB) GetRun(id string) (*Run, error) {
	all, err := db.GetAllRuns(&RunFilter{UUID: id})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all[0], nil
}

// CreateRun records a new workflow run, unless a run with the same
// idempotency key is already pending or running, in which case the
// in-flight run is returned instead and no new row is created.  The
// check and the insert happen under the writer lock, so two
// dispatchers cannot both create a run for the same key.
func (db *DB) CreateRun(op, key, queue, params string, maxAttempts int) (*Run, error) {
	if key == "" {
		return nil, fmt.Errorf("cannot create a %s run without an idempotency key", op)
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var run *Run
	err := db.exclusively(func() error {
		active, err := db.GetAllRuns(&RunFilter{Key: key, OnlyActive: true})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			run = active[0]
			return nil
		}

		id := uuid.NewRandom().String()
		err = db.Exec(
			`INSERT INTO runs (uuid, op, idem_key, queue, status, params,
			                   attempts, max_attempts, requested_at)
			           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, op, key, queue, PendingStatus, params,
			0, maxAttempts, time.Now().Unix(),
		)
		if err != nil {
			return err
		}

		run, err = db.GetRun(id)
		return err
	})

	return run, err
}

// StartRun claims a pending run for execution.  It only succeeds for
// runs still in the pending state, so exactly one worker wins.
func (db *DB) StartRun(id string) error {
	return db.Exec(
		`UPDATE runs SET status = ?, started_at = ?, attempts = attempts + 1
		  WHERE uuid = ? AND status = ?`,
		RunningStatus, time.Now().Unix(), id, PendingStatus,
	)
}

// CompleteRun marks a run as having succeeded, after its side effects
// have been durably recorded.  Only a running run can settle; a run
// canceled while its worker was in flight stays canceled.
func (db *DB) CompleteRun(id string) error {
	return db.Exec(
		`UPDATE runs SET status = ?, stopped_at = ? WHERE uuid = ? AND status = ?`,
		DoneStatus, time.Now().Unix(), id, RunningStatus,
	)
}

// FailRun marks a run as failed, preserving the cause for the status
// API.  Terminal failures must stay visible; they are never deleted
// out from under the operator.  Like CompleteRun, it never overwrites
// a cancellation.
func (db *DB) FailRun(id, cause string) error {
	return db.Exec(
		`UPDATE runs SET status = ?, stopped_at = ?, cause = ?
		  WHERE uuid = ? AND status IN ('pending', 'running')`,
		FailedStatus, time.Now().Unix(), cause, id,
	)
}

// RequeueRun puts a retryably-failed run back in the pending state so
// that a (possibly different) worker picks it up again.  The attempt
// count survives; StartRun keeps incrementing it.  A canceled or
// already-settled run is left alone.
func (db *DB) RequeueRun(id, cause string) error {
	return db.Exec(
		`UPDATE runs SET status = ?, cause = ?
		  WHERE uuid = ? AND status IN ('pending', 'running')`,
		PendingStatus, cause, id,
	)
}

func (db *DB) CancelRun(id string) error {
	return db.Exec(
		`UPDATE runs SET status = ?, stopped_at = ?
		  WHERE uuid = ? AND status IN ('pending', 'running')`,
		CanceledStatus, time.Now().Unix(), id,
	)
}

// AppendRunLog appends output from the executing worker to the run's
// log.
func (db *DB) AppendRunLog(id, more string) error {
	return db.Exec(
		`UPDATE runs SET log = log || ? WHERE uuid = ?`,
		more, id,
	)
}

// CleanupLeftoverRuns catches runs stranded in the running state by a
// worker that died.  They go back to pending; every operation is
// idempotent, so re-execution is safe.
func (db *DB) CleanupLeftoverRuns() error {
	return db.Exec(
		`UPDATE runs SET status = ?,
		                 cause = 'found in running state at boot; re-queued'
		  WHERE status = ?`,
		PendingStatus, RunningStatus,
	)
}

// TruncateRunLogs drops the logs of runs that stopped more than age
// seconds ago, to keep the database from growing without bound.
func (db *DB) TruncateRunLogs(age int) error {
	return db.Exec(
		`UPDATE runs SET log = '' WHERE stopped_at IS NOT NULL AND stopped_at < ?`,
		time.Now().Unix()-int64(age),
	)
}
