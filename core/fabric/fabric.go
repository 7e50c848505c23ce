package fabric

import (
	"encoding/json"

	"github.com/anvilproject/anvil/core/scheduler"
	"github.com/anvilproject/anvil/db"
)

// IntegrityExit is the exit code a rack agent reports when content
// failed signature or digest verification.  Part of the wire contract
// with the agent; the core fails such runs immediately instead of
// retrying them.
const IntegrityExit = 3

// A Fabric turns a claimed workflow run into an executable chore.
// The core does not care how the work reaches the rack agent; the
// fabric does.
type Fabric interface {
	Download(*db.Run) scheduler.Chore
	Sync(*db.Run) scheduler.Chore
	Cleanup(*db.Run) scheduler.Chore
	Delete(*db.Run) scheduler.Chore
	Power(*db.Run) scheduler.Chore
	Status(*db.Run) scheduler.Chore
}

// Command is the payload shipped to the rack agent.  Params is the
// run's parameter document, passed through verbatim; the agent
// interprets it per operation.
type Command struct {
	Op      string          `json:"operation"`
	RunUUID string          `json:"run_uuid,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}
