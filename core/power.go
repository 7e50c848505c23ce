package core

import (
	"encoding/json"
	"fmt"

	"github.com/jhunt/go-log"

	"github.com/anvilproject/anvil/db"
	"github.com/anvilproject/anvil/topology"
)

// DispatchPower routes a power action to the rack queue closest to
// each target machine's BMC, and records one workflow run per
// reachable target.  Unroutable targets come back as errors; the
// routable ones proceed regardless.
func (c *Core) DispatchPower(action topology.Action, systemIDs []string) ([]*db.Run, []error) {
	dispatches, errs := c.router.Dispatch(action, systemIDs)

	runs := []*db.Run{}
	for _, d := range dispatches {
		address, err := c.db.GetBMCAddress(d.SystemID)
		if err != nil {
			errs = append(errs, fmt.Errorf("machine %s: %s", d.SystemID, err))
			continue
		}

		params, err := json.Marshal(struct {
			SystemID   string `json:"system_id"`
			Action     string `json:"action"`
			BMCAddress string `json:"bmc_address"`
		}{
			SystemID:   d.SystemID,
			Action:     d.Action.String(),
			BMCAddress: address,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}

		run, err := c.db.CreateRun(
			d.Action.String(),
			fmt.Sprintf("power:%s:%s", d.Action, d.SystemID),
			d.Queue,
			string(params),
			c.Config.Workflow.MaxAttempts,
		)
		if err != nil {
			errs = append(errs, fmt.Errorf("machine %s: %s", d.SystemID, err))
			continue
		}

		log.Infof("dispatched %s of machine %s as run %s on queue '%s'", d.Action, d.SystemID, run.UUID, run.Queue)
		runs = append(runs, run)
	}

	return runs, errs
}
