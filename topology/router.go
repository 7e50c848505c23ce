package topology

import (
	"fmt"

	"github.com/jhunt/go-log"
)

// Inventory is what the Router needs to know about the fleet: which
// VLAN a machine's BMC sits on, which rack agents are wired straight
// into a VLAN, and which can route to a BMC over layer 3.  The region
// database implements it; tests substitute fakes.
type Inventory interface {
	BMCVLAN(systemID string) (int, error)
	ConnectedRacks(vlan int) ([]string, error)
	RoutableRacks(systemID string, liveOnly bool) ([]string, error)
}

// UnroutableError means no rack agent, connected or routed, can reach
// the BMC of the named system.  It is terminal until the topology
// changes; retrying will not help.
type UnroutableError struct {
	SystemID string
}

func (e UnroutableError) Error() string {
	return fmt.Sprintf("no rack agent has a network path to the BMC of system %s", e.SystemID)
}

// A Dispatch is one sub-operation of a batch command: this action, for
// this system, on this queue.
type Dispatch struct {
	SystemID string
	Queue    string
	Action   Action
}

// VLANQueue names the execution context shared by all rack agents
// directly attached to a VLAN.
func VLANQueue(vlan int) string {
	return fmt.Sprintf("vlan:%d", vlan)
}

// AgentQueue names the execution context owned by a single rack
// agent.
func AgentQueue(rack string) string {
	return fmt.Sprintf("agent:%s", rack)
}

type Router struct {
	inventory Inventory
}

func NewRouter(inventory Inventory) *Router {
	return &Router{inventory: inventory}
}

// SelectQueue picks the execution context for commands aimed at the
// given system's BMC.  A rack agent on the BMC's own VLAN always wins
// (lowest latency, no routing ambiguity); failing that, any live
// agent with a routed path will do; failing both, the target is
// unroutable.
func (r *Router) SelectQueue(systemID string) (string, error) {
	vlan, err := r.inventory.BMCVLAN(systemID)
	if err != nil {
		return "", err
	}

	connected, err := r.inventory.ConnectedRacks(vlan)
	if err != nil {
		return "", err
	}
	if len(connected) > 0 {
		return VLANQueue(vlan), nil
	}

	routable, err := r.inventory.RoutableRacks(systemID, true)
	if err != nil {
		return "", err
	}
	if len(routable) > 0 {
		return AgentQueue(routable[0]), nil
	}

	return "", UnroutableError{SystemID: systemID}
}

// Dispatch resolves a queue for every target of a batch command,
// independently, so a batch spanning two VLANs fans out to two
// queues.  Targets that resolve are returned as Dispatches; targets
// that do not get no queue entry and come back as errors for the
// caller to surface.
func (r *Router) Dispatch(action Action, targets []string) ([]Dispatch, []error) {
	var (
		dispatches []Dispatch
		errs       []error
	)

	for _, systemID := range targets {
		queue, err := r.SelectQueue(systemID)
		if err != nil {
			log.Errorf("unable to dispatch %s to system %s: %s", action, systemID, err)
			errs = append(errs, err)
			continue
		}
		dispatches = append(dispatches, Dispatch{
			SystemID: systemID,
			Queue:    queue,
			Action:   action,
		})
	}

	return dispatches, errs
}
