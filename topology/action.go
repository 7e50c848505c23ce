package topology

import (
	"fmt"
)

// Action is the closed set of out-of-band commands that can be
// dispatched to a BMC.  Unknown verbs never make it past ParseAction,
// so dispatch code can match exhaustively.
type Action int

const (
	PowerOn Action = iota
	PowerOff
	PowerCycle
	PowerQuery
)

func (a Action) String() string {
	switch a {
	case PowerOn:
		return "power-on"
	case PowerOff:
		return "power-off"
	case PowerCycle:
		return "power-cycle"
	case PowerQuery:
		return "power-query"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// ParseAction maps an action name from the wire onto its Action.  An
// unknown name is rejected here, before any fan-out happens.
func ParseAction(name string) (Action, error) {
	switch name {
	case "power-on":
		return PowerOn, nil
	case "power-off":
		return PowerOff, nil
	case "power-cycle":
		return PowerCycle, nil
	case "power-query":
		return PowerQuery, nil
	}
	return 0, fmt.Errorf("unrecognized power action '%s'", name)
}
